package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// sqlDialect holds the metadata queries of a database/sql backed catalog.
type sqlDialect struct {
	name  string
	quote func(string) string
	// datasets returns (name, description) rows.
	datasets string
	// tables returns (table, description) rows for dataset $1.
	tables func(dataset string) (string, []any)
	// columns returns (table, column, type, description) rows for dataset $1.
	columns func(dataset string) (string, []any)
	// readOnly runs queries in a read-only transaction.
	readOnly bool
	// guard is executed on the connection before a query.
	guard string
}

// SQLCatalog is a Catalog over database/sql, used for MySQL and SQLite.
type SQLCatalog struct {
	db *sql.DB
	d  sqlDialect
}

var mysqlDialect = sqlDialect{
	name:  "MySQL",
	quote: func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
	datasets: `SELECT SCHEMA_NAME, '' FROM information_schema.SCHEMATA
WHERE SCHEMA_NAME NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
ORDER BY SCHEMA_NAME`,
	tables: func(ds string) (string, []any) {
		return `SELECT TABLE_NAME, TABLE_COMMENT FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME`, []any{ds}
	},
	columns: func(ds string) (string, []any) {
		return `SELECT TABLE_NAME, COLUMN_NAME, COLUMN_TYPE, COLUMN_COMMENT FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME, ORDINAL_POSITION`, []any{ds}
	},
	readOnly: true,
}

func quoteDouble(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

var sqliteDialect = sqlDialect{
	name:     "SQLite",
	quote:    quoteDouble,
	datasets: `SELECT name, '' FROM pragma_database_list WHERE name <> 'temp' ORDER BY seq`,
	tables: func(ds string) (string, []any) {
		return fmt.Sprintf(`SELECT name, '' FROM %s.sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%%' ORDER BY name`, quoteDouble(ds)), nil
	},
	columns: func(ds string) (string, []any) {
		return fmt.Sprintf(`SELECT m.name, p.name, p.type, '' FROM %s.sqlite_master m
JOIN pragma_table_info(m.name, ?) p
WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%%'
ORDER BY m.name, p.cid`, quoteDouble(ds)), []any{ds}
	},
	guard: "PRAGMA query_only = ON",
}

// OpenMySQL opens a MySQL warehouse. Nothing is dialed until first use.
func OpenMySQL(dsn string) (*SQLCatalog, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLCatalog{db: sql.OpenDB(conn), d: mysqlDialect}, nil
}

// OpenSQLite opens a SQLite warehouse file.
func OpenSQLite(path string) (*SQLCatalog, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, fmt.Errorf("missing sqlite path")
	}
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLCatalog{db: db, d: sqliteDialect}, nil
}

func (c *SQLCatalog) Dialect() string { return c.d.name }

func (c *SQLCatalog) Quote(ident string) string { return c.d.quote(ident) }

func (c *SQLCatalog) Close() error { return c.db.Close() }

func (c *SQLCatalog) Datasets(ctx context.Context) ([]Dataset, error) {
	rows, err := c.db.QueryContext(ctx, c.d.datasets)
	if err != nil {
		logx.Error().Err(err).Str("dialect", c.d.name).Msg("failed to list datasets")
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.Name, &d.Description); err != nil {
			return nil, errx.WrapSQL(err)
		}
		out = append(out, d)
	}
	return out, errx.WrapSQL(rows.Err())
}

func (c *SQLCatalog) Tables(ctx context.Context, dataset string) ([]Table, error) {
	q, args := c.d.tables(dataset)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		logx.Error().Err(err).Str("dataset", dataset).Msg("failed to list tables")
		return nil, errx.WrapSQL(err)
	}
	var tables []Table
	index := map[string]int{}
	for rows.Next() {
		t := Table{Dataset: dataset}
		if err := rows.Scan(&t.Name, &t.Description); err != nil {
			rows.Close()
			return nil, errx.WrapSQL(err)
		}
		index[t.Name] = len(tables)
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errx.WrapSQL(err)
	}

	q, args = c.d.columns(dataset)
	rows, err = c.db.QueryContext(ctx, q, args...)
	if err != nil {
		logx.Error().Err(err).Str("dataset", dataset).Msg("failed to list columns")
		return nil, errx.WrapSQL(err)
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		var col Column
		if err := rows.Scan(&table, &col.Name, &col.Type, &col.Description); err != nil {
			return nil, errx.WrapSQL(err)
		}
		if i, ok := index[table]; ok {
			tables[i].Columns = append(tables[i].Columns, col)
		}
	}
	return tables, errx.WrapSQL(rows.Err())
}

func (c *SQLCatalog) Query(ctx context.Context, query string, maxRows int) (*Rows, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, errx.WrapSQL(err)
	}
	defer conn.Close()

	var rows *sql.Rows
	switch {
	case c.d.readOnly:
		tx, txErr := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if txErr != nil {
			return nil, errx.WrapSQL(txErr)
		}
		defer func() { _ = tx.Rollback() }()
		rows, err = tx.QueryContext(ctx, query)
	default:
		if c.d.guard != "" {
			if _, err := conn.ExecContext(ctx, c.d.guard); err != nil {
				return nil, errx.WrapSQL(err)
			}
		}
		rows, err = conn.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(out.Values) >= maxRows {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		out.Values = append(out.Values, vals)
	}
	return out, rows.Err()
}

var _ Catalog = (*SQLCatalog)(nil)

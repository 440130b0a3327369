package datasource

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// PgxPool is the subset of pgxpool.Pool the catalog uses.
type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

const (
	pgDatasets = `SELECT n.nspname, COALESCE(obj_description(n.oid, 'pg_namespace'), '')
FROM pg_namespace n
WHERE n.nspname NOT IN ('information_schema', 'pg_catalog', 'pg_toast') AND n.nspname NOT LIKE 'pg_temp%'
ORDER BY n.nspname`

	pgTables = `SELECT c.relname, COALESCE(obj_description(c.oid, 'pg_class'), '')
FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'v', 'm', 'p')
ORDER BY c.relname`

	pgColumns = `SELECT c.relname, a.attname, format_type(a.atttypid, a.atttypmod), COALESCE(col_description(c.oid, a.attnum), '')
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relkind IN ('r', 'v', 'm', 'p') AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY c.relname, a.attnum`
)

// PostgresCatalog treats every schema as a dataset.
type PostgresCatalog struct {
	pool PgxPool
}

func NewPostgresCatalog(pool PgxPool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// OpenPostgres connects a pool to dsn.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return NewPostgresCatalog(pool), nil
}

func (c *PostgresCatalog) Dialect() string { return "PostgreSQL" }

func (c *PostgresCatalog) Quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func (c *PostgresCatalog) Close() error {
	c.pool.Close()
	return nil
}

func (c *PostgresCatalog) Datasets(ctx context.Context) ([]Dataset, error) {
	rows, err := c.pool.Query(ctx, pgDatasets)
	if err != nil {
		logx.Error().Err(err).Msg("failed to list schemas")
		return nil, errx.WrapPostgres(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Dataset, error) {
		var d Dataset
		err := row.Scan(&d.Name, &d.Description)
		return d, err
	})
	return out, errx.WrapPostgres(err)
}

func (c *PostgresCatalog) Tables(ctx context.Context, dataset string) ([]Table, error) {
	rows, err := c.pool.Query(ctx, pgTables, dataset)
	if err != nil {
		logx.Error().Err(err).Str("dataset", dataset).Msg("failed to list tables")
		return nil, errx.WrapPostgres(err)
	}
	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Table, error) {
		t := Table{Dataset: dataset}
		err := row.Scan(&t.Name, &t.Description)
		return t, err
	})
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.Name] = i
	}

	rows, err = c.pool.Query(ctx, pgColumns, dataset)
	if err != nil {
		logx.Error().Err(err).Str("dataset", dataset).Msg("failed to list columns")
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		var col Column
		if err := rows.Scan(&table, &col.Name, &col.Type, &col.Description); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		if i, ok := index[table]; ok {
			tables[i].Columns = append(tables[i].Columns, col)
		}
	}
	return tables, errx.WrapPostgres(rows.Err())
}

// Query runs query in a read-only transaction that is always rolled back.
func (c *PostgresCatalog) Query(ctx context.Context, query string, maxRows int) (*Rows, error) {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := &Rows{Columns: make([]string, len(fields))}
	for i, f := range fields {
		out.Columns[i] = f.Name
	}
	for rows.Next() {
		if maxRows > 0 && len(out.Values) >= maxRows {
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i := range vals {
			vals[i] = normalize(vals[i])
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Catalog = (*PostgresCatalog)(nil)

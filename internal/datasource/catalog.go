// Package datasource exposes a SQL warehouse to the SQL agent: dataset and
// table metadata for prompting, and read-only query execution.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Dataset is a group of tables: a Postgres schema, a MySQL database or an
// attached SQLite database.
type Dataset struct {
	Name        string
	Description string
	Tables      []Table
}

type Table struct {
	Dataset     string
	Name        string
	Description string
	Columns     []Column
}

// FullName is the dataset-qualified table name.
func (t Table) FullName() string {
	return t.Dataset + "." + t.Name
}

type Column struct {
	Name        string
	Type        string
	Description string
}

// Rows is a query result with its column order.
type Rows struct {
	Columns []string
	Values  [][]any
}

func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// MarshalJSON renders the rows as a list of objects keeping column order.
func (r *Rows) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range r.Values {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteByte('{')
		for j, col := range r.Columns {
			if j > 0 {
				buf.WriteString(", ")
			}
			k, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			v, err := json.Marshal(row[j])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col, err)
			}
			buf.Write(k)
			buf.WriteString(": ")
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Catalog is one warehouse dialect.
type Catalog interface {
	// Dialect names the SQL flavour shown to the models.
	Dialect() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// Datasets lists the datasets, without tables.
	Datasets(ctx context.Context) ([]Dataset, error)

	// Tables lists the tables of a dataset with their columns.
	Tables(ctx context.Context, dataset string) ([]Table, error)

	// Query runs a read-only query and returns at most maxRows rows.
	Query(ctx context.Context, query string, maxRows int) (*Rows, error)

	Close() error
}

// normalize turns driver values into JSON-friendly ones.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return x
	}
}

// SplitNames splits a comma-separated list of dataset names.
func SplitNames(names string) []string {
	var out []string
	for _, n := range strings.Split(names, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

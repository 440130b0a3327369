package datasource

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresCatalogMetadata(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_namespace n")).
		WillReturnRows(pgxmock.NewRows([]string{"nspname", "description"}).
			AddRow("public", "Default schema").
			AddRow("sales", "Store sales"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_class c JOIN pg_namespace n")).
		WithArgs("sales").
		WillReturnRows(pgxmock.NewRows([]string{"relname", "description"}).
			AddRow("daily", "Daily totals").
			AddRow("stores", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_attribute a")).
		WithArgs("sales").
		WillReturnRows(pgxmock.NewRows([]string{"relname", "attname", "type", "description"}).
			AddRow("daily", "day", "date", "").
			AddRow("daily", "total", "numeric(12,2)", "Revenue").
			AddRow("stores", "id", "integer", ""))

	cat := NewPostgresCatalog(mock)
	assert.Equal(t, "PostgreSQL", cat.Dialect())
	assert.Equal(t, `"we""ird"`, cat.Quote(`we"ird`))

	ds, err := cat.Datasets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Dataset{{Name: "public", Description: "Default schema"}, {Name: "sales", Description: "Store sales"}}, ds)

	tables, err := cat.Tables(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "sales.daily", tables[0].FullName())
	assert.Equal(t, []Column{{Name: "day", Type: "date"}, {Name: "total", Type: "numeric(12,2)", Description: "Revenue"}}, tables[0].Columns)
	assert.Len(t, tables[1].Columns, 1)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalogQueryIsReadOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(regexp.QuoteMeta("SELECT store, total FROM sales.daily")).
		WillReturnRows(pgxmock.NewRows([]string{"store", "total"}).
			AddRow("a", 10).
			AddRow("b", 12).
			AddRow("c", 14))
	mock.ExpectRollback()

	rows, err := NewPostgresCatalog(mock).Query(context.Background(), "SELECT store, total FROM sales.daily", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "total"}, rows.Columns)
	assert.Equal(t, [][]any{{"a", 10}, {"b", 12}}, rows.Values)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalogQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery("SELECT").WillReturnError(errors.New(`column "nope" does not exist`))
	mock.ExpectRollback()

	_, err = NewPostgresCatalog(mock).Query(context.Background(), "SELECT nope FROM sales.daily", 0)
	assert.ErrorContains(t, err, "does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRowsMarshalJSONKeepsColumnOrder(t *testing.T) {
	rows := &Rows{Columns: []string{"z", "a"}, Values: [][]any{{1, "x"}, {nil, "y"}}}
	b, err := rows.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `[{"z": 1, "a": "x"}, {"z": null, "a": "y"}]`, string(b))
}

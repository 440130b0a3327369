package datasource

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

func seedWarehouse(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE sales (store TEXT, month TEXT, total REAL)`,
		`INSERT INTO sales VALUES ('a', 'Jan', 10), ('b', NULL, 12), ('a', 'Feb', 20), ('c', 'Mar', 5), ('d', 'Apr', 7)`,
		`CREATE TABLE stores (id INTEGER, name TEXT)`,
		`INSERT INTO stores VALUES (NULL, 'ghost')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func openWarehouse(t *testing.T, opts Options) *Provider {
	t.Helper()
	cat, err := OpenSQLite(seedWarehouse(t))
	require.NoError(t, err)
	p := NewProvider(cat, opts)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSQLiteProviderDatasetsInfo(t *testing.T) {
	p := openWarehouse(t, Options{})
	assert.Equal(t, "SQLite", p.Dialect())

	info, err := p.GetDatasetsInfo(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "# main\n\n### Description:\n\n\n### Tables:\n- main.sales: \n\n- main.stores: ", info)
}

func TestSQLiteProviderTablesInfo(t *testing.T) {
	p := openWarehouse(t, Options{SampleRows: 2})

	info, err := p.GetTablesInfo(context.Background(), " main ")
	require.NoError(t, err)

	parts := strings.Split(info, "\n\n# ")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "CREATE TABLE sales (\n\tstore TEXT\n\tmonth TEXT\n\ttotal REAL\n)")
	assert.Contains(t, parts[0], "|store|month|total|\n|---|---|---|\n|a|Jan|10|\n|a|Feb|20|")
	// only the NULL row exists, so the fallback query returns it
	assert.Contains(t, parts[1], "|id|name|\n|---|---|\n|None|ghost|")

	_, err = p.GetTablesInfo(context.Background(), "main, missing")
	assert.ErrorContains(t, err, `dataset "missing" not found`)
}

func TestSQLiteProviderQueryResults(t *testing.T) {
	p := openWarehouse(t, Options{MaxRows: 2})
	ctx := context.Background()

	out, err := p.GetQueryResults(ctx, "SELECT store, total FROM sales WHERE month IS NOT NULL ORDER BY total DESC")
	require.NoError(t, err)
	assert.Equal(t, `[{"store":"a","total":20},{"store":"a","total":10}]`, out)

	out, err = p.GetQueryResults(ctx, "SELECT * FROM sales WHERE total > 1000")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = p.GetQueryResults(ctx, "SELECT nope FROM sales")
	assert.Error(t, err)

	_, err = p.GetQueryResults(ctx, "DELETE FROM sales")
	assert.Error(t, err)
}

type countingCatalog struct {
	Catalog
	calls atomic.Int32
	fail  error
}

func (c *countingCatalog) Datasets(ctx context.Context) ([]Dataset, error) {
	c.calls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.Catalog.Datasets(ctx)
}

func TestProviderCachesMetadata(t *testing.T) {
	base, err := OpenSQLite(seedWarehouse(t))
	require.NoError(t, err)
	cat := &countingCatalog{Catalog: base}
	p := NewProvider(cat, Options{CacheTTL: time.Minute})
	defer p.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	for range 3 {
		_, err := p.GetDatasetsInfo(ctx, "")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, cat.calls.Load())

	now = now.Add(2 * time.Minute)
	cat.fail = errors.New("warehouse down")
	info, err := p.GetDatasetsInfo(ctx, "")
	require.NoError(t, err, "stale cache is served")
	assert.Contains(t, info, "main.sales")
	assert.EqualValues(t, 2, cat.calls.Load())
}

func TestProviderFailsWithoutCache(t *testing.T) {
	base, err := OpenSQLite(seedWarehouse(t))
	require.NoError(t, err)
	p := NewProvider(&countingCatalog{Catalog: base, fail: errors.New("warehouse down")}, Options{})
	defer p.Close()

	_, err = p.GetDatasetsInfo(context.Background(), "")
	assert.ErrorContains(t, err, "warehouse down")
}

func TestOpenDispatchesOnDriver(t *testing.T) {
	p, err := Open(context.Background(), model.DatasourceConfig{
		Driver: model.DriverSQLite, DSN: seedWarehouse(t), MetadataFormat: "xml",
	})
	require.NoError(t, err)
	defer p.Close()
	assert.IsType(t, XMLFormatter{}, p.opts.Formatter)

	_, err = Open(context.Background(), model.DatasourceConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported")

	_, err = Open(context.Background(), model.DatasourceConfig{Driver: model.DriverSQLite, DSN: seedWarehouse(t), MetadataFormat: "yaml"})
	assert.Error(t, err)
}

func TestOpenSQLiteRequiresExistingFile(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}

func TestOpenMySQLParsesDSN(t *testing.T) {
	cat, err := OpenMySQL("reader:secret@tcp(localhost:3306)/warehouse")
	require.NoError(t, err)
	assert.Equal(t, "MySQL", cat.Dialect())
	assert.Equal(t, "`we``ird`", cat.Quote("we`ird"))
	require.NoError(t, cat.Close())

	_, err = OpenMySQL("reader:secret@tcp(localhost:3306)")
	assert.Error(t, err)
}

package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

type fakeEmbedder struct {
	texts []string
	err   error
}

func (f *fakeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	f.texts = append(f.texts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{0.5, 0.25}
	}
	return out, nil
}

func TestRetrieveWithDatasetFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "sql_examples"
WHERE metadata->>$3 = ANY($4)
ORDER BY embedding <=> $1::vector`)).
		WithArgs("[0.5,0.25]", 2, "dataset_name", []string{"sales", "hr"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "content", "metadata", "score"}).
			AddRow("1", "How many stores?", []byte(`{"query":"SELECT count(*) FROM stores","dataset_name":"sales"}`), 0.92).
			AddRow("2", "Headcount by team", []byte(`{"query":"SELECT team, count(*) FROM hr.people GROUP BY team","dataset_name":"hr"}`), 0.41))

	emb := &fakeEmbedder{}
	r := NewPGRetriever(mock, "sql_examples", emb, 0)
	docs, err := r.Retrieve(context.Background(), "stores per city",
		retriever.WithTopK(2),
		retriever.WithDSLInfo(map[string]any{"dataset_name": map[string]any{"$in": []any{"sales", "hr"}}}),
	)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "How many stores?", docs[0].Content)
	assert.Equal(t, "sales", docs[0].MetaData["dataset_name"])
	assert.InDelta(t, 0.92, docs[0].Score(), 1e-9)
	assert.Equal(t, []string{"stores per city"}, emb.texts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieveAppliesScoreThreshold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "viz_examples"
ORDER BY`)).
		WithArgs("[0.5,0.25]", 4).
		WillReturnRows(pgxmock.NewRows([]string{"id", "content", "metadata", "score"}).
			AddRow("1", "a", []byte(`{}`), 0.9).
			AddRow("2", "b", []byte(`{}`), 0.2))

	docs, err := NewPGRetriever(mock, "viz_examples", &fakeEmbedder{}, 0).
		Retrieve(context.Background(), "q", retriever.WithScoreThreshold(0.5))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrieveErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPGRetriever(mock, "t", &fakeEmbedder{err: errors.New("quota")}, 0).Retrieve(context.Background(), "q")
	assert.ErrorContains(t, err, "quota")

	_, err = NewPGRetriever(mock, "t", nil, 0).Retrieve(context.Background(), "q")
	assert.ErrorContains(t, err, "no embedder")

	_, err = NewPGRetriever(mock, "t", &fakeEmbedder{}, 0).
		Retrieve(context.Background(), "q", retriever.WithDSLInfo(map[string]any{"dataset_name": map[string]any{"$nin": []any{"x"}}}))
	assert.ErrorContains(t, err, "only $in")

	mock.ExpectQuery("SELECT id").WillReturnError(errors.New(`relation "t" does not exist`))
	_, err = NewPGRetriever(mock, "t", &fakeEmbedder{}, 0).Retrieve(context.Background(), "q")
	assert.ErrorContains(t, err, "does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetupAndAdd(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE EXTENSION IF NOT EXISTS vector")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "sql_examples"`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	docs := SQLDocuments([]model.SQLExample{{Question: "How many stores?", Query: "SELECT 1", Datasets: []string{"sales", "retail"}}})
	require.Len(t, docs, 2)
	assert.NotEqual(t, docs[0].ID, docs[1].ID)
	for _, d := range docs {
		meta, _ := json.Marshal(d.MetaData)
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sql_examples"`)).
			WithArgs(d.ID, "How many stores?", meta, "[0.5,0.25]").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	emb := &fakeEmbedder{}
	r := NewPGRetriever(mock, "sql_examples", emb, 0)
	require.NoError(t, r.Setup(context.Background(), 768))
	require.NoError(t, r.Add(context.Background(), emb, docs))
	assert.Len(t, emb.texts, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeRetriever struct {
	query string
	opts  *retriever.Options
	docs  []*schema.Document
	err   error
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	f.query = query
	f.opts = retriever.GetCommonOptions(&retriever.Options{}, opts...)
	return f.docs, f.err
}

func TestExampleStoreSQLExamples(t *testing.T) {
	sql := &fakeRetriever{docs: []*schema.Document{
		{Content: "How many stores?", MetaData: map[string]any{MetaQuery: "SELECT count(*) FROM stores", MetaDataset: "sales"}},
		{Content: "Anything", MetaData: map[string]any{MetaQuery: "SELECT 1"}},
	}}
	store := NewExampleStore(sql, nil)

	got, err := store.SQLExamples(context.Background(), "stores?", []string{"sales"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.SQLExample{
		{Question: "How many stores?", Query: "SELECT count(*) FROM stores", Datasets: []string{"sales"}},
		{Question: "Anything", Query: "SELECT 1"},
	}, got)
	assert.Equal(t, "stores?", sql.query)
	assert.Equal(t, 3, *sql.opts.TopK)
	assert.Equal(t, map[string]any{MetaDataset: map[string]any{"$in": []string{"sales"}}}, sql.opts.DSLInfo)

	_, err = store.SQLExamples(context.Background(), "q", nil, 3)
	require.NoError(t, err)
	assert.Nil(t, sql.opts.DSLInfo)

	got, err = store.SQLExamples(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	viz, err := store.VizExamples(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Nil(t, viz)
}

func TestExampleStoreSQLExamplesFoldsDatasetCopies(t *testing.T) {
	docs := SQLDocuments([]model.SQLExample{
		{Question: "Sales per store?", Query: "SELECT store, SUM(total) FROM sales GROUP BY store", Datasets: []string{"sales", "stores"}},
		{Question: "Open stores?", Query: "SELECT count(*) FROM stores", Datasets: []string{"stores"}},
	})
	require.Len(t, docs, 3)
	// same question with another query stays a separate example
	docs = append(docs, &schema.Document{Content: "Sales per store?", MetaData: map[string]any{MetaQuery: "SELECT 1", MetaDataset: "sales"}})
	store := NewExampleStore(&fakeRetriever{docs: docs}, nil)

	got, err := store.SQLExamples(context.Background(), "stores", []string{"sales", "stores"}, 4)
	require.NoError(t, err)
	assert.Equal(t, []model.SQLExample{
		{Question: "Sales per store?", Query: "SELECT store, SUM(total) FROM sales GROUP BY store", Datasets: []string{"sales", "stores"}},
		{Question: "Open stores?", Query: "SELECT count(*) FROM stores", Datasets: []string{"stores"}},
		{Question: "Sales per store?", Query: "SELECT 1", Datasets: []string{"sales"}},
	}, got)
}

func TestExampleStoreVizExamples(t *testing.T) {
	viz := &fakeRetriever{docs: ChartDocuments([]ChartExample{{
		Question:     "Revenue by month",
		QueryResults: `[{"month":"Jan","revenue":10}]`,
		Output:       `{"data":{"month":["Jan"],"revenue":[10]}}`,
	}})}
	got, err := NewExampleStore(nil, viz).VizExamples(context.Background(), "monthly revenue", 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Revenue by month", got[0].Question)
	assert.Equal(t, "<example>\nUser question: Revenue by month\n\n<query_results>\n[{\"month\":\"Jan\",\"revenue\":10}]\n</query_results>\n\nOutput: {\"data\":{\"month\":[\"Jan\"],\"revenue\":[10]}}\n</example>", got[0].Content)
	assert.Nil(t, viz.opts.DSLInfo)

	viz.err = errors.New("down")
	_, err = NewExampleStore(nil, viz).VizExamples(context.Background(), "q", 2)
	assert.ErrorContains(t, err, "down")
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[1,-0.5,0.125]", vectorLiteral([]float64{1, -0.5, 0.125}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

func TestGeminiEmbedder(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "mbedContents"), r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"embeddings":[{"values":[0.5,0.25]},{"values":[1,0]}]}`)
	}))
	defer srv.Close()

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)

	emb := NewGeminiEmbedder(client, "text-embedding-004", 2)
	vecs, err := emb.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5, 0.25}, {1, 0}}, vecs)
	assert.NotNil(t, body)

	vecs, err = emb.ForDocuments().EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

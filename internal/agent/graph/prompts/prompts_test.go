package prompts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

func TestSQLAgentWithoutExamples(t *testing.T) {
	out, err := SQLAgent(context.Background(), "PostgreSQL", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "PostgreSQL queries")
	assert.NotContains(t, out, "# Examples")
	assert.NotContains(t, out, "{dialect}")
}

func TestSQLAgentWithExamples(t *testing.T) {
	out, err := SQLAgent(context.Background(), "", []model.SQLExample{
		{Question: "How many rows?", Query: "SELECT COUNT(*) FROM t"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "SQL queries")
	assert.Contains(t, out, "# Examples")
	assert.Contains(t, out, "Question: How many rows?\nSQL Query:\n```sql\nSELECT COUNT(*) FROM t\n```")
	assert.NotContains(t, out, "{examples}")
}

func TestFormatSQLExamples(t *testing.T) {
	got := FormatSQLExamples([]model.SQLExample{
		{Question: "a", Query: "SELECT 1"},
		{Question: "b", Query: "SELECT 2"},
	})
	assert.Equal(t,
		"Question: a\nSQL Query:\n```sql\nSELECT 1\n```\n\nQuestion: b\nSQL Query:\n```sql\nSELECT 2\n```",
		got)
	assert.Empty(t, FormatSQLExamples(nil))
}

func TestChartPreprocessExamples(t *testing.T) {
	ctx := context.Background()

	plain, err := ChartPreprocess(ctx, nil)
	require.NoError(t, err)
	assert.NotContains(t, plain, "{examples}")

	withEx, err := ChartPreprocess(ctx, []model.VizExample{{Content: `<example>{"a": 1}</example>`}, {Content: "  "}})
	require.NoError(t, err)
	assert.Contains(t, withEx, `<example>{"a": 1}</example>`)
	assert.Greater(t, len(withEx), len(plain))
}

func TestRewriteQueryInput(t *testing.T) {
	got := RewriteQueryInput([]string{"first", "second"}, "third")
	assert.Equal(t, "History:\n1. first\n2. second\n\nLatest question: third", got)

	assert.Equal(t, "History:\n(empty)\n\nLatest question: q", RewriteQueryInput(nil, "q"))
}

func TestStaticPromptsRender(t *testing.T) {
	ctx := context.Background()
	for name, fn := range map[string]func(context.Context) (string, error){
		"select":    SelectDatasets,
		"rewrite":   RewriteQuery,
		"post_sql":  PostSQLRouting,
		"metadata":  ChartMetadata,
		"rephrase":  RephraseViz,
		"valid_viz": ValidationViz,
	} {
		out, err := fn(ctx)
		require.NoError(t, err, name)
		assert.NotEmpty(t, out, name)
	}

	out, err := InitialRouting(ctx, "MySQL")
	require.NoError(t, err)
	assert.Contains(t, out, "MySQL warehouse")

	out, err = SQLCheck(ctx, "SQLite")
	require.NoError(t, err)
	assert.Contains(t, out, "SQLite query")
}

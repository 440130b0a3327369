package vizagent

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/checkpoints"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes/nodestest"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
)

func newItem(content string) model.Item {
	return model.Item{ID: uuid.New(), Content: content}
}

type fakeExamples struct {
	viz      []model.VizExample
	question string
}

func (f *fakeExamples) SQLExamples(context.Context, string, []string, int) ([]model.SQLExample, error) {
	return nil, nil
}

func (f *fakeExamples) VizExamples(_ context.Context, q string, _ int) ([]model.VizExample, error) {
	f.question = q
	return f.viz, nil
}

func ptr[T any](v T) *T { return &v }

var revenueInput = Input{
	Question:          " Plot revenue by month as a table ",
	SQLAnswer:         "Revenue was 22 in total.",
	SQLQueries:        []model.Item{newItem("SELECT month, revenue FROM sales")},
	SQLQueriesResults: []model.Item{newItem(`[{"month":"Jan","revenue":10},{"month":"Feb","revenue":12}]`)},
}

func TestAgentBuildsValidChart(t *testing.T) {
	ex := &fakeExamples{viz: []model.VizExample{{Content: "Question: sales by store\nData: [...]"}}}
	cm := nodestest.New(
		nodestest.Text(`{"original":"Plot revenue by month as a table","rephrased":"revenue by month"}`),
		nodestest.Text(`{"data":[{"month":"Jan","revenue":10},{"month":"Feb","revenue":12}],"reasoning":"kept as is"}`),
		nodestest.Text("```json\n{\"chart_type\":\"bar\",\"title\":\"Revenue\",\"x_axis\":\"month\",\"y_axis\":\"revenue\",\"label\":null}\n```"),
		nodestest.Text("Revenue was 22 in total.\n\nThe chart below shows revenue per month."),
	)
	a, err := New(Config{Model: cm, Examples: ex, FewShotK: 2, QuestionLimit: 5})
	require.NoError(t, err)

	st, err := a.Invoke(context.Background(), revenueInput, nodes.RunConfig{ThreadID: "t", RecursionLimit: 32})
	require.NoError(t, err)

	assert.Equal(t, "Plot revenue by month as a table", st.Question)
	assert.Equal(t, "revenue by month", st.RephrasedQuestion)
	assert.Equal(t, "revenue by month", ex.question)

	require.NotNil(t, st.Chart)
	assert.True(t, st.Chart.IsValid)
	assert.Equal(t, model.Columns{"month": {"Jan", "Feb"}, "revenue": {10.0, 12.0}}, st.Chart.Data)
	assert.Equal(t, model.ChartBar, *st.Chart.Metadata.ChartType)
	assert.Equal(t, "The chart below shows revenue per month.", st.ChartAnswer)

	viz := st.Visualization()
	require.NotNil(t, viz)
	assert.Equal(t, st.ChartAnswer, viz.Insights)

	calls := cm.Calls()
	require.Len(t, calls, 4)
	preprocess := calls[1].Messages
	assert.Contains(t, preprocess[0].Content, "sales by store")
	assert.Contains(t, preprocess[1].Content, "<query>\nSELECT month, revenue FROM sales\n</query>")
	assert.Contains(t, calls[2].Messages[1].Content, "User question: revenue by month")
	assert.Equal(t, "Question answer: \n\nRevenue was 22 in total.", calls[3].Messages[2].Content)

	// the data request and the preprocessed data stay in the log
	assert.Len(t, st.Messages, 2)
}

func TestAgentDegradesOnMalformedOutput(t *testing.T) {
	cm := nodestest.New(
		nodestest.Text("I think you mean revenue"),
		nodestest.Text("no json here"),
		nodestest.Text(`{"chart_type":"donut"}`),
		nodestest.Text("  The chart could not be created.  "),
	)
	a, err := New(Config{Model: cm})
	require.NoError(t, err)

	st, err := a.Invoke(context.Background(), revenueInput, nodes.RunConfig{ThreadID: "t"})
	require.NoError(t, err)

	assert.Equal(t, st.Question, st.RephrasedQuestion)
	require.NotNil(t, st.ChartData)
	assert.Empty(t, st.ChartData.Data)
	require.NotNil(t, st.Chart)
	assert.False(t, st.Chart.IsValid)
	assert.Nil(t, st.Chart.Metadata.ChartType)
	assert.Equal(t, "The chart could not be created.", st.ChartAnswer)
}

func TestAgentPropagatesModelErrors(t *testing.T) {
	cm := nodestest.New(nodestest.Fail(errors.New("connection reset")))
	a, err := New(Config{Model: cm})
	require.NoError(t, err)

	_, err = a.Invoke(context.Background(), revenueInput, nodes.RunConfig{ThreadID: "t"})
	assert.ErrorContains(t, err, "connection reset")
}

func TestAgentPrunesMessagesAcrossTurns(t *testing.T) {
	repo := checkpoints.NewMemoryRepository()
	turn := func() []nodestest.Reply {
		return []nodestest.Reply{
			nodestest.Text(`{"rephrased":"revenue by month"}`),
			nodestest.Text(`{"data":{"month":["Jan"],"revenue":[10]}}`),
			nodestest.Text(`{"chart_type":"line","x_axis":"month","y_axis":"revenue"}`),
			nodestest.Text("Here it is."),
		}
	}
	cm := nodestest.New(append(turn(), turn()...)...)
	a, err := New(Config{Model: cm, Saver: checkpoints.NewSaver(repo, Namespace), QuestionLimit: 2})
	require.NoError(t, err)

	rc := nodes.RunConfig{ThreadID: "t1", RecursionLimit: 32}
	_, err = a.Invoke(context.Background(), revenueInput, rc)
	require.NoError(t, err)
	st, err := a.Invoke(context.Background(), revenueInput, rc)
	require.NoError(t, err)

	// second preprocess call sees the first exchange
	assert.Len(t, cm.Calls()[5].Messages, 4)
	assert.Len(t, st.Messages, 2)
	assert.True(t, st.Chart.IsValid)
}

func TestValidate(t *testing.T) {
	data := model.Columns{"month": {"Jan"}, "revenue": {1}}
	bar := ptr(model.ChartBar)

	tests := []struct {
		name string
		data model.Columns
		meta model.ChartMetadata
		want bool
	}{
		{"exact match", data, model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("revenue")}, true},
		{"empty label ignored", data, model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("revenue"), Label: ptr("")}, true},
		{"no chart type", data, model.ChartMetadata{XAxis: ptr("month"), YAxis: ptr("revenue")}, false},
		{"no data", nil, model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("revenue")}, false},
		{"empty row list", model.RowsToColumns(nil), model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("revenue")}, false},
		{"columns without rows", model.Columns{"month": {}, "revenue": {}}, model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("revenue")}, false},
		{"missing axis", data, model.ChartMetadata{ChartType: bar, XAxis: ptr("month")}, false},
		{"unknown column", data, model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("total")}, false},
		{"subset only", model.Columns{"month": {"Jan"}, "revenue": {1}, "store": {"a"}}, model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("revenue")}, false},
		{"with label", model.Columns{"month": {"Jan"}, "revenue": {1}, "store": {"a"}}, model.ChartMetadata{ChartType: bar, XAxis: ptr("month"), YAxis: ptr("revenue"), Label: ptr("store")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.data, tt.meta))
		})
	}
}

func TestDataMessage(t *testing.T) {
	assert.Equal(t, "User question: q\n\nQueries:\n\nQueries results:", DataMessage("q", nil, nil))

	got := DataMessage("q",
		[]model.Item{{Content: "SELECT 1"}, {Content: "SELECT 2"}},
		[]model.Item{{Content: "[1]"}},
	)
	assert.Equal(t, "User question: q\n\nQueries:\n<query>\nSELECT 1\n</query>\n\n<query>\nSELECT 2\n</query>\n\nQueries results:\n<query_results>\n[1]\n</query_results>", got)
}

func TestTransitionRejectsUnknownEvents(t *testing.T) {
	next, ok := Transition(NodeGetAnswer, EventDone)
	assert.True(t, ok)
	assert.Equal(t, NodePruneMessages, next)

	_, ok = Transition(NodeGetAnswer, Event("retry"))
	assert.False(t, ok)
}

package parsers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/nodes/nodestest"
	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	errx "github.com/basedosdados/chatbot-sub000/internal/core/error"
)

type decision struct {
	Next      string `json:"next" jsonschema:"required,enum=a,enum=b"`
	Reasoning string `json:"reasoning"`
	IDs       []int  `json:"ids,omitempty"`
}

func TestSchemaFor(t *testing.T) {
	s, err := SchemaFor[decision]()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	assert.NotContains(t, m, "$schema")
	assert.Equal(t, []any{"next"}, m["required"])
	props := m["properties"].(map[string]any)
	assert.Contains(t, props, "reasoning")
	assert.Equal(t, []any{"a", "b"}, props["next"].(map[string]any)["enum"])

	again, err := SchemaFor[decision]()
	require.NoError(t, err)
	assert.Equal(t, s, again)
}

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    *decision
	}{
		{"plain", `{"next":"a","reasoning":"r"}`, &decision{Next: "a", Reasoning: "r"}},
		{"fenced", "```json\n{\"next\":\"b\",\"ids\":[1,2]}\n```", &decision{Next: "b", IDs: []int{1, 2}}},
		{"prose around", "Sure! {\"next\":\"a\"} hope this helps", &decision{Next: "a"}},
		{"null optional", `{"next":"a","reasoning":null,"ids":null}`, &decision{Next: "a"}},
		{"extra keys", `{"next":"a","confidence":0.9}`, &decision{Next: "a"}},
		{"bad enum", `{"next":"c"}`, nil},
		{"missing required", `{"reasoning":"r"}`, nil},
		{"null required", `{"next":null}`, nil},
		{"not json", `next: a`, nil},
		{"broken json", `{"next": "a",}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse[decision](tc.content)
			if tc.want == nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidOutput)
				assert.Equal(t, 422, errx.StatusOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseChartTypes(t *testing.T) {
	got, err := Parse[model.ChartMetadata](`{"chart_type":"pie","title":"Share","label":null}`)
	require.NoError(t, err)
	require.NotNil(t, got.ChartType)
	assert.Equal(t, model.ChartPie, *got.ChartType)
	assert.Nil(t, got.Label)

	_, err = Parse[model.ChartMetadata](`{"chart_type":"donut"}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	data, err := Parse[model.ChartData](`{"data":[{"x":"a","y":1},{"x":"b"}],"reasoning":"r"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, data.Data.Names())
	assert.Equal(t, []any{float64(1), nil}, data.Data["y"])

	data, err = Parse[model.ChartData](`{"data":{"x":["a"],"y":[1]}}`)
	require.NoError(t, err)
	assert.Len(t, data.Data["x"], 1)

	_, err = Parse[model.ChartData](`{"data":42}`)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestGenerate(t *testing.T) {
	cm := nodestest.New(
		nodestest.Text(`{"next":"b","reasoning":"chart"}`),
		nodestest.Text(`I think a`),
		nodestest.Fail(errors.New("provider down")),
	)
	ctx := context.Background()
	o := nodes.CallOptions{Agent: "test", Node: "decide"}
	in := []*schema.Message{schema.UserMessage("q")}

	got, err := Generate[decision](ctx, cm, "Decide.", in, o)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Next)

	calls := cm.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Messages, 2)
	assert.True(t, strings.HasPrefix(calls[0].Messages[0].Content, "Decide.\n\nRespond only with a JSON object"))
	assert.Equal(t, "q", calls[0].Messages[1].Content)

	_, err = Generate[decision](ctx, cm, "Decide.", in, o)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	_, err = Generate[decision](ctx, cm, "Decide.", in, o)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidOutput)
}

func TestTruncateJSON(t *testing.T) {
	rows := make([]any, 15)
	for i := range rows {
		rows[i] = map[string]any{"i": i}
	}
	b, _ := json.Marshal(rows)

	var out []any
	require.NoError(t, json.Unmarshal([]byte(TruncateJSON(string(b))), &out))
	require.Len(t, out, 11)
	assert.Equal(t, "... (5 more items)", out[10])

	long := strings.Repeat("é", 305)
	doc := fmt.Sprintf(`{"text":%q,"n":1}`, long)
	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(TruncateJSON(doc)), &obj))
	assert.Equal(t, strings.Repeat("é", 300)+"... (5 more characters)", obj["text"])
	assert.Equal(t, float64(1), obj["n"])

	assert.Equal(t, "plain text", TruncateJSON("plain text"))
	assert.Equal(t, "42", TruncateJSON("42"))
	assert.Equal(t, `{"a":<b>}`, TruncateJSON(`{"a":<b>}`))
	assert.Equal(t, strings.Repeat("x", 300)+"... (10 more characters)", TruncateJSON(strings.Repeat("x", 310)))
}

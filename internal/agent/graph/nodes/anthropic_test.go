package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	params anthropic.MessageNewParams
	resp   *anthropic.Message
}

func (f *fakeMessages) New(_ context.Context, params anthropic.MessageNewParams, _ ...aoption.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return f.resp, nil
}

func TestToAnthropicMessagesMergesToolResults(t *testing.T) {
	msgs := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("q"),
		schema.AssistantMessage("", []schema.ToolCall{
			{ID: "a", Function: schema.FunctionCall{Name: "t1", Arguments: `{"x":1}`}},
			{ID: "b", Function: schema.FunctionCall{Name: "t2"}},
		}),
		schema.ToolMessage("r1", "a"),
		schema.ToolMessage("r2", "b"),
		schema.AssistantMessage("done", nil),
	}

	out, err := toAnthropicMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	assert.Len(t, out[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	assert.Len(t, out[2].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[3].Role)
}

func TestToAnthropicMessagesRejectsInvalidArguments(t *testing.T) {
	_, err := toAnthropicMessages([]*schema.Message{
		schema.UserMessage("q"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "a", Function: schema.FunctionCall{Name: "t", Arguments: "{"}}}),
	})
	assert.Error(t, err)
}

func TestToAnthropicTools(t *testing.T) {
	tools, err := toAnthropicTools([]*schema.ToolInfo{{
		Name: "sql_query_exec",
		Desc: "run a query",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "SQL", Required: true},
		}),
	}})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "sql_query_exec", tools[0].OfTool.Name)
	assert.Equal(t, []string{"query"}, tools[0].OfTool.InputSchema.Required)
}

func TestAnthropicGenerate(t *testing.T) {
	var resp anthropic.Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "checking"},
			{"type": "tool_use", "id": "tu_1", "name": "sql_query_check", "input": {"query": "SELECT 1"}}
		],
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`), &resp))

	fake := &fakeMessages{resp: &resp}
	temp := float32(0.2)
	m := &AnthropicChatModel{client: fake, config: AnthropicConfig{Model: "claude-sonnet-4-5", Temperature: &temp}}

	out, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("be brief"),
		schema.UserMessage("q"),
	})
	require.NoError(t, err)

	assert.Equal(t, "checking", out.Content)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "tu_1", out.ToolCalls[0].ID)
	assert.Equal(t, "sql_query_check", out.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"SELECT 1"}`, out.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 15, out.ResponseMeta.Usage.TotalTokens)

	assert.Equal(t, int64(defaultAnthropicMaxTokens), fake.params.MaxTokens)
	require.Len(t, fake.params.System, 1)
	assert.Equal(t, "be brief", fake.params.System[0].Text)
}

func TestAnthropicWithToolsDoesNotMutate(t *testing.T) {
	m := &AnthropicChatModel{config: AnthropicConfig{Model: "x"}}
	bound, err := m.WithTools([]*schema.ToolInfo{{Name: "list_datasets", Desc: "list"}})
	require.NoError(t, err)

	assert.Empty(t, m.tools)
	assert.Len(t, bound.(*AnthropicChatModel).tools, 1)
}

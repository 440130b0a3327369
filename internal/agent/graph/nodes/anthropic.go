package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const defaultAnthropicMaxTokens = 4096

type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature *float32
}

// AnthropicChatModel adapts the Claude Messages API to eino's tool-calling chat model.
type AnthropicChatModel struct {
	client    messagesClient
	config    AnthropicConfig
	tools     []anthropic.ToolUnionParam
	toolInfos []*schema.ToolInfo
}

// messagesClient is the part of the SDK client the adapter uses.
type messagesClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...aoption.RequestOption) (*anthropic.Message, error)
}

func NewAnthropicChatModel(config AnthropicConfig) *AnthropicChatModel {
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(config.APIKey))}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(config.BaseURL)))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicChatModel{client: &client.Messages, config: config}
}

func (m *AnthropicChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	params, err := m.buildParams(input, opts...)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}
	return fromAnthropic(resp), nil
}

// Stream returns the full response as a single chunk.
func (m *AnthropicChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools returns a copy of the model bound to tools.
func (m *AnthropicChatModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	params, err := toAnthropicTools(tools)
	if err != nil {
		return nil, err
	}
	bound := *m
	bound.tools = params
	bound.toolInfos = tools
	return &bound, nil
}

func (m *AnthropicChatModel) buildParams(input []*schema.Message, opts ...einomodel.Option) (anthropic.MessageNewParams, error) {
	common := einomodel.GetCommonOptions(&einomodel.Options{
		Temperature: m.config.Temperature,
		Model:       &m.config.Model,
	}, opts...)

	maxTokens := int64(m.config.MaxTokens)
	if common.MaxTokens != nil {
		maxTokens = int64(*common.MaxTokens)
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(*common.Model)),
		MaxTokens: maxTokens,
		Tools:     m.tools,
	}
	if common.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*common.Temperature))
	}

	var system []string
	for _, msg := range input {
		if msg != nil && msg.Role == schema.System && strings.TrimSpace(msg.Content) != "" {
			system = append(system, strings.TrimSpace(msg.Content))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	msgs, err := toAnthropicMessages(input)
	if err != nil {
		return params, err
	}
	params.Messages = msgs
	return params, nil
}

// toAnthropicMessages converts the conversation, merging consecutive tool
// results into one user turn as the Messages API requires.
func toAnthropicMessages(input []*schema.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(input))
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			continue
		case schema.Tool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case schema.User:
			flush()
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case schema.Assistant:
			flush()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := json.RawMessage("{}")
				if strings.TrimSpace(tc.Function.Arguments) != "" {
					if !json.Valid([]byte(tc.Function.Arguments)) {
						return nil, fmt.Errorf("tool call %s has invalid arguments", tc.ID)
					}
					args = json.RawMessage(tc.Function.Arguments)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	flush()

	if len(out) == 0 {
		return nil, errors.New("anthropic messages: no user or assistant messages")
	}
	return out, nil
}

func toAnthropicTools(tools []*schema.ToolInfo) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		schemaMap := map[string]any{}
		if info.ParamsOneOf != nil {
			js, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			b, err := json.Marshal(js)
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			if err := json.Unmarshal(b, &schemaMap); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
		}

		var required []string
		if list, ok := schemaMap["required"].([]any); ok {
			for _, r := range list {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		properties := schemaMap["properties"]
		if properties == nil {
			properties = map[string]any{}
		}

		param := anthropic.ToolParam{
			Name:        info.Name,
			Description: anthropic.String(strings.TrimSpace(info.Desc)),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: properties, Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func fromAnthropic(resp *anthropic.Message) *schema.Message {
	out := &schema.Message{Role: schema.Assistant}

	var text strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			args := "{}"
			if len(variant.Input) > 0 {
				args = string(variant.Input)
			}
			out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
				ID:       variant.ID,
				Type:     "function",
				Function: schema.FunctionCall{Name: variant.Name, Arguments: args},
			})
		}
	}
	out.Content = text.String()

	prompt := int(resp.Usage.InputTokens)
	completion := int(resp.Usage.OutputTokens)
	out.ResponseMeta = &schema.ResponseMeta{
		FinishReason: string(resp.StopReason),
		Usage: &schema.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
	return out
}

var _ einomodel.ToolCallingChatModel = (*AnthropicChatModel)(nil)

package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// CallOptions describes one model or tool call for timeouts and logging.
type CallOptions struct {
	ThreadID string
	Agent    string
	Node     string
	Model    string
	Timeout  time.Duration
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Generate calls cm under the configured timeout, fills in missing tool
// call ids and logs token usage and cost.
func Generate(ctx context.Context, cm einomodel.BaseChatModel, msgs []*schema.Message, o CallOptions) (*schema.Message, error) {
	cctx, cancel := withTimeout(ctx, o.Timeout)
	defer cancel()

	cctx = callbacks.ReuseHandlers(cctx, &callbacks.RunInfo{
		Name:      o.Node,
		Type:      o.Model,
		Component: components.ComponentOfChatModel,
	})

	out, err := cm.Generate(cctx, msgs)
	if err != nil {
		logx.Error().Err(err).
			Str("thread_id", o.ThreadID).
			Str("agent", o.Agent).
			Str("node", o.Node).
			Str("model", o.Model).
			Msg("Model call failed")
		return nil, fmt.Errorf("generate: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("generate: empty response")
	}

	// some providers omit tool call ids
	for i := range out.ToolCalls {
		if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
			out.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}

	logUsage(o, out)
	return out, nil
}

// InvokeTools runs the tool calls of msg through tn under the configured timeout.
func InvokeTools(ctx context.Context, tn *compose.ToolsNode, msg *schema.Message, o CallOptions) ([]*schema.Message, error) {
	cctx, cancel := withTimeout(ctx, o.Timeout)
	defer cancel()

	logx.Debug().
		Str("thread_id", o.ThreadID).
		Str("agent", o.Agent).
		Int("tool_count", len(msg.ToolCalls)).
		Msg("Calling tools")

	out, err := tn.Invoke(cctx, msg)
	if err != nil {
		logx.Error().Err(err).
			Str("thread_id", o.ThreadID).
			Str("agent", o.Agent).
			Str("node", o.Node).
			Msg("Tool call failed")
		return nil, fmt.Errorf("invoke tools: %w", err)
	}
	return out, nil
}

// logUsage computes and logs the usage cost of a model response.
func logUsage(o CallOptions, out *schema.Message) {
	if out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	pricing := model.ResolvePricing(o.Model)
	inC, outC, totalC := model.ComputeCost(usage, pricing)

	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = map[string]any{
		"currency":          "USD",
		"model":             o.Model,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"input_cost":        inC,
		"output_cost":       outC,
		"total_cost":        totalC,
	}

	logx.Debug().
		Str("thread_id", o.ThreadID).
		Str("agent", o.Agent).
		Str("node", o.Node).
		Str("model", o.Model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("input_cost_usd", inC).
		Float64("output_cost_usd", outC).
		Float64("total_cost_usd", totalC).
		Msg("LLM usage")
}

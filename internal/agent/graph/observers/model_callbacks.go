package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/basedosdados/chatbot-sub000/internal/agent/model"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

// newModelHandler logs the context size going into a model call and the reply coming out.
func newModelHandler(opts Options) *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *einomodel.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			ev := logx.Debug().
				Str("component", "chat_model").
				Str("name", info.Name).
				Str("model", info.Type).
				Int("messages", len(input.Messages)).
				Int("tools", len(input.Tools))
			if n, err := model.CountTokens(input.Messages); err == nil {
				ev = ev.Int("estimated_tokens", n)
			}
			if um := lastUserContent(input.Messages); um != "" {
				ev = ev.Str("user", um)
			}
			ev.Msg("Model call started")

			if opts.Verbose {
				for i, m := range input.Messages {
					if m == nil || strings.TrimSpace(m.Content) == "" {
						continue
					}
					logx.Debug().
						Str("name", info.Name).
						Int("index", i).
						Str("role", string(m.Role)).
						Str("content", strings.TrimSpace(m.Content)).
						Msg("Model context")
				}
			}
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *einomodel.CallbackOutput) context.Context {
			if output == nil || output.Message == nil {
				return ctx
			}
			ev := logx.Debug().
				Str("component", "chat_model").
				Str("name", info.Name).
				Str("model", info.Type).
				Int("tool_calls", len(output.Message.ToolCalls))
			if content := strings.TrimSpace(output.Message.Content); content != "" && opts.Verbose {
				ev = ev.Str("assistant", content)
			}
			ev.Msg("Model call finished")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).
				Str("component", "chat_model").
				Str("name", info.Name).
				Str("model", info.Type).
				Msg("Model call error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

package observers

import (
	"context"
	"errors"
	"io"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/parsers"
	"github.com/basedosdados/chatbot-sub000/internal/agent/graph/tools"
	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

func newToolHandler() *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			logx.Debug().
				Str("component", "tool").
				Str("tool_name", info.Name).
				Str("arguments", input.ArgumentsInJSON).
				Msg("Tool started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			if output == nil {
				return ctx
			}
			ev := logx.Debug()
			if tools.IsError(output.Response) {
				ev = logx.Warn()
			}
			ev.Str("component", "tool").
				Str("tool_name", info.Name).
				Str("output", parsers.TruncateJSON(output.Response)).
				Msg("Tool finished")
			return ctx
		},
		OnEndWithStreamOutput: func(ctx context.Context, info *einocb.RunInfo, output *schema.StreamReader[*tool.CallbackOutput]) context.Context {
			go func() {
				defer output.Close()
				for {
					chunk, err := output.Recv()
					if errors.Is(err, io.EOF) || err != nil {
						return
					}
					logx.Debug().
						Str("component", "tool").
						Str("tool_name", info.Name).
						Str("chunk", chunk.Response).
						Msg("Tool stream chunk")
				}
			}()
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).
				Str("component", "tool").
				Str("tool_name", info.Name).
				Msg("Tool execution failed")
			return ctx
		},
	}
}

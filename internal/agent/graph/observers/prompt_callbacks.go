package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

func newPromptHandler(opts Options) *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output == nil || len(output.Result) == 0 || output.Result[0] == nil {
				return ctx
			}
			ev := logx.Debug().
				Str("component", "prompt").
				Str("name", info.Name).
				Int("chars", len(output.Result[0].Content))
			if opts.Verbose {
				ev = ev.Str("rendered", output.Result[0].Content)
			}
			ev.Msg("Prompt rendered")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Error().Err(err).
				Str("component", "prompt").
				Str("name", info.Name).
				Msg("Prompt render error")
			return ctx
		},
	}
}

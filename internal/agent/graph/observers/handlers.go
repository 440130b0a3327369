package observers

import (
	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// Options controls how much the observers log.
type Options struct {
	// Verbose logs full message contexts and rendered prompts at debug level.
	Verbose bool
}

// NewAllCallbacks aggregates the prompt, tool and chat model observers into one callbacks.Handler.
func NewAllCallbacks(opts Options) einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler()).
		ChatModel(newModelHandler(opts)).
		Prompt(newPromptHandler(opts)).
		Handler()
}

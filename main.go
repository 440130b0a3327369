package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logx "github.com/basedosdados/chatbot-sub000/pkg/logger"
)

func main() {
	logx.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logx.Error().Err(err).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

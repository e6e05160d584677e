// Package app provides the chatbot server application.
package app

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/cmd/chatbot/app/options"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/app"
)

const commandDesc = `Generic Chatbot Service

A retrieval-augmented conversational service.

This server provides:
  - Chat and message management per user
  - Question answering grounded on a Milvus corpus, streamed over WebSocket
  - Question classification with human handoff escalation and summaries
  - Token usage and cost accounting per chat`

// NewApp creates the chatbot command with default options.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	return app.NewApp(
		app.WithName(chatbot.Name),
		app.WithShortDescription("Retrieval-augmented chatbot service"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func(v *viper.Viper) error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := context.Background()
		srv, err := cfg.NewServer(ctx, v)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		return srv.Run(ctx)
	}
}

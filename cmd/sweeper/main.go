package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"insurance-agent/handler"
	"insurance-agent/internal/app"
)

func main() {
	ctx := context.Background()

	cfg, err := app.LoadSweeperConfig(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(app.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewSweepHandler(svc.Chat)
	if err != nil {
		slog.Error("failed to create sweep handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

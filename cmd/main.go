package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"mindspace-agent/internal/app"
	"mindspace-agent/internal/config"
)

func main() {
	ctx := context.Background()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("MINDSPACE_CONFIG_FILE"))
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	// ---- Service graph ----
	a, err := app.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build service", "err", err)
		os.Exit(1)
	}

	lambda.Start(a.Handler.Handle)
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hookvault/hookvault/internal/app/ingest"
	"github.com/hookvault/hookvault/internal/config"
	"github.com/hookvault/hookvault/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	logger.Info("starting ingest", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := ingest.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize ingest", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("ingest stopped with error", sl.Err(err))
		os.Exit(1)
	}
}

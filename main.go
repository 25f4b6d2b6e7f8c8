package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"prodsync/apps/backend/internal/app"
	"prodsync/apps/backend/internal/config"
	"prodsync/apps/backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	slog.SetDefault(log)

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "starting",
		"api", cfg.EnableAPI,
		"file_worker", cfg.EnableFileWorker,
		"ingest_worker", cfg.EnableIngestWorker,
		"queue", cfg.QueueDriver,
		"catalog", cfg.CatalogDriver,
		"embedding", cfg.EmbeddingProvider,
	)
	return application.Run(ctx)
}

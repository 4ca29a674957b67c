package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/application/factories/infrastructure"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/config"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/postgres"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/metrics"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/worker"
)

func main() {
	cfg, err := config.New()
	if err == nil {
		err = cfg.ValidateService()
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.Serve(ctx, cfg.Metrics.Addr, logger)

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	pub, err := infraFactory.Publisher(ctx)
	if err != nil {
		logger.Error("failed to init publisher", "error", err)
		os.Exit(1)
	}

	relay := worker.NewOutboxRelay(postgres.NewOutboxRepository(pgPool), pub, worker.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}, logger)

	if err := relay.Run(ctx); err != nil {
		logger.Error("worker stopped with error", "error", err)
	}

	logger.Info("worker exited")
}

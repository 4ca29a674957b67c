package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/application/factories/infrastructure"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/config"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// CONSUMER_NAME restricts the process to one configured consumer; by default
// every consumer runs side by side.
func main() {
	cfg, err := config.New()
	if err == nil {
		err = cfg.ValidateService()
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	consumers := cfg.Consumers
	if name := os.Getenv("CONSUMER_NAME"); name != "" {
		cc, ok := cfg.Consumer(name)
		if !ok {
			logger.Error("unknown consumer", "consumer", name)
			os.Exit(1)
		}
		consumers = []config.Consumer{cc}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.Serve(ctx, cfg.Metrics.Addr, logger)

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	g, gctx := errgroup.WithContext(ctx)
	for _, cc := range consumers {
		cc := cc
		c, err := infraFactory.Consumer(gctx, cc, nil)
		if err != nil {
			logger.Error("failed to build consumer", "consumer", cc.Name, "error", err)
			os.Exit(1)
		}

		g.Go(func() error {
			logger.Info("consumer started", "consumer", cc.Name, "broker", cfg.Broker.Driver, "store", cfg.Idempotency.Driver)
			return infraFactory.RunConsumer(gctx, c, cc)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("consumers exited")
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/api"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/application/factories/infrastructure"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/config"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/postgres"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/usecase"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	sink, err := infraFactory.Sink(ctx)
	if err != nil {
		logger.Error("failed to init event sink", "error", err)
		os.Exit(1)
	}

	createOrderUC := usecase.NewCreateOrder(sink)
	requestRefundUC := usecase.NewRequestRefund(sink)

	// The delivery trail lives in Postgres; other setups serve without it.
	var getDeliveriesUC *usecase.GetDeliveries
	if cfg.Publish.Mode == config.PublishOutbox || cfg.Idempotency.Driver == config.StorePostgres {
		pgPool, err := infraFactory.Postgres(ctx)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		getDeliveriesUC = usecase.NewGetDeliveries(postgres.NewOutboxRepository(pgPool), postgres.NewInboxRepository(pgPool))
	}

	var requests idempotency.Store
	if requests, err = infraFactory.RequestStore(ctx); err != nil {
		logger.Warn("idempotency keys disabled, redis unavailable", "error", err)
	}

	handlers := api.NewHandlers(createOrderUC, requestRefundUC, getDeliveriesUC)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.NewRouter(handlers, requests),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port, "publish_mode", cfg.Publish.Mode, "broker", cfg.Broker.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exiting")
}

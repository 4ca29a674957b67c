// Package worker relays events from the transactional outbox to the broker.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/outbox"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/metrics"
)

type EventPublisher interface {
	Publish(ctx context.Context, ev event.DomainEvent) (string, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	SendTimeout  time.Duration
}

// OutboxRelay claims batches of outbox rows and publishes each through the
// Publisher. Published rows are marked processed; rows whose publish failed
// go back to new and are picked up by a later poll with the same event id.
type OutboxRelay struct {
	repo      outbox.Repository
	publisher EventPublisher
	cfg       RelayConfig
	logger    *slog.Logger
}

func NewOutboxRelay(repo outbox.Repository, publisher EventPublisher, cfg RelayConfig, logger *slog.Logger) *OutboxRelay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &OutboxRelay{repo: repo, publisher: publisher, cfg: cfg, logger: logger}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "poll_interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				r.logger.Error("failed to process batch", "error", err)
			}
		}
	}
}

// ProcessBatch relays one batch and returns how many rows were published.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	rows, err := r.repo.FetchBatch(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var processedIDs []string
	var failedIDs []string

	for _, row := range rows {
		ev, err := row.DomainEvent()
		if err != nil {
			// Retrying cannot repair a corrupt row.
			r.logger.Error("dropping corrupt outbox row", "event_id", row.ID, "error", err)
			metrics.OutboxRelayed.WithLabelValues("corrupt").Inc()
			processedIDs = append(processedIDs, row.ID)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		msgID, err := r.publisher.Publish(sendCtx, ev)
		cancel()

		if err != nil {
			r.logger.Warn("failed to publish outbox event", "event_id", row.ID, "attempts", row.Attempts, "error", err)
			metrics.OutboxRelayed.WithLabelValues("failed").Inc()
			failedIDs = append(failedIDs, row.ID)
			continue
		}

		r.logger.Debug("outbox event published", "event_id", row.ID, "message_id", msgID)
		metrics.OutboxRelayed.WithLabelValues("published").Inc()
		processedIDs = append(processedIDs, row.ID)
	}

	// Failed rows go back to new first so a MarkProcessed error cannot strand
	// them in processing.
	var markErr error
	if len(failedIDs) > 0 {
		markErr = r.repo.MarkFailed(ctx, failedIDs)
	}

	if len(processedIDs) > 0 {
		if err := r.repo.MarkProcessed(ctx, processedIDs); err != nil {
			return 0, errors.Join(markErr, err)
		}
	}

	return len(processedIDs), markErr
}

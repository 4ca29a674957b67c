package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/outbox"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/infrastructure/postgres"
)

// Sink is where use cases hand finished domain events.
type Sink interface {
	Emit(ctx context.Context, ev event.DomainEvent) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev event.DomainEvent) (string, error)
}

// DirectSink publishes straight to the broker, retrying broker failures with
// the same event so consumers can deduplicate.
type DirectSink struct {
	publisher EventPublisher
	policy    RetryPolicy
	logger    *slog.Logger
}

func NewDirectSink(publisher EventPublisher, policy RetryPolicy, logger *slog.Logger) *DirectSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectSink{publisher: publisher, policy: policy, logger: logger}
}

func (s *DirectSink) Emit(ctx context.Context, ev event.DomainEvent) error {
	var msgID string
	attempts, err := Retry(ctx, s.policy, func(ctx context.Context) error {
		var err error
		msgID, err = s.publisher.Publish(ctx, ev)
		return err
	})
	if err != nil {
		return fmt.Errorf("publish %s after %d attempts: %w", ev.ID, attempts, err)
	}

	s.logger.InfoContext(ctx, "event published", "event_id", ev.ID, "kind", ev.Kind, "message_id", msgID, "attempts", attempts)
	return nil
}

// OutboxSink stores the event in the transactional outbox; the relay
// publishes it later.
type OutboxSink struct {
	txManager postgres.Transactor
	repo      outbox.Repository
}

func NewOutboxSink(txManager postgres.Transactor, repo outbox.Repository) *OutboxSink {
	return &OutboxSink{txManager: txManager, repo: repo}
}

func (s *OutboxSink) Emit(ctx context.Context, ev event.DomainEvent) error {
	err := s.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		return s.repo.Create(txCtx, outbox.FromDomain(ev))
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

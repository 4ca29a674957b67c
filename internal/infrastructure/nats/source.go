package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/consumer"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/nats-io/nats.go/jetstream"
)

// Handler processes a batch of envelopes and reports one result each.
type Handler interface {
	HandleBatch(ctx context.Context, envs []event.Envelope) []consumer.Result
}

type SourceConfig struct {
	Stream          string
	Subject         string
	Durable         string
	BatchSize       int
	MaxRedeliveries int
	RetryBackoff    time.Duration
	AckWait         time.Duration
}

// Source pulls from a durable JetStream consumer. Final dispositions are
// acked; Retryable ones are nacked with a delay so the server redelivers them,
// until MaxRedeliveries is spent.
type Source struct {
	cons   jetstream.Consumer
	cfg    SourceConfig
	logger *slog.Logger
}

func NewSource(ctx context.Context, js jetstream.JetStream, cfg SourceConfig, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Name:          cfg.Durable,
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxRedeliveries + 1,
		MaxAckPending: cfg.BatchSize * 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Durable, err)
	}

	return &Source{cons: cons, cfg: cfg, logger: logger.With("durable", cfg.Durable)}, nil
}

// Run consumes until ctx is cancelled.
func (s *Source) Run(ctx context.Context, h Handler) error {
	s.logger.Info("nats source started", "batch_size", s.cfg.BatchSize)

	for ctx.Err() == nil {
		batch, err := s.cons.Fetch(s.cfg.BatchSize, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			s.logger.Error("failed to fetch messages", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		var msgs []jetstream.Msg
		for m := range batch.Messages() {
			msgs = append(msgs, m)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && ctx.Err() == nil {
			s.logger.Warn("fetch ended early", "error", err)
		}
		if len(msgs) == 0 {
			continue
		}

		envs := make([]event.Envelope, len(msgs))
		for i, m := range msgs {
			envs[i] = toEnvelope(m.Data(), m.Headers())
		}

		results := h.HandleBatch(ctx, envs)
		for i, r := range results {
			s.settle(msgs[i], r)
		}
	}

	return nil
}

func (s *Source) settle(msg jetstream.Msg, r consumer.Result) {
	if !r.Disposition.Redeliver() {
		if err := msg.Ack(); err != nil {
			s.logger.Error("failed to ack message", "event_id", r.EventID, "error", err)
		}
		return
	}

	delivered := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		delivered = meta.NumDelivered
	}
	if delivered > uint64(s.cfg.MaxRedeliveries) {
		s.logger.Error("DLQ: dropping message after retries",
			"event_id", r.EventID, "deliveries", delivered, "error", r.Err)
		_ = msg.Term()
		return
	}

	if err := msg.NakWithDelay(s.cfg.RetryBackoff << (delivered - 1)); err != nil {
		s.logger.Error("failed to nak message", "event_id", r.EventID, "error", err)
	}
}

package kafka

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/consumer"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/segmentio/kafka-go"
)

// Handler processes a batch of envelopes and reports one result each.
type Handler interface {
	HandleBatch(ctx context.Context, envs []event.Envelope) []consumer.Result
}

type SourceConfig struct {
	Brokers []string
	Topic   string
	// GroupID should be unique per logical consumer so every consumer sees
	// every record.
	GroupID         string
	StartOffset     string // "earliest" (default) or "latest"
	BatchSize       int
	MaxRedeliveries int
	RetryBackoff    time.Duration
}

// Source feeds a consumer group's records to a Handler and commits offsets
// once every record of a batch reached a final disposition.
type Source struct {
	reader *kafka.Reader
	cfg    SourceConfig
	logger *slog.Logger
}

func NewSource(cfg SourceConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	startOffset := kafka.FirstOffset
	if strings.EqualFold(strings.TrimSpace(cfg.StartOffset), "latest") {
		startOffset = kafka.LastOffset
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false, // Force IPv4
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
		StartOffset: startOffset,
	})

	return &Source{
		reader: r,
		cfg:    cfg,
		logger: logger.With("group_id", cfg.GroupID, "topic", cfg.Topic),
	}
}

// Run consumes until ctx is cancelled.
func (s *Source) Run(ctx context.Context, h Handler) error {
	s.logger.Info("kafka source started", "batch_size", s.cfg.BatchSize)

	for {
		msgs, err := s.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to fetch message", "error", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		envs := make([]event.Envelope, len(msgs))
		for i, m := range msgs {
			envs[i] = toEnvelope(m)
		}

		err = Redeliver(ctx, h, envs, s.cfg.MaxRedeliveries, s.cfg.RetryBackoff, func(env event.Envelope, res consumer.Result) {
			s.logger.Error("DLQ: dropping message after retries",
				"event_id", res.EventID, "retries", s.cfg.MaxRedeliveries, "error", res.Err)
		})
		if err != nil {
			// Shutting down mid-backoff: leave offsets uncommitted.
			return nil
		}

		if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to commit kafka messages", "error", err)
		}
	}
}

// fetchBatch blocks for the first record, then lingers briefly for more.
func (s *Source) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	lingerCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	for len(msgs) < s.cfg.BatchSize {
		m, err := s.reader.FetchMessage(lingerCtx)
		if err != nil {
			break
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}

func (s *Source) Close() error {
	return s.reader.Close()
}

// Redeliver hands envs to h and redelivers Retryable ones with exponential
// backoff, up to maxRedeliveries times. Envelopes still Retryable after that
// are passed to deadLetter. It returns ctx.Err() when cancelled mid-backoff.
func Redeliver(ctx context.Context, h Handler, envs []event.Envelope, maxRedeliveries int, backoff time.Duration, deadLetter func(event.Envelope, consumer.Result)) error {
	for attempt := 0; len(envs) > 0; attempt++ {
		results := h.HandleBatch(ctx, envs)

		var retry []event.Envelope
		var last []consumer.Result
		for i, r := range results {
			if r.Disposition.Redeliver() {
				retry = append(retry, envs[i])
				last = append(last, r)
			}
		}
		if len(retry) == 0 {
			return nil
		}

		if attempt >= maxRedeliveries {
			for i, env := range retry {
				deadLetter(env, last[i])
			}
			return nil
		}

		if !sleep(ctx, backoff<<attempt) {
			return ctx.Err()
		}
		envs = retry
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

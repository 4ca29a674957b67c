// Package publisher turns domain events into envelopes and hands them to a
// broker. It never retries: every Publish is exactly one Send, and the caller
// owns the retry policy.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/metrics"
)

// ErrBrokerSend marks a failure returned by the broker. Publishing the same
// event again is safe, consumers deduplicate on the event id.
var ErrBrokerSend = errors.New("broker send failed")

// Broker delivers an envelope to every interested consumer at least once and
// returns the broker-assigned message id.
type Broker interface {
	Send(ctx context.Context, env event.Envelope) (string, error)
}

// BrokerFunc adapts a function to Broker.
type BrokerFunc func(ctx context.Context, env event.Envelope) (string, error)

func (f BrokerFunc) Send(ctx context.Context, env event.Envelope) (string, error) {
	return f(ctx, env)
}

type Publisher struct {
	broker   Broker
	derivers []event.Deriver
	logger   *slog.Logger
}

func New(broker Broker, logger *slog.Logger, derivers ...event.Deriver) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{broker: broker, derivers: derivers, logger: logger}
}

// Publish encodes ev and sends it. Encoding failures are returned as is;
// broker failures wrap ErrBrokerSend.
func (p *Publisher) Publish(ctx context.Context, ev event.DomainEvent) (string, error) {
	env, err := event.Encode(ev, p.derivers...)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(ev.Kind, "encode_error").Inc()
		return "", fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	started := time.Now()
	msgID, err := p.broker.Send(ctx, env)
	metrics.PublishDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.EventsPublished.WithLabelValues(ev.Kind, "send_error").Inc()
		p.logger.Warn("broker send failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
		return "", fmt.Errorf("%w: event %s: %w", ErrBrokerSend, ev.ID, err)
	}

	metrics.EventsPublished.WithLabelValues(ev.Kind, "ok").Inc()
	p.logger.Debug("event published", "event_id", ev.ID, "kind", ev.Kind, "message_id", msgID)
	return msgID, nil
}

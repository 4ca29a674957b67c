// Package consumer implements the per-delivery state machine of an
// idempotent subscriber:
//
//	received -> decoded -> filtered -> deduplicated -> effect applied
//
// Every delivery ends in exactly one Disposition. A delivery is never rolled
// back once admitted by the idempotency store: if the effect fails the id stays
// reserved and the failure is reported as Failed.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/filter"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrEffectFailed wraps an error (or panic) raised by the business effect.
var ErrEffectFailed = errors.New("business effect failed")

type Disposition int

const (
	// Dropped: the body could not be decoded. Not retried.
	Dropped Disposition = iota + 1
	// Ignored: the filter rules did not match.
	Ignored
	// Skipped: the event id was already reserved by an earlier delivery.
	Skipped
	// Processed: the effect ran for the first time.
	Processed
	// Retryable: the store was unavailable; the broker should redeliver.
	Retryable
	// Failed: the effect returned an error. The id stays reserved.
	Failed
)

func (d Disposition) String() string {
	switch d {
	case Dropped:
		return "dropped"
	case Ignored:
		return "ignored"
	case Skipped:
		return "skipped"
	case Processed:
		return "processed"
	case Retryable:
		return "retryable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Redeliver reports whether the broker should deliver the envelope again.
func (d Disposition) Redeliver() bool {
	return d == Retryable
}

// Result is the outcome of one delivery.
type Result struct {
	EventID     string
	Disposition Disposition
	Err         error
}

// Effect is the business action a consumer runs once per event.
type Effect interface {
	Apply(ctx context.Context, ev event.DomainEvent) error
}

// EffectFunc adapts a function to Effect.
type EffectFunc func(ctx context.Context, ev event.DomainEvent) error

func (f EffectFunc) Apply(ctx context.Context, ev event.DomainEvent) error {
	return f(ctx, ev)
}

type Config struct {
	Name  string
	Rules []filter.Rule
	// Derivers recompute domain attributes when an intermediary strips them.
	Derivers []event.Deriver
	// Concurrency bounds HandleBatch. Zero means one delivery at a time.
	Concurrency int
}

type Consumer struct {
	name        string
	rules       []filter.Rule
	derivers    []event.Deriver
	concurrency int
	store       idempotency.Store
	effect      Effect
	logger      *slog.Logger
}

func New(cfg Config, store idempotency.Store, effect Effect, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Consumer{
		name:        cfg.Name,
		rules:       cfg.Rules,
		derivers:    cfg.Derivers,
		concurrency: cfg.Concurrency,
		store:       store,
		effect:      effect,
		logger:      logger.With("consumer", cfg.Name),
	}
}

func (c *Consumer) Name() string {
	return c.name
}

// Handle runs one delivery through the state machine.
func (c *Consumer) Handle(ctx context.Context, env event.Envelope) Result {
	res := c.handle(ctx, env)
	metrics.Dispositions.WithLabelValues(c.name, res.Disposition.String()).Inc()

	switch res.Disposition {
	case Dropped:
		c.logger.Error("dropping malformed envelope", "event_id", res.EventID, "error", res.Err)
	case Retryable:
		c.logger.Warn("delivery will be retried", "event_id", res.EventID, "error", res.Err)
	case Failed:
		c.logger.Error("effect failed, event stays reserved", "event_id", res.EventID, "error", res.Err)
	default:
		c.logger.Debug("delivery handled", "event_id", res.EventID, "disposition", res.Disposition.String())
	}

	return res
}

func (c *Consumer) handle(ctx context.Context, env event.Envelope) Result {
	ev, err := event.Decode(env.Body)
	if err != nil {
		return Result{EventID: env.Attributes[event.AttrEventID], Disposition: Dropped, Err: err}
	}

	attrs := event.Backfill(env.Attributes, ev, c.derivers...)
	if !filter.MatchAll(c.rules, attrs) {
		return Result{EventID: ev.ID, Disposition: Ignored}
	}

	outcome, err := c.store.TryBegin(ctx, ev.ID)
	if err != nil {
		if !errors.Is(err, idempotency.ErrStoreUnavailable) {
			err = idempotency.Unavailable("try begin", err)
		}
		return Result{EventID: ev.ID, Disposition: Retryable, Err: err}
	}
	if outcome == idempotency.AlreadyProcessed {
		return Result{EventID: ev.ID, Disposition: Skipped}
	}

	if err := c.apply(ctx, ev); err != nil {
		return Result{EventID: ev.ID, Disposition: Failed, Err: fmt.Errorf("%w: %w", ErrEffectFailed, err)}
	}

	if err := c.store.Commit(ctx, ev.ID); err != nil {
		// The reservation alone already prevents a second effect.
		c.logger.Warn("commit failed, reservation kept", "event_id", ev.ID, "error", err)
	}

	return Result{EventID: ev.ID, Disposition: Processed}
}

func (c *Consumer) apply(ctx context.Context, ev event.DomainEvent) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.EffectDuration.WithLabelValues(c.name).Observe(time.Since(started).Seconds())
	}()

	return c.effect.Apply(ctx, ev)
}

// HandleBatch handles every envelope independently and returns one Result per
// envelope, in input order.
func (c *Consumer) HandleBatch(ctx context.Context, envs []event.Envelope) []Result {
	results := make([]Result, len(envs))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, env := range envs {
		i, env := i, env
		g.Go(func() error {
			results[i] = c.Handle(ctx, env)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Tally counts results per disposition.
func Tally(results []Result) map[Disposition]int {
	out := make(map[Disposition]int)
	for _, r := range results {
		out[r.Disposition]++
	}
	return out
}

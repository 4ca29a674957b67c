// Package memory provides an in-process broker with at-least-once fan-out
// semantics: every subscriber receives each envelope, optionally several
// times and in shuffled order.
package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/consumer"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
)

var ErrClosed = errors.New("broker closed")

// Handler receives a batch of deliveries and reports one result each.
type Handler interface {
	Name() string
	HandleBatch(ctx context.Context, envs []event.Envelope) []consumer.Result
}

type Config struct {
	// Duplicates is how many extra copies of each envelope a subscriber gets.
	Duplicates int
	// Shuffle randomizes delivery order within a drain.
	Shuffle bool
	// MaxRedeliveries bounds redelivery of Retryable results.
	MaxRedeliveries int
	Seed            int64
}

type subscription struct {
	handler Handler
	queue   []event.Envelope
}

type Broker struct {
	cfg    Config
	mu     sync.Mutex
	subs   []*subscription
	rnd    *rand.Rand
	seq    atomic.Int64
	closed bool
	// failNext makes the next Send calls fail, for exercising retry paths.
	failNext int
}

func NewBroker(cfg Config) *Broker {
	return &Broker{cfg: cfg, rnd: rand.New(rand.NewSource(cfg.Seed))}
}

func (b *Broker) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, &subscription{handler: h})
}

// FailNext makes the next n Send calls fail.
func (b *Broker) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// Send queues a copy of env for every subscriber, Duplicates+1 times.
func (b *Broker) Send(ctx context.Context, env event.Envelope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrClosed
	}
	if b.failNext > 0 {
		b.failNext--
		return "", errors.New("broker temporarily unavailable")
	}

	for _, s := range b.subs {
		for i := 0; i <= b.cfg.Duplicates; i++ {
			s.queue = append(s.queue, clone(env))
		}
	}

	return fmt.Sprintf("mem-%d", b.seq.Add(1)), nil
}

// Drain delivers every queued envelope. Subscribers run concurrently with
// each other. Retryable results are redelivered up to MaxRedeliveries times.
func (b *Broker) Drain(ctx context.Context) map[string][]consumer.Result {
	b.mu.Lock()
	batches := make([]*subscription, 0, len(b.subs))
	pending := make([][]event.Envelope, 0, len(b.subs))
	for _, s := range b.subs {
		q := s.queue
		s.queue = nil
		if b.cfg.Shuffle {
			b.rnd.Shuffle(len(q), func(i, j int) { q[i], q[j] = q[j], q[i] })
		}
		batches = append(batches, s)
		pending = append(pending, q)
	}
	b.mu.Unlock()

	out := make(map[string][]consumer.Result, len(batches))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, s := range batches {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := b.deliver(ctx, s.handler, pending[i])
			mu.Lock()
			out[s.handler.Name()] = append(out[s.handler.Name()], results...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return out
}

func (b *Broker) deliver(ctx context.Context, h Handler, envs []event.Envelope) []consumer.Result {
	var all []consumer.Result
	for attempt := 0; len(envs) > 0; attempt++ {
		results := h.HandleBatch(ctx, envs)
		all = append(all, results...)

		if attempt >= b.cfg.MaxRedeliveries || ctx.Err() != nil {
			break
		}
		var again []event.Envelope
		for i, r := range results {
			if r.Disposition.Redeliver() {
				again = append(again, envs[i])
			}
		}
		envs = again
	}
	return all
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func clone(env event.Envelope) event.Envelope {
	attrs := make(map[string]string, len(env.Attributes))
	for k, v := range env.Attributes {
		attrs[k] = v
	}
	body := make([]byte, len(env.Body))
	copy(body, env.Body)
	return event.Envelope{Body: body, Attributes: attrs}
}

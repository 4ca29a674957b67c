// Package idempotency defines the store consumers use to make sure a business
// effect runs at most once per event id.
//
// TryBegin is the only correctness-critical primitive: it must check for an
// existing record and reserve the id in one atomic step, so that of any number
// of concurrent callers with the same id exactly one is Admitted.
//
// A reservation that is never committed (the effect failed, or Commit itself
// failed) still counts as processed. Stores favour "no duplicate effect" over
// "effect guaranteed to complete"; an operator replays such ids by hand.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome of a TryBegin call.
type Outcome int

const (
	// Admitted means the caller won the reservation and must run the effect.
	Admitted Outcome = iota + 1
	// AlreadyProcessed means another delivery reserved the id first.
	AlreadyProcessed
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// ErrStoreUnavailable wraps every storage failure. It is retryable: the caller
// must not mark the delivery processed and should rely on redelivery.
var ErrStoreUnavailable = errors.New("idempotency store unavailable")

// Store is implemented by the Postgres, Redis, SQLite and memory backends.
// A Store instance is scoped to one consumer.
type Store interface {
	TryBegin(ctx context.Context, id string) (Outcome, error)
	Commit(ctx context.Context, id string) error
}

// Unavailable wraps err as a storage failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// MemoryStore keeps reservations in a map guarded by a mutex. It only
// deduplicates within one process and is meant for tests and simulations;
// each instance owns its own state.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	reservedAt  time.Time
	committedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) TryBegin(ctx context.Context, id string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, Unavailable("try begin", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return AlreadyProcessed, nil
	}
	s.records[id] = &memoryRecord{reservedAt: s.now()}
	return Admitted, nil
}

func (s *MemoryStore) Commit(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return Unavailable("commit", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("commit %s: not reserved", id)
	}
	rec.committedAt = s.now()
	return nil
}

// Len returns the number of reserved ids.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Committed reports whether id was reserved and committed.
func (s *MemoryStore) Committed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return ok && !rec.committedAt.IsZero()
}

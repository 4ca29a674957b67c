package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	"github.com/redis/go-redis/v9"
)

const (
	valueReserved  = "reserved"
	valueCommitted = "committed"
)

// Store is an idempotency.Store on top of SET NX. Keys live under
// "<namespace>:<consumer>:<id>"; a zero TTL keeps them forever.
type Store struct {
	client    redis.Cmdable
	namespace string
	consumer  string
	ttl       time.Duration
	commitTTL time.Duration
}

func NewStore(client redis.Cmdable, namespace, consumer string, ttl time.Duration) *Store {
	if namespace == "" {
		namespace = "inbox"
	}
	return &Store{client: client, namespace: namespace, consumer: consumer, ttl: ttl}
}

// WithCommitTTL makes Commit reset the key TTL to d instead of keeping the
// reservation TTL. Short reservations then expire on their own when the work
// never commits.
func (s *Store) WithCommitTTL(d time.Duration) *Store {
	s.commitTTL = d
	return s
}

func (s *Store) key(id string) string {
	return s.namespace + ":" + s.consumer + ":" + id
}

func (s *Store) TryBegin(ctx context.Context, id string) (idempotency.Outcome, error) {
	ok, err := s.client.SetNX(ctx, s.key(id), valueReserved, s.ttl).Result()
	if err == redis.Nil {
		return idempotency.AlreadyProcessed, nil
	}
	if err != nil {
		return 0, idempotency.Unavailable("setnx "+s.key(id), err)
	}
	if !ok {
		return idempotency.AlreadyProcessed, nil
	}
	return idempotency.Admitted, nil
}

// Commit flips a reservation to committed.
func (s *Store) Commit(ctx context.Context, id string) error {
	args := redis.SetArgs{Mode: "XX", KeepTTL: true}
	if s.commitTTL > 0 {
		args = redis.SetArgs{Mode: "XX", TTL: s.commitTTL}
	}

	res, err := s.client.SetArgs(ctx, s.key(id), valueCommitted, args).Result()
	if err == redis.Nil {
		return fmt.Errorf("commit %s: not reserved", id)
	}
	if err != nil {
		return idempotency.Unavailable("commit "+s.key(id), err)
	}
	if res != "OK" {
		return fmt.Errorf("commit %s: unexpected reply %q", id, res)
	}
	return nil
}

// State returns "reserved", "committed" or "" for an unknown id.
func (s *Store) State(ctx context.Context, id string) (string, error) {
	v, err := s.client.Get(ctx, s.key(id)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", idempotency.Unavailable("get "+s.key(id), err)
	}
	return v, nil
}

package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, "", "notifier", ttl), mr
}

func TestStore_TryBeginAndCommit(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 0)

	outcome, err := store.TryBegin(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Admitted, outcome)

	v, err := mr.Get("inbox:notifier:E1")
	require.NoError(t, err)
	assert.Equal(t, valueReserved, v)

	outcome, err = store.TryBegin(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.AlreadyProcessed, outcome)

	require.NoError(t, store.Commit(ctx, "E1"))
	state, err := store.State(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, valueCommitted, state)

	outcome, err = store.TryBegin(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.AlreadyProcessed, outcome)
}

func TestStore_CommitUnreserved(t *testing.T) {
	store, mr := newTestStore(t, 0)

	err := store.Commit(context.Background(), "missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, idempotency.ErrStoreUnavailable)
	assert.False(t, mr.Exists("inbox:notifier:missing"))
}

func TestStore_TTLIsKeptOnCommit(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, time.Hour)

	_, err := store.TryBegin(ctx, "E1")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, "E1"))
	assert.Equal(t, time.Hour, mr.TTL("inbox:notifier:E1"))

	mr.FastForward(2 * time.Hour)
	outcome, err := store.TryBegin(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Admitted, outcome, "expired reservation is admitted again")
}

func TestStore_ConcurrentTryBegin(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	const callers = 32
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.TryBegin(ctx, "E1")
			if assert.NoError(t, err) && outcome == idempotency.Admitted {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 0)
	mr.Close()

	_, err := store.TryBegin(ctx, "E1")
	require.ErrorIs(t, err, idempotency.ErrStoreUnavailable)

	err = store.Commit(ctx, "E1")
	require.ErrorIs(t, err, idempotency.ErrStoreUnavailable)
}

func TestStore_CommitTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 10*time.Second)
	store.WithCommitTTL(24 * time.Hour)

	_, err := store.TryBegin(ctx, "abandoned")
	require.NoError(t, err)
	_, err = store.TryBegin(ctx, "done")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, "done"))

	assert.Equal(t, 24*time.Hour, mr.TTL("inbox:notifier:done"))

	mr.FastForward(time.Minute)
	outcome, err := store.TryBegin(ctx, "abandoned")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Admitted, outcome)

	outcome, err = store.TryBegin(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, idempotency.AlreadyProcessed, outcome)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), Config{Addr: mr.Addr(), PoolSize: 2, OpTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.Equal(t, time.Second, client.Options().ReadTimeout)

	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(context.Background(), Config{Addr: addr, OpTimeout: 200 * time.Millisecond})
	assert.ErrorContains(t, err, "ping redis")
}

package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ExactlyOneAdmitted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const callers = 64
	var admitted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.TryBegin(ctx, "E1")
			assert.NoError(t, err)
			switch outcome {
			case Admitted:
				admitted.Add(1)
			case AlreadyProcessed:
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, int32(callers-1), duplicates.Load())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Commit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.Error(t, store.Commit(ctx, "E1"), "commit without reservation")

	_, err := store.TryBegin(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, store.Committed("E1"))

	require.NoError(t, store.Commit(ctx, "E1"))
	assert.True(t, store.Committed("E1"))

	outcome, err := store.TryBegin(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyProcessed, outcome)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.TryBegin(ctx, "E1")
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Zero(t, store.Len(), "cancelled call leaves no reservation")
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "admitted", Admitted.String())
	assert.Equal(t, "already_processed", AlreadyProcessed.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_OccurredAtSurvivesMicrosecondStorage(t *testing.T) {
	ev, err := New("OrderCreated", map[string]string{"order_id": "o-1"})
	require.NoError(t, err)

	assert.Equal(t, ev.OccurredAt, ev.OccurredAt.Truncate(time.Microsecond))
	assert.Equal(t, time.UTC, ev.OccurredAt.Location())

	// A TIMESTAMPTZ column keeps microseconds.
	stored, err := FromParts(ev.ID, ev.OccurredAt.Truncate(time.Microsecond), ev.Kind, ev.Payload)
	require.NoError(t, err)
	assert.True(t, stored.OccurredAt.Equal(ev.OccurredAt))

	original, err := Encode(ev)
	require.NoError(t, err)
	relayed, err := Encode(stored)
	require.NoError(t, err)
	assert.Equal(t, string(original.Body), string(relayed.Body))
}

package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroker struct {
	sent []event.Envelope
	err  error
}

func (b *recordingBroker) Send(_ context.Context, env event.Envelope) (string, error) {
	b.sent = append(b.sent, env)
	if b.err != nil {
		return "", b.err
	}
	return "msg-1", nil
}

func newEvent(t *testing.T) event.DomainEvent {
	t.Helper()
	ev, err := event.FromParts("E1", time.Now(), "OrderCreated", []byte(`{"order_id":"o-1","total":42.5}`))
	require.NoError(t, err)
	return ev
}

func TestPublish(t *testing.T) {
	broker := &recordingBroker{}
	region := func(event.DomainEvent) (map[string]string, error) {
		return map[string]string{"Region": "eu"}, nil
	}
	p := New(broker, nil, region)
	ev := newEvent(t)

	id, err := p.Publish(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.Len(t, broker.sent, 1)
	env := broker.sent[0]
	assert.Equal(t, map[string]string{
		event.AttrEventType: "OrderCreated",
		event.AttrEventID:   "E1",
		"Region":            "eu",
	}, env.Attributes)

	decoded, err := event.Decode(env.Body)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestPublish_BrokerFailureIsNotRetried(t *testing.T) {
	cause := errors.New("connection reset")
	broker := &recordingBroker{err: cause}
	p := New(broker, nil)

	_, err := p.Publish(context.Background(), newEvent(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrokerSend)
	assert.ErrorIs(t, err, cause)
	assert.Len(t, broker.sent, 1, "exactly one send per publish")
}

func TestPublish_EncodeFailureNeverReachesBroker(t *testing.T) {
	var calls int
	broker := BrokerFunc(func(context.Context, event.Envelope) (string, error) {
		calls++
		return "", nil
	})
	failing := func(event.DomainEvent) (map[string]string, error) {
		return nil, errors.New("boom")
	}
	p := New(broker, nil, failing)

	_, err := p.Publish(context.Background(), newEvent(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBrokerSend)
	assert.Zero(t, calls)
}

package effects

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createdEvent(t *testing.T, orderID, total string) event.DomainEvent {
	t.Helper()
	ev, err := event.New(order.KindOrderCreated, order.Created{
		OrderID:      orderID,
		CustomerName: "Ada Lovelace",
		TotalAmount:  decimal.RequireFromString(total),
		CreatedAt:    time.Now().UTC(),
		ProductNames: []string{"Keyboard", "Mouse"},
	})
	require.NoError(t, err)
	return ev
}

func TestNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, n.Apply(context.Background(), createdEvent(t, "o-1", "42.5")))
	assert.Contains(t, buf.String(), `"msg":"order confirmation sent"`)
	assert.Contains(t, buf.String(), `"total_amount":"42.50"`)
	assert.Contains(t, buf.String(), `"products":"Keyboard, Mouse"`)

	bad := event.DomainEvent{ID: "E1", Kind: order.KindOrderCreated, Payload: []byte(`{"total_amount":[]}`)}
	assert.Error(t, n.Apply(context.Background(), bad))
}

func TestRevenueLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ledger := NewRevenueLedger(client, "")
	ctx := context.Background()

	require.NoError(t, ledger.Apply(ctx, createdEvent(t, "o-1", "42.50")))
	require.NoError(t, ledger.Apply(ctx, createdEvent(t, "o-2", "10.25")))
	require.NoError(t, ledger.Apply(ctx, createdEvent(t, "o-3", "1500")))

	refund, err := event.New(order.KindRefundRequested, order.RefundRequested{OrderID: "o-1"})
	require.NoError(t, err)
	require.NoError(t, ledger.Apply(ctx, refund), "other kinds are ignored")

	totals, err := ledger.Totals(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("52.75").Equal(totals[order.SegmentRetail]))
	assert.True(t, decimal.NewFromInt(1500).Equal(totals[order.SegmentWholesale]))

	mr.Close()
	assert.Error(t, ledger.Apply(ctx, createdEvent(t, "o-4", "1")))
}

func TestJournal(t *testing.T) {
	j := NewJournal()
	ctx := context.Background()
	ev := createdEvent(t, "o-1", "1")

	require.NoError(t, j.Apply(ctx, ev))
	assert.Equal(t, 1, j.Count(ev.ID))
	assert.Empty(t, j.Duplicates())

	require.NoError(t, j.Apply(ctx, ev))
	assert.Equal(t, []string{ev.ID}, j.Duplicates())
	assert.Equal(t, 2, j.Total())
}

func TestBuild(t *testing.T) {
	journal := NewJournal()

	eff, err := Build(NameJournal, Deps{Journal: journal})
	require.NoError(t, err)
	assert.Same(t, journal, eff)

	eff, err = Build(NameNotify, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &Notifier{}, eff)

	_, err = Build(NameRevenue, Deps{})
	assert.Error(t, err)

	_, err = Build("sms", Deps{})
	assert.ErrorIs(t, err, ErrUnknownEffect)
}

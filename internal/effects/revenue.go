package effects

import (
	"context"
	"fmt"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const defaultRevenueKey = "revenue:by_segment"

// RevenueLedger keeps booked revenue per customer segment in a Redis hash,
// stored in cents. Running it twice for one event books it twice, which is
// why it sits behind an idempotent consumer.
type RevenueLedger struct {
	client redis.Cmdable
	key    string
}

func NewRevenueLedger(client redis.Cmdable, key string) *RevenueLedger {
	if key == "" {
		key = defaultRevenueKey
	}
	return &RevenueLedger{client: client, key: key}
}

func (l *RevenueLedger) Apply(ctx context.Context, ev event.DomainEvent) error {
	if ev.Kind != order.KindOrderCreated {
		return nil
	}

	var c order.Created
	if err := ev.DecodePayload(&c); err != nil {
		return err
	}

	cents := c.TotalAmount.Shift(2).Round(0).IntPart()
	if err := l.client.HIncrBy(ctx, l.key, order.Segment(c.TotalAmount), cents).Err(); err != nil {
		return fmt.Errorf("book revenue for %s: %w", c.OrderID, err)
	}
	return nil
}

// Totals returns the booked revenue per segment.
func (l *RevenueLedger) Totals(ctx context.Context) (map[string]decimal.Decimal, error) {
	raw, err := l.client.HGetAll(ctx, l.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read revenue: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(raw))
	for segment, v := range raw {
		cents, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse revenue for %s: %w", segment, err)
		}
		out[segment] = cents.Shift(-2)
	}
	return out, nil
}

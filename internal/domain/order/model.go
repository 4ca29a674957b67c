package order

import (
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/shopspring/decimal"
)

const (
	KindOrderCreated    = "OrderCreated"
	KindRefundRequested = "RefundRequested"
)

const (
	SegmentRetail    = "Retail"
	SegmentWholesale = "Wholesale"
)

// WholesaleThreshold is the order total from which a customer is routed to
// the wholesale segment.
var WholesaleThreshold = decimal.NewFromInt(1000)

type Item struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type Order struct {
	ID           string          `json:"id"`
	CustomerName string          `json:"customer_name"`
	Items        []Item          `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Total sums quantity times unit price over items.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Created is the payload of an OrderCreated event.
type Created struct {
	OrderID      string          `json:"order_id"`
	CustomerName string          `json:"customer_name"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	ProductNames []string        `json:"product_names"`
}

// RefundRequested is the payload of a RefundRequested event.
type RefundRequested struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewCreated builds the OrderCreated payload for o.
func NewCreated(o Order) Created {
	names := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		names = append(names, it.ProductName)
	}

	return Created{
		OrderID:      o.ID,
		CustomerName: o.CustomerName,
		TotalAmount:  o.TotalAmount,
		CreatedAt:    o.CreatedAt,
		ProductNames: names,
	}
}

// Segment classifies a customer by order total.
func Segment(total decimal.Decimal) string {
	if total.GreaterThanOrEqual(WholesaleThreshold) {
		return SegmentWholesale
	}
	return SegmentRetail
}

// RoutingAttributes derives OrderId and Segment from order events. Events of
// other kinds get no extra attributes.
func RoutingAttributes(ev event.DomainEvent) (map[string]string, error) {
	switch ev.Kind {
	case KindOrderCreated:
		var c Created
		if err := ev.DecodePayload(&c); err != nil {
			return nil, err
		}
		return map[string]string{
			event.AttrOrderID: c.OrderID,
			event.AttrSegment: Segment(c.TotalAmount),
		}, nil
	case KindRefundRequested:
		var r RefundRequested
		if err := ev.DecodePayload(&r); err != nil {
			return nil, err
		}
		return map[string]string{event.AttrOrderID: r.OrderID}, nil
	default:
		return nil, nil
	}
}

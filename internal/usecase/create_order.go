package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
	"github.com/google/uuid"
)

var ErrInvalidOrder = errors.New("invalid order")

type CreateOrder struct {
	sink Sink
	now  func() time.Time
}

func NewCreateOrder(sink Sink) *CreateOrder {
	return &CreateOrder{sink: sink, now: time.Now}
}

type CreateOrderParams struct {
	CustomerName string       `json:"customer_name"`
	Items        []order.Item `json:"items"`
}

type CreateOrderResult struct {
	OrderID     string `json:"order_id"`
	EventID     string `json:"event_id"`
	TotalAmount string `json:"total_amount"`
	Segment     string `json:"segment"`
}

func (uc *CreateOrder) Execute(ctx context.Context, params CreateOrderParams) (*CreateOrderResult, error) {
	if len(params.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	for _, it := range params.Items {
		if it.Quantity < 1 || it.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: item %q", ErrInvalidOrder, it.ProductID)
		}
	}

	newOrder := order.Order{
		ID:           uuid.New().String(),
		CustomerName: params.CustomerName,
		Items:        params.Items,
		TotalAmount:  order.Total(params.Items),
		CreatedAt:    uc.now().UTC(),
	}

	ev, err := event.New(order.KindOrderCreated, order.NewCreated(newOrder))
	if err != nil {
		return nil, err
	}

	if err := uc.sink.Emit(ctx, ev); err != nil {
		return nil, err
	}

	return &CreateOrderResult{
		OrderID:     newOrder.ID,
		EventID:     ev.ID,
		TotalAmount: newOrder.TotalAmount.StringFixed(2),
		Segment:     order.Segment(newOrder.TotalAmount),
	}, nil
}

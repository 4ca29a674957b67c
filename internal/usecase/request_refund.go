package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
)

type RequestRefund struct {
	sink Sink
	now  func() time.Time
}

func NewRequestRefund(sink Sink) *RequestRefund {
	return &RequestRefund{sink: sink, now: time.Now}
}

type RequestRefundParams struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// Execute emits a RefundRequested event and returns its id.
func (uc *RequestRefund) Execute(ctx context.Context, params RequestRefundParams) (string, error) {
	if params.OrderID == "" {
		return "", fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}

	ev, err := event.New(order.KindRefundRequested, order.RefundRequested{
		OrderID:     params.OrderID,
		Reason:      params.Reason,
		RequestedAt: uc.now().UTC(),
	})
	if err != nil {
		return "", err
	}

	if err := uc.sink.Emit(ctx, ev); err != nil {
		return "", err
	}
	return ev.ID, nil
}

package effects

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/order"
)

// Notifier sends the customer a confirmation for each order event. Delivery
// is a structured log line; no mail gateway is wired.
type Notifier struct {
	logger *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) Apply(ctx context.Context, ev event.DomainEvent) error {
	switch ev.Kind {
	case order.KindOrderCreated:
		var c order.Created
		if err := ev.DecodePayload(&c); err != nil {
			return err
		}
		n.logger.InfoContext(ctx, "order confirmation sent",
			"event_id", ev.ID,
			"order_id", c.OrderID,
			"customer", c.CustomerName,
			"total_amount", c.TotalAmount.StringFixed(2),
			"products", strings.Join(c.ProductNames, ", "),
		)
	case order.KindRefundRequested:
		var r order.RefundRequested
		if err := ev.DecodePayload(&r); err != nil {
			return err
		}
		n.logger.InfoContext(ctx, "refund acknowledgement sent",
			"event_id", ev.ID,
			"order_id", r.OrderID,
			"reason", r.Reason,
		)
	default:
		n.logger.DebugContext(ctx, "no notification for event kind", "event_id", ev.ID, "kind", ev.Kind)
	}
	return nil
}

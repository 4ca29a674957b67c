package usecase

import (
	"context"
	"fmt"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/inbox"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/outbox"
)

type OutboxReader interface {
	GetByID(ctx context.Context, id string) (*outbox.Event, error)
}

type InboxReader interface {
	ListByEventID(ctx context.Context, eventID string) ([]*inbox.Record, error)
}

// DeliveriesDTO is the delivery trail of one event: its outbox row, if it was
// relayed, and the inbox record of every consumer that admitted it.
type DeliveriesDTO struct {
	EventID string          `json:"event_id"`
	Outbox  *outbox.Event   `json:"outbox,omitempty"`
	Inbox   []*inbox.Record `json:"inbox"`
}

type GetDeliveries struct {
	outboxRepo OutboxReader
	inboxRepo  InboxReader
}

func NewGetDeliveries(outboxRepo OutboxReader, inboxRepo InboxReader) *GetDeliveries {
	return &GetDeliveries{
		outboxRepo: outboxRepo,
		inboxRepo:  inboxRepo,
	}
}

func (uc *GetDeliveries) Execute(ctx context.Context, eventID string) (*DeliveriesDTO, error) {
	outboxEvent, err := uc.outboxRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get outbox event: %w", err)
	}

	records, err := uc.inboxRepo.ListByEventID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("get inbox records: %w", err)
	}
	if records == nil {
		records = []*inbox.Record{}
	}

	return &DeliveriesDTO{
		EventID: eventID,
		Outbox:  outboxEvent,
		Inbox:   records,
	}, nil
}

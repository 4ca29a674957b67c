package outbox

import (
	"context"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/event"
)

const (
	StatusNew        = "new"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
)

// Event is a domain event waiting in the outbox for relay to the broker.
// ID is the domain event id, so relaying the same row twice republishes the
// same logical event.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Payload    []byte    `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FromDomain converts a domain event into a new outbox row.
func FromDomain(ev event.DomainEvent) *Event {
	return &Event{
		ID:         ev.ID,
		Kind:       ev.Kind,
		Payload:    ev.Payload,
		OccurredAt: ev.OccurredAt,
		Status:     StatusNew,
		CreatedAt:  time.Now().UTC(),
	}
}

// DomainEvent rebuilds the domain event stored in the row.
func (e *Event) DomainEvent() (event.DomainEvent, error) {
	return event.FromParts(e.ID, e.OccurredAt, e.Kind, e.Payload)
}

type Repository interface {
	Create(ctx context.Context, e *Event) error
	FetchBatch(ctx context.Context, limit int) ([]*Event, error)
	MarkProcessed(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, ids []string) error
}

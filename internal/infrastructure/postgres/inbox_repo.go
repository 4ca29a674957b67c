package postgres

import (
	"context"
	"fmt"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/inbox"
	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"
)

// InboxStore is the Postgres idempotency store. Reservations live in
// inbox_events, keyed by (consumer, event_id); the primary key makes the
// conditional insert the single atomic check-and-reserve step.
type InboxStore struct {
	db       DB
	consumer string
}

func NewInboxStore(db DB, consumer string) *InboxStore {
	return &InboxStore{db: db, consumer: consumer}
}

func (s *InboxStore) TryBegin(ctx context.Context, eventID string) (idempotency.Outcome, error) {
	const query = `
		INSERT INTO inbox_events (consumer, event_id, reserved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer, event_id) DO NOTHING
	`

	tag, err := executor(ctx, s.db).Exec(ctx, query, s.consumer, eventID)
	if err != nil {
		return 0, idempotency.Unavailable("insert inbox event", err)
	}

	if tag.RowsAffected() > 0 {
		return idempotency.Admitted, nil
	}
	return idempotency.AlreadyProcessed, nil
}

func (s *InboxStore) Commit(ctx context.Context, eventID string) error {
	const query = `
		UPDATE inbox_events
		SET committed_at = NOW()
		WHERE consumer = $1 AND event_id = $2
	`

	tag, err := executor(ctx, s.db).Exec(ctx, query, s.consumer, eventID)
	if err != nil {
		return idempotency.Unavailable("commit inbox event", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commit inbox event %s: not reserved by %s", eventID, s.consumer)
	}

	return nil
}

// InboxRepository reads inbox records across consumers.
type InboxRepository struct {
	db DB
}

func NewInboxRepository(db DB) *InboxRepository {
	return &InboxRepository{db: db}
}

func (r *InboxRepository) ListByEventID(ctx context.Context, eventID string) ([]*inbox.Record, error) {
	const query = `
		SELECT consumer, event_id, reserved_at, committed_at
		FROM inbox_events
		WHERE event_id = $1
		ORDER BY reserved_at ASC
	`

	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("query inbox events: %w", err)
	}
	defer rows.Close()

	var records []*inbox.Record
	for rows.Next() {
		rec := &inbox.Record{}
		if err := rows.Scan(&rec.Consumer, &rec.EventID, &rec.ReservedAt, &rec.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan inbox event: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox events: %w", err)
	}

	return records, nil
}

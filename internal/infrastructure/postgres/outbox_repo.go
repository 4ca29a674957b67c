package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/domain/outbox"
	"github.com/jackc/pgx/v5"
)

type OutboxRepository struct {
	db DB
}

func NewOutboxRepository(db DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create inserts e. Inserting an event id twice is a no-op, so a caller may
// retry an enqueue safely.
func (r *OutboxRepository) Create(ctx context.Context, e *outbox.Event) error {
	const sql = `
		INSERT INTO outbox (id, kind, payload, occurred_at, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	status := e.Status
	if status == "" {
		status = outbox.StatusNew
	}

	_, err := executor(ctx, r.db).Exec(ctx, sql,
		e.ID, e.Kind, string(e.Payload), e.OccurredAt, status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// FetchBatch claims up to limit new events, oldest first, and flips them to
// processing. SKIP LOCKED lets several relays run side by side.
func (r *OutboxRepository) FetchBatch(ctx context.Context, limit int) ([]*outbox.Event, error) {
	const sql = `
		WITH claimed_events AS (
			SELECT id
			FROM outbox
			WHERE status = 'new'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (SELECT id FROM claimed_events)
		RETURNING id, kind, payload::text, occurred_at, status, attempts, created_at, updated_at
	`

	rows, err := r.db.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}

	return scanOutboxEvents(rows)
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, ids []string) error {
	const sql = `
		UPDATE outbox
		SET status = 'processed', updated_at = NOW()
		WHERE id = ANY($1)
	`
	_, err := r.db.Exec(ctx, sql, ids)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// MarkFailed hands events back to the relay for another attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, ids []string) error {
	const sql = `
		UPDATE outbox
		SET status = 'new', updated_at = NOW()
		WHERE id = ANY($1)
	`
	_, err := r.db.Exec(ctx, sql, ids)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// RequeueStale hands rows claimed longer than olderThan ago back to the relay,
// e.g. after a relay crashed between FetchBatch and MarkProcessed.
func (r *OutboxRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const sql = `
		UPDATE outbox
		SET status = 'new', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < NOW() - make_interval(secs => $1)
	`
	tag, err := r.db.Exec(ctx, sql, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("requeue stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetByID returns the outbox row for an event id, or nil when the event was
// published directly.
func (r *OutboxRepository) GetByID(ctx context.Context, id string) (*outbox.Event, error) {
	const sql = `
		SELECT id, kind, payload::text, occurred_at, status, attempts, created_at, updated_at
		FROM outbox
		WHERE id = $1
	`

	rows, err := r.db.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("query outbox by id: %w", err)
	}

	events, err := scanOutboxEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	return events[0], nil
}

func scanOutboxEvents(rows pgx.Rows) ([]*outbox.Event, error) {
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		e := &outbox.Event{}
		var payload string
		if err := rows.Scan(&e.ID, &e.Kind, &payload, &e.OccurredAt, &e.Status, &e.Attempts, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}

	return events, nil
}

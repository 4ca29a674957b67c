// Package sqlite provides a single-node idempotency store backed by an
// embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dev-jp-1712/aws-event-driven-sns-lambda/internal/idempotency"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const schema = `
	CREATE TABLE IF NOT EXISTS inbox_events (
		consumer TEXT NOT NULL,
		event_id TEXT NOT NULL,
		reserved_at TEXT NOT NULL,
		committed_at TEXT,
		PRIMARY KEY (consumer, event_id)
	)
`

const (
	queryReserve = `INSERT INTO inbox_events (consumer, event_id, reserved_at) VALUES (?, ?, ?) ON CONFLICT (consumer, event_id) DO NOTHING`
	queryCommit  = `UPDATE inbox_events SET committed_at = ? WHERE consumer = ? AND event_id = ?`
)

// Open opens (or creates) the database at path and applies the schema.
// Writes are funnelled through a single connection.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare database: %w", err)
		}
	}

	return db, nil
}

// Store implements idempotency.Store for one consumer.
type Store struct {
	db       *sql.DB
	consumer string
	now      func() time.Time
}

func NewStore(db *sql.DB, consumer string) *Store {
	return &Store{db: db, consumer: consumer, now: time.Now}
}

func (s *Store) TryBegin(ctx context.Context, id string) (idempotency.Outcome, error) {
	res, err := s.db.ExecContext(ctx, queryReserve, s.consumer, id, s.timestamp())
	if err != nil {
		return 0, idempotency.Unavailable("reserve", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, idempotency.Unavailable("reserve", err)
	}
	if n == 0 {
		return idempotency.AlreadyProcessed, nil
	}
	return idempotency.Admitted, nil
}

func (s *Store) Commit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, queryCommit, s.timestamp(), s.consumer, id)
	if err != nil {
		return idempotency.Unavailable("commit", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return idempotency.Unavailable("commit", err)
	}
	if n == 0 {
		return fmt.Errorf("commit %s: not reserved", id)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

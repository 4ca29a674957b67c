package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyKind      = errors.New("event kind must not be empty")
	ErrEmptyID        = errors.New("event id must not be empty")
	ErrInvalidPayload = errors.New("event payload is not valid json")
)

// DomainEvent is an immutable record of a business occurrence.
// ID is assigned once by New and is never reused.
type DomainEvent struct {
	ID         string
	OccurredAt time.Time
	Kind       string
	Payload    json.RawMessage
}

// New creates a DomainEvent with a fresh id, marshalling payload to JSON.
// OccurredAt is truncated to microseconds, the precision of the outbox
// column, so a relayed event carries the same time as the original.
func New(kind string, payload any) (DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	return FromParts(uuid.New().String(), time.Now().Truncate(time.Microsecond), kind, data)
}

// FromParts rebuilds a DomainEvent from stored scalars, e.g. an outbox row.
// The payload is compacted so the wire form is stable across round trips.
func FromParts(id string, occurredAt time.Time, kind string, payload []byte) (DomainEvent, error) {
	if id == "" {
		return DomainEvent{}, ErrEmptyID
	}
	if kind == "" {
		return DomainEvent{}, ErrEmptyKind
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return DomainEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return DomainEvent{
		ID:         id,
		OccurredAt: occurredAt.UTC(),
		Kind:       kind,
		Payload:    compact.Bytes(),
	}, nil
}

// DecodePayload unmarshals the event payload into v.
func (e DomainEvent) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Kind, err)
	}
	return nil
}

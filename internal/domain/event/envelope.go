package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Attribute names carried next to the body. Every one of them can be
// recomputed from the body alone, see Backfill.
const (
	AttrEventType = "EventType"
	AttrEventID   = "EventId"
	AttrOrderID   = "OrderId"
	AttrSegment   = "Segment"
)

// SchemaVersion is the version written into every encoded body.
const SchemaVersion = 1

var ErrMalformedBody = errors.New("malformed envelope body")

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the transport unit handed to a broker: the serialized event
// plus flat routing attributes. It is built per publish attempt and not kept.
type Envelope struct {
	Body       []byte
	Attributes map[string]string
}

// wireBody is the versioned JSON form of a DomainEvent.
type wireBody struct {
	SchemaVersion int             `json:"schema_version"`
	ID            string          `json:"id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
}

// Deriver computes domain routing attributes for an event. It must be pure.
type Deriver func(DomainEvent) (map[string]string, error)

// Attributes returns the routing attributes of ev: EventType and EventId
// always, plus whatever the derivers add. Derivers cannot override the two
// base attributes.
func Attributes(ev DomainEvent, derivers ...Deriver) (map[string]string, error) {
	attrs := map[string]string{
		AttrEventType: ev.Kind,
		AttrEventID:   ev.ID,
	}

	for _, derive := range derivers {
		extra, err := derive(ev)
		if err != nil {
			return nil, fmt.Errorf("derive attributes for %s: %w", ev.Kind, err)
		}
		for k, v := range extra {
			if k == AttrEventType || k == AttrEventID {
				continue
			}
			attrs[k] = v
		}
	}

	return attrs, nil
}

// Encode serializes ev into an Envelope.
func Encode(ev DomainEvent, derivers ...Deriver) (Envelope, error) {
	if ev.ID == "" {
		return Envelope{}, ErrEmptyID
	}
	if ev.Kind == "" {
		return Envelope{}, ErrEmptyKind
	}

	body, err := codec.Marshal(wireBody{
		SchemaVersion: SchemaVersion,
		ID:            ev.ID,
		OccurredAt:    ev.OccurredAt.UTC(),
		Kind:          ev.Kind,
		Payload:       ev.Payload,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	attrs, err := Attributes(ev, derivers...)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{Body: body, Attributes: attrs}, nil
}

// Decode parses an envelope body back into a DomainEvent. Every failure wraps
// ErrMalformedBody.
func Decode(body []byte) (DomainEvent, error) {
	var w wireBody
	if err := codec.Unmarshal(body, &w); err != nil {
		return DomainEvent{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if w.SchemaVersion != SchemaVersion {
		return DomainEvent{}, fmt.Errorf("%w: unsupported schema version %d", ErrMalformedBody, w.SchemaVersion)
	}
	if w.ID == "" || w.Kind == "" {
		return DomainEvent{}, fmt.Errorf("%w: missing id or kind", ErrMalformedBody)
	}
	if len(w.Payload) == 0 {
		return DomainEvent{}, fmt.Errorf("%w: missing payload", ErrMalformedBody)
	}

	return DomainEvent{
		ID:         w.ID,
		OccurredAt: w.OccurredAt.UTC(),
		Kind:       w.Kind,
		Payload:    w.Payload,
	}, nil
}

// Backfill returns attrs completed with the attributes derived from the
// decoded body. Attributes already present on the envelope win; the result is
// a new map.
func Backfill(attrs map[string]string, ev DomainEvent, derivers ...Deriver) map[string]string {
	out := make(map[string]string, len(attrs)+2)
	for k, v := range attrs {
		out[k] = v
	}

	derived, err := Attributes(ev, derivers...)
	if err != nil {
		// EventType and EventId never fail to derive.
		derived = map[string]string{AttrEventType: ev.Kind, AttrEventID: ev.ID}
	}
	for k, v := range derived {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}

	return out
}

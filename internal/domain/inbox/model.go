package inbox

import "time"

// Record is the consumer-side idempotency marker (Inbox pattern).
// ReservedAt is set by the conditional insert that admits an event;
// CommittedAt stays nil until the business effect has completed.
type Record struct {
	Consumer    string     `json:"consumer"`
	EventID     string     `json:"event_id"`
	ReservedAt  time.Time  `json:"reserved_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

// Committed reports whether the effect for this record finished.
func (r Record) Committed() bool {
	return r.CommittedAt != nil
}

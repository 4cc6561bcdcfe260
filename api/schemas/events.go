package schemas

import (
	"encoding/json"
	"time"
)

// EventType categorizes an audit log entry.
type EventType string

// Event types emitted by the disposition state machine.
const (
	EventDispositionSet     EventType = "disposition_set"
	EventDispositionCleared EventType = "disposition_cleared"
)

// FindingEvent is one append-only audit log entry. Events are created on
// disposition transitions, never mutated and never deleted.
type FindingEvent struct {
	ID         string    `json:"id"`
	FindingKey string    `json:"finding_key"`
	EventType  EventType `json:"event_type"`

	// OldValue and NewValue are structured snapshots of every
	// disposition-related field before and after the transition, stored as
	// JSONB.
	OldValue json.RawMessage `json:"old_value"`
	NewValue json.RawMessage `json:"new_value"`

	Actor     string    `json:"actor"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

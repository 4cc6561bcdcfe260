// Package disposition implements the manual triage state machine. Transition
// functions are pure: they take a finding and return the mutated copy plus
// exactly one audit event, and the store persists both in one transaction.
package disposition

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vulncontext/vulncontext-cli/api/schemas"
)

// stateActive marks a disposition that is in force. It is the only state a
// set produces; expiry is stored but never acted on automatically.
const stateActive = "active"

// eventSource tags audit events produced by manual triage.
const eventSource = "manual"

// ErrDispositionNone rejects attempts to set a disposition to "none"; the
// resting state is reachable only through Clear.
var ErrDispositionNone = errors.New(`disposition "none" cannot be set directly, use clear`)

// SetRequest carries the fields of a disposition set.
type SetRequest struct {
	Disposition schemas.Disposition
	Reason      *string
	Comment     *string
	ExpiresAt   *time.Time
	Actor       string
}

// snapshot is the structured before/after view stored on every audit event.
type snapshot struct {
	Disposition schemas.Disposition `json:"disposition"`
	State       *string             `json:"disposition_state"`
	Reason      *string             `json:"disposition_reason"`
	Comment     *string             `json:"disposition_comment"`
	ExpiresAt   *time.Time          `json:"disposition_expires_at"`
	CreatedAt   *time.Time          `json:"disposition_created_at"`
	CreatedBy   *string             `json:"disposition_created_by"`
}

func snapshotOf(f schemas.Finding) snapshot {
	return snapshot{
		Disposition: f.Disposition,
		State:       f.DispositionState,
		Reason:      f.DispositionReason,
		Comment:     f.DispositionComment,
		ExpiresAt:   f.DispositionExpiresAt,
		CreatedAt:   f.DispositionCreatedAt,
		CreatedBy:   f.DispositionCreatedBy,
	}
}

// Set overwrites a finding's disposition. Any prior disposition is replaced;
// the full before/after snapshot lands on the emitted event. Setting "none"
// is rejected.
func Set(f schemas.Finding, req SetRequest, now time.Time) (schemas.Finding, schemas.FindingEvent, error) {
	if _, err := schemas.ParseDisposition(string(req.Disposition)); err != nil {
		return f, schemas.FindingEvent{}, err
	}
	if req.Disposition == schemas.DispositionNone {
		return f, schemas.FindingEvent{}, ErrDispositionNone
	}

	before := snapshotOf(f)

	state := stateActive
	f.Disposition = req.Disposition
	f.DispositionState = &state
	f.DispositionReason = req.Reason
	f.DispositionComment = req.Comment
	f.DispositionExpiresAt = req.ExpiresAt
	f.DispositionCreatedAt = &now
	f.DispositionCreatedBy = &req.Actor

	ev, err := newEvent(f.FindingKey, schemas.EventDispositionSet, before, snapshotOf(f), req.Actor, now)
	if err != nil {
		return f, schemas.FindingEvent{}, err
	}
	return f, ev, nil
}

// Clear resets a finding to the "none" disposition and nulls every other
// disposition field, regardless of the prior state.
func Clear(f schemas.Finding, actor string, now time.Time) (schemas.Finding, schemas.FindingEvent, error) {
	before := snapshotOf(f)

	f.Disposition = schemas.DispositionNone
	f.DispositionState = nil
	f.DispositionReason = nil
	f.DispositionComment = nil
	f.DispositionExpiresAt = nil
	f.DispositionCreatedAt = nil
	f.DispositionCreatedBy = nil

	ev, err := newEvent(f.FindingKey, schemas.EventDispositionCleared, before, snapshotOf(f), actor, now)
	if err != nil {
		return f, schemas.FindingEvent{}, err
	}
	return f, ev, nil
}

func newEvent(findingKey string, eventType schemas.EventType, before, after snapshot, actor string, now time.Time) (schemas.FindingEvent, error) {
	oldValue, err := json.Marshal(before)
	if err != nil {
		return schemas.FindingEvent{}, fmt.Errorf("marshal old disposition snapshot: %w", err)
	}
	newValue, err := json.Marshal(after)
	if err != nil {
		return schemas.FindingEvent{}, fmt.Errorf("marshal new disposition snapshot: %w", err)
	}
	return schemas.FindingEvent{
		ID:         uuid.NewString(),
		FindingKey: findingKey,
		EventType:  eventType,
		OldValue:   oldValue,
		NewValue:   newValue,
		Actor:      actor,
		Source:     eventSource,
		CreatedAt:  now.UTC(),
	}, nil
}

package todo

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// EventType enumerates the mutation kinds a client may queue for a note.
type EventType string

const (
	EventTypeCreate     EventType = "create"
	EventTypeEdit       EventType = "edit"
	EventTypeComplete   EventType = "complete"
	EventTypeUncomplete EventType = "uncomplete"
	EventTypeDelete     EventType = "delete"
)

// ErrUnknownEventType indicates a batch carried an event type outside the
// five known kinds. This is the only structural, whole-batch failure.
var ErrUnknownEventType = errors.New("todo: unknown event type")

// Known reports whether the type is one of the five supported kinds.
func (t EventType) Known() bool {
	switch t {
	case EventTypeCreate, EventTypeEdit, EventTypeComplete, EventTypeUncomplete, EventTypeDelete:
		return true
	}
	return false
}

// CompletionClass reports whether the type toggles the completion stamp.
// Pending events of this class supersede each other in the client queue.
func (t EventType) CompletionClass() bool {
	return t == EventTypeComplete || t == EventTypeUncomplete
}

// Event is one queued mutation. Text is only meaningful for create and edit.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp Timestamp `json:"timestamp"`
	Text      string    `json:"text,omitempty"`
}

// Batch maps a note identity to its ordered pending event sequence. The wire
// form is a JSON object keyed by the string-encoded identity.
type Batch map[NoteID][]Event

// MarshalJSON encodes the batch with string identity keys.
func (b Batch) MarshalJSON() ([]byte, error) {
	encoded := make(map[string][]Event, len(b))
	for id, events := range b {
		encoded[id.String()] = events
	}
	return json.Marshal(encoded)
}

// UnmarshalJSON decodes string identity keys back into NoteID values.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var encoded map[string][]Event
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	decoded := make(Batch, len(encoded))
	for raw, events := range encoded {
		id, err := ParseNoteID(raw)
		if err != nil {
			return err
		}
		decoded[id] = events
	}
	*b = decoded
	return nil
}

// Validate rejects batches that carry an unrecognized event type. The check
// runs before any event is applied so a structural failure never leaves a
// partially applied batch behind.
func (b Batch) Validate() error {
	for id, events := range b {
		for _, event := range events {
			if !event.Type.Known() {
				return fmt.Errorf("%w: %q for note %s", ErrUnknownEventType, event.Type, id)
			}
		}
	}
	return nil
}

// SortedIDs returns the batch identities in ascending order. Processing
// order across notes carries no guarantee; sorting just keeps runs
// deterministic.
func (b Batch) SortedIDs() []NoteID {
	ids := make([]NoteID, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BatchErrorKind classifies per-identity batch failures.
type BatchErrorKind string

const (
	// BatchErrorValidation marks a malformed create or edit payload.
	BatchErrorValidation BatchErrorKind = "validation"
	// BatchErrorNotFound marks a target note that does not exist.
	BatchErrorNotFound BatchErrorKind = "not_found"
)

// BatchError is a per-identity failure. It halts the remaining events for
// its identity but never aborts sibling identities.
type BatchError struct {
	ID     NoteID
	Kind   BatchErrorKind
	Fields map[string][]string
}

// MarshalJSON renders the error as a single-key object mapping the identity
// to either a field-error map (validation) or a bare message (not found).
func (e BatchError) MarshalJSON() ([]byte, error) {
	var detail any
	if e.Kind == BatchErrorNotFound {
		detail = "Not found"
	} else {
		detail = e.Fields
	}
	return json.Marshal(map[string]any{e.ID.String(): detail})
}

// BatchResult is the applier outcome for one batch.
type BatchResult struct {
	IDs    map[NoteID]NoteID
	Errors []BatchError
}

// WireIDs renders the identity remap with string keys for the response body.
func (r BatchResult) WireIDs() map[string]int64 {
	wire := make(map[string]int64, len(r.IDs))
	for submitted, permanent := range r.IDs {
		wire[submitted.String()] = permanent.Int64()
	}
	return wire
}

func fieldError(field, message string) map[string][]string {
	return map[string][]string{field: {message}}
}

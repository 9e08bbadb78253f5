package client

import (
	"github.com/offlinefirst/todosync/internal/todo"
)

// EventLog is the client-resident append-only buffer of pending mutation
// events, keyed by the note's current identity. Queue editing follows
// supersede semantics: at most one pending completion-class event and at
// most one pending edit event exist per note, so the queue stays bounded
// while offline.
type EventLog struct {
	pending todo.Batch
}

// NewEventLog returns an empty log.
func NewEventLog() *EventLog {
	return &EventLog{pending: todo.Batch{}}
}

// Restore replaces the log content with a previously persisted batch.
func (l *EventLog) Restore(batch todo.Batch) {
	if batch == nil {
		batch = todo.Batch{}
	}
	l.pending = batch
}

// Append queues an event at the end of the note's sequence.
func (l *EventLog) Append(id todo.NoteID, event todo.Event) {
	l.pending[id] = append(l.pending[id], event)
}

// SupersedeCompletion removes a pending complete/uncomplete event for the
// note and reports whether one existed. A removed event is not replaced:
// opposite completion intents cancel out entirely.
func (l *EventLog) SupersedeCompletion(id todo.NoteID) bool {
	return l.removeFirst(id, func(e todo.Event) bool { return e.Type.CompletionClass() })
}

// SupersedeEdit removes a pending edit event for the note and reports
// whether one existed. Callers append the fresh edit afterwards, so only the
// latest text intent stays queued.
func (l *EventLog) SupersedeEdit(id todo.NoteID) bool {
	return l.removeFirst(id, func(e todo.Event) bool { return e.Type == todo.EventTypeEdit })
}

// HasCreate reports whether the note's queue still holds a create event,
// meaning the note has never been acknowledged by the server.
func (l *EventLog) HasCreate(id todo.NoteID) bool {
	for _, event := range l.pending[id] {
		if event.Type == todo.EventTypeCreate {
			return true
		}
	}
	return false
}

// Drop discards the note's entire queue entry.
func (l *EventLog) Drop(id todo.NoteID) {
	delete(l.pending, id)
}

// Remap moves a queue entry from a provisional identity to the permanent
// identity assigned by the server.
func (l *EventLog) Remap(from, to todo.NoteID) {
	events, ok := l.pending[from]
	if !ok {
		return
	}
	delete(l.pending, from)
	l.pending[to] = events
}

// Clear empties the log after the server acknowledged a full batch.
func (l *EventLog) Clear() {
	l.pending = todo.Batch{}
}

// Empty reports whether anything is queued.
func (l *EventLog) Empty() bool {
	return len(l.pending) == 0
}

// Events returns the pending sequence for one note.
func (l *EventLog) Events(id todo.NoteID) []todo.Event {
	return l.pending[id]
}

// Snapshot copies the current log into an independent batch for
// transmission and persistence.
func (l *EventLog) Snapshot() todo.Batch {
	snapshot := make(todo.Batch, len(l.pending))
	for id, events := range l.pending {
		copied := make([]todo.Event, len(events))
		copy(copied, events)
		snapshot[id] = copied
	}
	return snapshot
}

// MinIdentity returns the smallest identity present in the log, or zero
// when none is negative. Used to re-seed the provisional counter after a
// reload so new notes never collide with persisted queue entries.
func (l *EventLog) MinIdentity() todo.NoteID {
	var min todo.NoteID
	for id := range l.pending {
		if id < min {
			min = id
		}
	}
	return min
}

func (l *EventLog) removeFirst(id todo.NoteID, match func(todo.Event) bool) bool {
	events := l.pending[id]
	for i, event := range events {
		if match(event) {
			l.pending[id] = append(events[:i], events[i+1:]...)
			if len(l.pending[id]) == 0 {
				delete(l.pending, id)
			}
			return true
		}
	}
	return false
}

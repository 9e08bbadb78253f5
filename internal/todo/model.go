package todo

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const maxTextLength = 4096

var (
	// ErrInvalidText indicates that a note text is empty or exceeds storage bounds.
	ErrInvalidText = errors.New("todo: invalid note text")
	// ErrInvalidTimestamp indicates that a millisecond timestamp value is not positive.
	ErrInvalidTimestamp = errors.New("todo: invalid timestamp")
	// ErrInvalidIdentity indicates that a batch key could not be parsed as an integer identity.
	ErrInvalidIdentity = errors.New("todo: invalid note identity")
)

// Timestamp is a millisecond unix epoch value. Event timestamps are supplied
// by the client clock; only the single-item endpoints stamp with the server
// clock.
type Timestamp int64

// NewTimestamp validates the value and returns a Timestamp.
func NewTimestamp(value int64) (Timestamp, error) {
	if value < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return Timestamp(value), nil
}

// TimestampOf converts a wall-clock time to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Int64 exposes the raw millisecond value.
func (ts Timestamp) Int64() int64 {
	return int64(ts)
}

// NoteID is an integer note identity. Persisted notes carry positive
// server-assigned identities; a client-created note holds a negative
// provisional identity until the first successful push remaps it.
type NoteID int64

// ParseNoteID parses a string-encoded identity as used in batch keys.
func ParseNoteID(raw string) (NoteID, error) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	return NoteID(value), nil
}

// Provisional reports whether the identity was assigned locally and has not
// been acknowledged by the server yet.
func (id NoteID) Provisional() bool {
	return id < 0
}

// String renders the identity the way batch keys encode it.
func (id NoteID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Int64 exposes the raw identity value.
func (id NoteID) Int64() int64 {
	return int64(id)
}

// ValidateText enforces the shared text rule for create and edit payloads.
func ValidateText(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if len(text) > maxTextLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidText, maxTextLength)
	}
	return nil
}

// Note is the persisted todo note. The JSON form matches the wire schema:
// the owner and the conflict-resolution timestamp are never serialized.
type Note struct {
	ID          NoteID     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID      int64      `json:"-" gorm:"column:user_id;not null;index:idx_todos_user"`
	Text        string     `json:"text" gorm:"column:text;type:text;not null"`
	CreatedAt   Timestamp  `json:"created_at" gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt   Timestamp  `json:"-" gorm:"column:updated_at;not null;autoUpdateTime:false"`
	CompletedAt *Timestamp `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "todos"
}

// Completed reports whether the note currently carries a completion stamp.
func (n Note) Completed() bool {
	return n.CompletedAt != nil
}

package todo

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoteNotFound indicates the target note does not exist for the owner.
var ErrNoteNotFound = errors.New("todo: note not found")

const (
	opStoreNew     = "todo.store.new"
	opListNotes    = "todo.list_notes"
	opCreateNote   = "todo.create_note"
	opEditNote     = "todo.edit_note"
	opMarkNote     = "todo.mark_note"
	opDeleteNote   = "todo.delete_note"
	opResolveOwned = "todo.resolve_owned"
)

// StoreConfig wires the note store dependencies.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the durable keyed note collection behind the single-item
// endpoints. Unlike the event applier it stamps updated_at and completed_at
// with the server clock and applies no conflict rule: these calls bypass
// the event queue entirely.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// List returns every note owned by the user.
func (s *Store) List(ctx context.Context, userID int64) ([]Note, error) {
	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.Int64("user_id", userID))
		return nil, newServiceError(opListNotes, "query_failed", err)
	}
	return notes, nil
}

// Create inserts a note with the caller-supplied creation stamp. The stamp
// is client time by protocol contract, mirroring the create event.
func (s *Store) Create(ctx context.Context, userID int64, text string, createdAt Timestamp) (Note, error) {
	note := Note{
		UserID:    userID,
		Text:      text,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreateNote, "insert_failed", err, zap.Int64("user_id", userID))
		return Note{}, newServiceError(opCreateNote, "insert_failed", err)
	}
	return note, nil
}

// Edit replaces the note text and stamps updated_at with the server clock.
func (s *Store) Edit(ctx context.Context, userID int64, id NoteID, text string) error {
	note, err := s.resolveOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	note.Text = text
	note.UpdatedAt = TimestampOf(s.clock())
	if err := s.db.WithContext(ctx).Save(&note).Error; err != nil {
		s.logError(opEditNote, "save_failed", err, zap.Int64("user_id", userID), zap.Int64("note_id", id.Int64()))
		return newServiceError(opEditNote, "save_failed", err)
	}
	return nil
}

// Mark sets or clears the completion stamp with the server clock.
func (s *Store) Mark(ctx context.Context, userID int64, id NoteID, completed bool) error {
	note, err := s.resolveOwned(ctx, userID, id)
	if err != nil {
		return err
	}
	now := TimestampOf(s.clock())
	if completed {
		note.CompletedAt = &now
	} else {
		note.CompletedAt = nil
	}
	note.UpdatedAt = now
	if err := s.db.WithContext(ctx).Save(&note).Error; err != nil {
		s.logError(opMarkNote, "save_failed", err, zap.Int64("user_id", userID), zap.Int64("note_id", id.Int64()))
		return newServiceError(opMarkNote, "save_failed", err)
	}
	return nil
}

// Delete removes the note.
func (s *Store) Delete(ctx context.Context, userID int64, id NoteID) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id.Int64()).Delete(&Note{})
	if res.Error != nil {
		s.logError(opDeleteNote, "delete_failed", res.Error, zap.Int64("user_id", userID), zap.Int64("note_id", id.Int64()))
		return newServiceError(opDeleteNote, "delete_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

func (s *Store) resolveOwned(ctx context.Context, userID int64, id NoteID) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id.Int64()).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opResolveOwned, "query_failed", err, zap.Int64("user_id", userID), zap.Int64("note_id", id.Int64()))
		return Note{}, newServiceError(opResolveOwned, "query_failed", err)
	}
	return note, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("note store error", attrs...)
}

package todo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opApplierNew  = "todo.applier.new"
	opApplyEvents = "todo.apply_events"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ApplierConfig wires the event applier dependencies.
type ApplierConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Applier reconciles client event batches against the durable note store.
// Processing is strictly ordered within one note's sequence and independent
// across notes; the whole batch runs inside one transaction so a structural
// failure never leaves partial state behind.
type Applier struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewApplier constructs an Applier.
func NewApplier(cfg ApplierConfig) (*Applier, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opApplierNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Applier{db: cfg.Database, logger: logger}, nil
}

// Apply processes every identity in the batch for the authenticated owner.
// Per-identity validation and not-found failures are collected in the
// result; only an unknown event type (ErrUnknownEventType) or a storage
// failure aborts the batch as a whole.
func (a *Applier) Apply(ctx context.Context, userID int64, batch Batch) (BatchResult, error) {
	if a.db == nil {
		a.logError(opApplyEvents, "missing_database", errMissingDatabase)
		return BatchResult{}, newServiceError(opApplyEvents, "missing_database", errMissingDatabase)
	}
	if userID == 0 {
		a.logError(opApplyEvents, "missing_user_id", errMissingUserID)
		return BatchResult{}, newServiceError(opApplyEvents, "missing_user_id", errMissingUserID)
	}
	if err := batch.Validate(); err != nil {
		a.logError(opApplyEvents, "unknown_event_type", err, zap.Int64("user_id", userID))
		return BatchResult{}, err
	}

	result := BatchResult{IDs: make(map[NoteID]NoteID)}
	txErr := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range batch.SortedIDs() {
			if err := a.applySequence(tx, userID, id, batch[id], &result); err != nil {
				a.logError(opApplyEvents, "sequence_failed", err,
					zap.Int64("user_id", userID),
					zap.String("note_id", id.String()))
				return newServiceError(opApplyEvents, "sequence_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return BatchResult{}, txErr
	}

	a.logger.Debug("event batch applied",
		zap.Int64("user_id", userID),
		zap.Int("notes", len(batch)),
		zap.Int("created", len(result.IDs)),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// applySequence walks one note's ordered events. It carries the resolved
// note and the high-water timestamp across the sequence, compares every
// non-create event against the note's stored updated_at (last-write-wins),
// and performs at most one consolidated write at the end. The returned
// error is reserved for storage failures; protocol-level failures land in
// the result instead.
func (a *Applier) applySequence(tx *gorm.DB, userID int64, id NoteID, events []Event, result *BatchResult) error {
	var note *Note
	removed := false
	highWater := int64(-1)

sequence:
	for _, event := range events {
		if event.Timestamp < 1 {
			result.Errors = append(result.Errors, BatchError{
				ID:     id,
				Kind:   BatchErrorValidation,
				Fields: fieldError("timestamp", "must be a positive millisecond timestamp"),
			})
			break sequence
		}

		switch event.Type {
		case EventTypeCreate:
			if err := ValidateText(event.Text); err != nil {
				result.Errors = append(result.Errors, BatchError{
					ID:     id,
					Kind:   BatchErrorValidation,
					Fields: fieldError("text", err.Error()),
				})
				break sequence
			}
			created := Note{
				UserID:    userID,
				Text:      event.Text,
				CreatedAt: event.Timestamp,
				UpdatedAt: event.Timestamp,
			}
			if err := tx.Create(&created).Error; err != nil {
				return err
			}
			note = &created
			result.IDs[id] = created.ID
			highWater = event.Timestamp.Int64()

		default:
			if note == nil {
				var existing Note
				err := tx.Where("user_id = ? AND id = ?", userID, id.Int64()).Take(&existing).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					result.Errors = append(result.Errors, BatchError{ID: id, Kind: BatchErrorNotFound})
					break sequence
				}
				if err != nil {
					return err
				}
				note = &existing
			}

			// Last-write-wins: a mutation older than the note's last applied
			// mutation is superseded and skipped, not an error. The stored
			// updated_at is only advanced by the final consolidated write, so
			// every event in the sequence compares against the note state as
			// it was resolved.
			if note.UpdatedAt.Int64() > event.Timestamp.Int64() {
				continue
			}

			switch event.Type {
			case EventTypeComplete:
				stamp := event.Timestamp
				note.CompletedAt = &stamp
			case EventTypeUncomplete:
				note.CompletedAt = nil
			case EventTypeEdit:
				if err := ValidateText(event.Text); err != nil {
					result.Errors = append(result.Errors, BatchError{
						ID:     id,
						Kind:   BatchErrorValidation,
						Fields: fieldError("text", err.Error()),
					})
					break sequence
				}
				note.Text = event.Text
			case EventTypeDelete:
				if err := tx.Where("user_id = ? AND id = ?", userID, note.ID.Int64()).Delete(&Note{}).Error; err != nil {
					return err
				}
				removed = true
				break sequence
			}

			if event.Timestamp.Int64() > highWater {
				highWater = event.Timestamp.Int64()
			}
		}
	}

	if note != nil && !removed && highWater >= 0 {
		note.UpdatedAt = Timestamp(highWater)
		if err := tx.Save(note).Error; err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) loggerOrDefault() *zap.Logger {
	if a == nil || a.logger == nil {
		return noOpLogger
	}
	return a.logger
}

func (a *Applier) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	a.loggerOrDefault().Error("event applier error", attrs...)
}

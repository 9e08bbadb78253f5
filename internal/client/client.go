package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offlinefirst/todosync/internal/todo"
)

// ErrOffline marks a connectivity failure. The local copy stays usable and,
// for pushes, a retry is already scheduled when this is returned.
var ErrOffline = errors.New("client: offline")

const defaultRetryInterval = 10 * time.Second

var (
	errMissingAPI   = errors.New("api transport is required")
	errMissingStore = errors.New("local store is required")
)

// Config wires the sync client dependencies.
type Config struct {
	API           API
	Store         *LocalStore
	Scheduler     Scheduler
	Notifier      Notifier
	Clock         func() time.Time
	RetryInterval time.Duration
	Logger        *zap.Logger
}

// Client is the offline-first session object. It owns the local note cache,
// the pending event log and the retry scheduler; every mutation records an
// event, optimistically updates the cache and triggers a push. Methods are
// serialized by an internal mutex, so one logical operation runs at a time.
type Client struct {
	api           API
	store         *LocalStore
	scheduler     Scheduler
	notifier      Notifier
	clock         func() time.Time
	retryInterval time.Duration
	logger        *zap.Logger

	mu              sync.Mutex
	notes           []todo.Note
	log             *EventLog
	nextProvisional todo.NoteID
	retry           TimerHandle
}

// New constructs a Client. It starts empty; call Load to restore persisted
// state or Pull to fetch the authoritative list.
func New(cfg Config) (*Client, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("client: %w", errMissingAPI)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("client: %w", errMissingStore)
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = TimerScheduler{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:             cfg.API,
		store:           cfg.Store,
		scheduler:       scheduler,
		notifier:        notifier,
		clock:           clock,
		retryInterval:   interval,
		logger:          logger,
		log:             NewEventLog(),
		nextProvisional: -1,
	}, nil
}

// Load restores the note cache and event log from local storage. The
// provisional counter resumes below the smallest persisted identity so new
// notes never collide with queue entries from a previous run.
func (c *Client) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	notes, err := c.store.LoadNotes()
	if err != nil {
		return err
	}
	events, err := c.store.LoadEvents()
	if err != nil {
		return err
	}

	c.notes = notes
	c.log.Restore(events)

	low := c.log.MinIdentity()
	for _, note := range c.notes {
		if note.ID < low {
			low = note.ID
		}
	}
	c.nextProvisional = low - 1
	return nil
}

// Notes returns a copy of the local cache for rendering.
func (c *Client) Notes() []todo.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	notes := make([]todo.Note, len(c.notes))
	copy(notes, c.notes)
	return notes
}

// Pull fetches the authoritative note list and replaces the local cache.
// On a connectivity failure it falls back to the last persisted state and
// returns ErrOffline; an unauthorized response propagates untouched.
func (c *Client) Pull(ctx context.Context) error {
	notes, err := c.api.FetchNotes(ctx)
	if errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.logger.Warn("pull failed, falling back to local copy", zap.Error(err))
		c.notifier.OfflineReadingLocal()
		if loadErr := c.reloadLocked(); loadErr != nil {
			return loadErr
		}
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}

	c.notes = notes
	if err := c.store.SaveNotes(c.notes); err != nil {
		return err
	}
	return nil
}

// Add creates a note under the next provisional identity, queues a create
// event and pushes. The note is durable locally even when the push fails.
func (c *Client) Add(ctx context.Context, text string) (todo.Note, error) {
	if err := todo.ValidateText(text); err != nil {
		return todo.Note{}, err
	}

	c.mu.Lock()
	now := todo.TimestampOf(c.clock())
	note := todo.Note{
		ID:        c.nextProvisional,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.nextProvisional--

	c.log.Append(note.ID, todo.Event{Type: todo.EventTypeCreate, Timestamp: now, Text: text})
	c.notes = append(c.notes, note)
	c.mu.Unlock()

	err := c.Push(ctx)

	// The provisional identity may already be remapped by the push.
	for _, cached := range c.Notes() {
		if cached.CreatedAt == note.CreatedAt && cached.Text == note.Text {
			note = cached
			break
		}
	}
	return note, err
}

// Mark queues the latest completion intent for the note. A pending
// complete/uncomplete event is cancelled instead of stacking an opposite
// one, so toggling collapses to no queued event at all.
func (c *Client) Mark(ctx context.Context, id todo.NoteID, completed bool) error {
	c.mu.Lock()
	note := c.cachedLocked(id)
	if note == nil {
		c.mu.Unlock()
		return todo.ErrNoteNotFound
	}

	now := todo.TimestampOf(c.clock())
	if completed {
		stamp := now
		note.CompletedAt = &stamp
	} else {
		note.CompletedAt = nil
	}
	note.UpdatedAt = now

	if !c.log.SupersedeCompletion(id) {
		eventType := todo.EventTypeUncomplete
		if completed {
			eventType = todo.EventTypeComplete
		}
		c.log.Append(id, todo.Event{Type: eventType, Timestamp: now})
	}
	c.mu.Unlock()

	return c.Push(ctx)
}

// Edit replaces the note text, superseding any still-pending edit so only
// the latest text intent stays queued.
func (c *Client) Edit(ctx context.Context, id todo.NoteID, text string) error {
	if err := todo.ValidateText(text); err != nil {
		return err
	}

	c.mu.Lock()
	note := c.cachedLocked(id)
	if note == nil {
		c.mu.Unlock()
		return todo.ErrNoteNotFound
	}

	now := todo.TimestampOf(c.clock())
	note.Text = text
	note.UpdatedAt = now

	c.log.SupersedeEdit(id)
	c.log.Append(id, todo.Event{Type: todo.EventTypeEdit, Timestamp: now, Text: text})
	c.mu.Unlock()

	return c.Push(ctx)
}

// Delete removes the note locally right away. A note whose create event is
// still pending never reached the server, so its whole queue entry is
// dropped without emitting a network-visible delete.
func (c *Client) Delete(ctx context.Context, id todo.NoteID) error {
	c.mu.Lock()
	hadCreate := c.log.HasCreate(id)
	c.log.Drop(id)

	for i := range c.notes {
		if c.notes[i].ID == id {
			c.notes = append(c.notes[:i], c.notes[i+1:]...)
			break
		}
	}

	if !hadCreate {
		c.log.Append(id, todo.Event{Type: todo.EventTypeDelete, Timestamp: todo.TimestampOf(c.clock())})
	}
	c.mu.Unlock()

	return c.Push(ctx)
}

// Push transmits the full event log and reconciles the response.
func (c *Client) Push(ctx context.Context) error {
	return c.push(ctx, false)
}

// Close cancels any pending retry. Queued events stay persisted.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRetryLocked()
}

// push is the reconcile protocol: persist, skip when empty, transmit,
// propagate authorization failures, schedule exactly one retry on any other
// failure, and on success clear the log, remap provisional identities and
// cancel the pending retry. Local state is persisted again on every exit
// path.
func (c *Client) push(ctx context.Context, isRetry bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.persistLocked()

	c.persistLocked()
	if c.log.Empty() {
		return nil
	}

	// The lock is held across the round-trip: at most one push is in flight
	// at a time and no mutation can interleave with reconciliation.
	result, err := c.api.PushEvents(ctx, c.log.Snapshot())

	if errors.Is(err, ErrUnauthorized) {
		return err
	}
	if err != nil {
		c.logger.Warn("push failed, retry scheduled",
			zap.Error(err),
			zap.Bool("retry_attempt", isRetry),
			zap.Duration("retry_in", c.retryInterval))
		if !isRetry {
			c.notifier.OfflineQueued()
		}
		c.cancelRetryLocked()
		c.retry = c.scheduler.ScheduleOnce(c.retryInterval, func() {
			_ = c.push(context.Background(), true)
		})
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}

	// The server is now authoritative for everything just sent.
	c.log.Clear()
	for submitted, permanent := range result.IDs {
		for i := range c.notes {
			if c.notes[i].ID == submitted {
				c.notes[i].ID = permanent
			}
		}
		// Any entry still queued under the provisional identity follows the
		// note to its permanent identity.
		c.log.Remap(submitted, permanent)
	}
	for _, detail := range result.Errors {
		c.logger.Warn("server rejected events for a note", zap.ByteString("detail", detail))
	}

	c.cancelRetryLocked()
	if isRetry {
		c.notifier.BackOnline()
	}
	return nil
}

func (c *Client) cachedLocked(id todo.NoteID) *todo.Note {
	for i := range c.notes {
		if c.notes[i].ID == id {
			return &c.notes[i]
		}
	}
	return nil
}

func (c *Client) reloadLocked() error {
	notes, err := c.store.LoadNotes()
	if err != nil {
		return err
	}
	events, err := c.store.LoadEvents()
	if err != nil {
		return err
	}
	c.notes = notes
	c.log.Restore(events)
	return nil
}

func (c *Client) persistLocked() {
	if err := c.store.SaveEvents(c.log.Snapshot()); err != nil {
		c.logger.Error("persisting event log failed", zap.Error(err))
	}
	if err := c.store.SaveNotes(c.notes); err != nil {
		c.logger.Error("persisting note cache failed", zap.Error(err))
	}
}

func (c *Client) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Cancel()
		c.retry = nil
	}
}

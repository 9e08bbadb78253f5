package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/offlinefirst/todosync/internal/todo"
)

const (
	notesFileName  = "todos.json"
	eventsFileName = "events.json"
)

// LocalStore persists the two client-side blobs, the note cache and the
// event log, as independent JSON files. Both are read back verbatim on the
// next load so a crash or reload loses nothing already queued.
type LocalStore struct {
	fs  afero.Fs
	dir string
}

// NewLocalStore creates the state directory if needed.
func NewLocalStore(fs afero.Fs, dir string) (*LocalStore, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dir == "" {
		return nil, fmt.Errorf("client: state directory is required")
	}
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("client: create state directory: %w", err)
	}
	return &LocalStore{fs: fs, dir: dir}, nil
}

// SaveNotes persists the note cache.
func (s *LocalStore) SaveNotes(notes []todo.Note) error {
	if notes == nil {
		notes = []todo.Note{}
	}
	return s.writeJSON(notesFileName, notes)
}

// LoadNotes reads the persisted note cache. A missing file yields an empty
// cache, not an error.
func (s *LocalStore) LoadNotes() ([]todo.Note, error) {
	var notes []todo.Note
	if err := s.readJSON(notesFileName, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// SaveEvents persists the event log.
func (s *LocalStore) SaveEvents(batch todo.Batch) error {
	if batch == nil {
		batch = todo.Batch{}
	}
	return s.writeJSON(eventsFileName, batch)
}

// LoadEvents reads the persisted event log. A missing file yields an empty
// batch, not an error.
func (s *LocalStore) LoadEvents() (todo.Batch, error) {
	batch := todo.Batch{}
	if err := s.readJSON(eventsFileName, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *LocalStore) writeJSON(name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	if err := afero.WriteFile(s.fs, path, data, 0o600); err != nil {
		return fmt.Errorf("client: write %s: %w", name, err)
	}
	return nil
}

func (s *LocalStore) readJSON(name string, out any) error {
	path := filepath.Join(s.dir, name)
	data, err := afero.ReadFile(s.fs, path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("client: read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode %s: %w", name, err)
	}
	return nil
}

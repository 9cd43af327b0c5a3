package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"perpexec/pkg/state"
)

// ErrNoState is returned by Load when nothing has been persisted yet.
var ErrNoState = errors.New("journal: no persisted state")

// StateStore persists session snapshots.
type StateStore interface {
	Load(ctx context.Context) (state.Snapshot, error)
	Save(ctx context.Context, snap state.Snapshot) error
}

// FileStore keeps the snapshot in a single JSON file. Writes go to a
// temporary file in the same directory and are renamed into place.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Load implements StateStore.
func (s *FileStore) Load(_ context.Context) (state.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return state.Snapshot{}, ErrNoState
	}
	if err != nil {
		return state.Snapshot{}, fmt.Errorf("journal: read state: %w", err)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return state.Snapshot{}, fmt.Errorf("journal: decode state %s: %w", s.path, err)
	}
	if snap.Positions == nil {
		snap.Positions = map[string]*state.Position{}
	}
	return snap, nil
}

// Save implements StateStore.
func (s *FileStore) Save(_ context.Context, snap state.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: save state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("journal: save state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("journal: save state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("journal: save state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("journal: save state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("journal: save state: %w", err)
	}
	return nil
}

package statefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bitfinder/internal/domain"
)

// DefaultFileName is the state file kept in the download root.
const DefaultFileName = ".bitfinder-state.json"

// Store keeps the whole session snapshot in one JSON file. Every Save
// rewrites the file through a temporary sibling and a rename, so readers
// never see a partial document.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

// NewInDir returns a store for DefaultFileName under dir.
func NewInDir(dir string) *Store {
	return New(filepath.Join(dir, DefaultFileName))
}

func (s *Store) Path() string { return s.path }

// Load returns an empty state when the file does not exist yet.
func (s *Store) Load(ctx context.Context) (domain.PersistedState, error) {
	if err := ctx.Err(); err != nil {
		return domain.PersistedState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.NewPersistedState(), nil
	}
	if err != nil {
		return domain.PersistedState{}, fmt.Errorf("read state file: %w", err)
	}

	state := domain.NewPersistedState()
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.PersistedState{}, fmt.Errorf("decode state file %s: %w", s.path, err)
	}
	if state.Torrents == nil {
		state.Torrents = make(map[string]domain.PersistedRecord)
	}
	return state, nil
}

func (s *Store) Save(ctx context.Context, state domain.PersistedState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state.Torrents == nil {
		state = domain.NewPersistedState()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

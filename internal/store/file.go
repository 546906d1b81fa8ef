package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/aixgo-dev/bookwright/internal/story"
)

// FileStore keeps one JSON file per session in a directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save writes the state through a temporary file so a crash never leaves a
// half-written session behind.
func (s *FileStore) Save(_ context.Context, state *story.State) error {
	if err := validateID(state.ID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.statePath(state.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id string) (*story.State, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// G304: path is built from a validated ID under baseDir
	data, err := os.ReadFile(s.statePath(id)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	return decode(data)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.statePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}

// List skips files it cannot parse.
func (s *FileStore) List(_ context.Context) ([]*story.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var states []*story.State
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		// G304: path is built from baseDir and a name returned by os.ReadDir
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name())) //nolint:gosec
		if err != nil {
			continue
		}
		st, err := decode(data)
		if err != nil {
			log.Printf("[store] skipping %s: %v", entry.Name(), err)
			continue
		}
		states = append(states, st)
	}
	sortByUpdated(states)
	return states, nil
}

func (s *FileStore) Ping(context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) statePath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

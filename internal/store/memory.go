package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aixgo-dev/bookwright/internal/story"
)

// MemoryStore keeps sessions in process memory. States are stored as JSON
// so callers never share mutable data with the store.
type MemoryStore struct {
	states map[string][]byte
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, state *story.State) error {
	if err := validateID(state.ID); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = data
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*story.State, error) {
	s.mu.RLock()
	data, ok := s.states[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode(data)
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*story.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*story.State, 0, len(s.states))
	for id, data := range s.states {
		st, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		states = append(states, st)
	}
	sortByUpdated(states)
	return states, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func decode(data []byte) (*story.State, error) {
	var st story.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}

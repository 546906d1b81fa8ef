// Package store persists session state between pipeline steps and across
// suspensions.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/aixgo-dev/bookwright/internal/story"
)

// ErrNotFound is returned when no state exists for a session ID.
var ErrNotFound = errors.New("session not found")

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("store is closed")

// Store persists session state.
type Store interface {
	// Save writes the full state, replacing any previous version.
	Save(ctx context.Context, state *story.State) error
	// Load returns an independent copy of the state.
	Load(ctx context.Context, id string) (*story.State, error)
	// Delete removes a session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, id string) error
	// List returns every stored session, most recently updated first.
	List(ctx context.Context) ([]*story.State, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Type is one of memory, file, redis or firestore. Empty means memory.
	Type string `yaml:"type"`

	// Dir is the directory of the file backend.
	Dir string `yaml:"dir"`

	// Redis settings.
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`

	// Firestore settings.
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Open builds the backend named by cfg.Type.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		dir := cfg.Dir
		if dir == "" {
			dir = ".bookwright/sessions"
		}
		return NewFileStore(dir)
	case "redis":
		return NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
			TTL:      cfg.TTL,
		})
	case "firestore":
		return NewFirestoreStore(ctx, FirestoreConfig{
			ProjectID:       cfg.ProjectID,
			Collection:      cfg.Collection,
			CredentialsFile: cfg.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// safeIDPattern keeps IDs usable as file names and key suffixes.
var safeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if len(id) > 256 {
		return fmt.Errorf("session ID too long (max 256 characters)")
	}
	if !safeIDPattern.MatchString(id) {
		return fmt.Errorf("session ID contains invalid characters: only alphanumeric, hyphens, and underscores allowed")
	}
	return nil
}

func sortByUpdated(states []*story.State) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
}

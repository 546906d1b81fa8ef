package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/bookwright/internal/store"
	"github.com/aixgo-dev/bookwright/internal/story"
)

func seed(t *testing.T, st store.Store, id string, status story.Status, updated time.Time) {
	t.Helper()
	s := story.New(id)
	s.Status = status
	s.UpdatedAt = updated
	require.NoError(t, st.Save(context.Background(), s))
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()

	seed(t, st, "old-suspended", story.StatusSuspended, now.Add(-48*time.Hour))
	seed(t, st, "old-failed", story.StatusFailed, now.Add(-48*time.Hour))
	seed(t, st, "old-running", story.StatusRunning, now.Add(-48*time.Hour))
	seed(t, st, "old-completed", story.StatusCompleted, now.Add(-48*time.Hour))
	seed(t, st, "fresh-suspended", story.StatusSuspended, now.Add(-time.Hour))

	p, err := New(st, Config{MaxAge: 24 * time.Hour})
	require.NoError(t, err)
	p.now = func() time.Time { return now }

	n, err := p.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	states, err := st.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, s := range states {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"old-running", "old-completed", "fresh-suspended"}, ids)

	n, err = p.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPruneCustomStatuses(t *testing.T) {
	now := time.Now()
	st := store.NewMemoryStore()
	seed(t, st, "done", story.StatusCompleted, now.Add(-2*time.Hour))
	seed(t, st, "waiting", story.StatusSuspended, now.Add(-2*time.Hour))

	p, err := New(st, Config{MaxAge: time.Hour, Statuses: []story.Status{story.StatusCompleted}})
	require.NoError(t, err)

	n, err := p.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.Load(context.Background(), "waiting")
	assert.NoError(t, err)
	_, err = st.Load(context.Background(), "done")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewValidation(t *testing.T) {
	st := store.NewMemoryStore()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero max age", Config{}},
		{"bad schedule", Config{Schedule: "every tuesday", MaxAge: time.Hour}},
		{"running status", Config{MaxAge: time.Hour, Statuses: []story.Status{story.StatusRunning}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(st, tt.cfg)
			assert.Error(t, err)
		})
	}

	p, err := New(st, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, p.cfg.Schedule)
}

func TestRunStopsWithContext(t *testing.T) {
	p, err := New(store.NewMemoryStore(), Config{Schedule: "@daily", MaxAge: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

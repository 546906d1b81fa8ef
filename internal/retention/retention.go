// Package retention removes abandoned sessions from the store.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aixgo-dev/bookwright/internal/store"
	"github.com/aixgo-dev/bookwright/internal/story"
	metrics "github.com/aixgo-dev/bookwright/pkg/observability"
)

const (
	DefaultSchedule = "@hourly"
	DefaultMaxAge   = 7 * 24 * time.Hour
)

// Config controls which sessions are pruned and when.
type Config struct {
	// Schedule is a cron expression or descriptor such as "@daily".
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
	// Statuses lists the session statuses eligible for pruning. Running
	// sessions are never pruned.
	Statuses []story.Status `yaml:"statuses"`
}

// DefaultConfig prunes suspended and failed sessions idle for a week.
func DefaultConfig() Config {
	return Config{
		Schedule: DefaultSchedule,
		MaxAge:   DefaultMaxAge,
		Statuses: []story.Status{story.StatusSuspended, story.StatusFailed},
	}
}

// Pruner deletes stale sessions.
type Pruner struct {
	store store.Store
	cfg   Config
	now   func() time.Time
}

// New validates cfg and returns a pruner over st.
func New(st store.Store, cfg Config) (*Pruner, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max_age must be positive, got %s", cfg.MaxAge)
	}
	if len(cfg.Statuses) == 0 {
		cfg.Statuses = DefaultConfig().Statuses
	}
	if slices.Contains(cfg.Statuses, story.StatusRunning) {
		return nil, errors.New("retention must not prune running sessions")
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}
	return &Pruner{store: st, cfg: cfg, now: time.Now}, nil
}

// Prune deletes every eligible session not updated within MaxAge and
// returns how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	states, err := p.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	cutoff := p.now().Add(-p.cfg.MaxAge)
	pruned := 0
	for _, st := range states {
		if !slices.Contains(p.cfg.Statuses, st.Status) || st.UpdatedAt.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		if err := p.store.Delete(ctx, st.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return pruned, fmt.Errorf("delete session %s: %w", st.ID, err)
		}
		pruned++
		log.Printf("[retention] pruned %s session %s (last updated %s)", st.Status, st.ID, st.UpdatedAt.Format(time.RFC3339))
	}
	metrics.RecordPruned(pruned)
	return pruned, nil
}

// Run prunes on the configured schedule until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(p.cfg.Schedule, func() {
		if _, err := p.Prune(ctx); err != nil {
			log.Printf("[retention] prune failed: %v", err)
		}
	}); err != nil {
		return err
	}

	log.Printf("[retention] pruning %v sessions older than %s on %q", p.cfg.Statuses, p.cfg.MaxAge, p.cfg.Schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

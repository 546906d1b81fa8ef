package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aixgo-dev/bookwright/internal/story"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "test:", 0)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	_, rs := newRedis(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
		"redis":  rs,
	}
}

func sampleState(id string, updated time.Time) *story.State {
	st := story.New(id)
	st.Step = "chapter_write"
	st.UpdatedAt = updated
	st.Requirements = &story.Requirements{Description: "a heist", LengthClass: "novella", TotalLength: 30000}
	st.Logs[story.LogRequirements] = []story.Turn{story.System("sys"), story.User("a heist")}
	st.Plan = []string{"one", "two"}
	st.Loops[story.LoopPlan] = story.LoopState{Approval: story.Approved, Rounds: 1, LastGrade: 10}
	st.Providers["writer"] = "mock"
	return st
}

func TestStores_SaveLoad(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := sampleState("sess-1", time.Now().UTC())
			if err := s.Save(ctx, st); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := s.Load(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Step != "chapter_write" {
				t.Errorf("Step = %q, want chapter_write", loaded.Step)
			}
			if loaded.Requirements == nil || loaded.Requirements.TotalLength != 30000 {
				t.Errorf("Requirements not restored: %+v", loaded.Requirements)
			}
			if got := loaded.Approval(story.LoopPlan); got != story.Approved {
				t.Errorf("plan approval = %v, want approved", got)
			}
			if len(loaded.Log(story.LogRequirements)) != 2 {
				t.Errorf("requirements log has %d turns, want 2", len(loaded.Log(story.LogRequirements)))
			}

			// Loaded copies are independent of the store.
			loaded.Plan[0] = "changed"
			again, err := s.Load(ctx, "sess-1")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if again.Plan[0] != "one" {
				t.Errorf("store shares memory with callers")
			}
		})
	}
}

func TestStores_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx, "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Load error = %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, "missing"); err != nil {
				t.Errorf("Delete of unknown session failed: %v", err)
			}
		})
	}
}

func TestStores_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"old", "mid", "new"} {
				if err := s.Save(ctx, sampleState(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
					t.Fatalf("Save %s failed: %v", id, err)
				}
			}

			states, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(states) != 3 {
				t.Fatalf("List returned %d sessions, want 3", len(states))
			}
			if states[0].ID != "new" || states[2].ID != "old" {
				t.Errorf("List order = %s,%s,%s, want newest first", states[0].ID, states[1].ID, states[2].ID)
			}

			if err := s.Delete(ctx, "mid"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			states, err = s.List(ctx)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(states) != 2 {
				t.Errorf("List returned %d sessions after delete, want 2", len(states))
			}
			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping failed: %v", err)
			}
		})
	}
}

func TestStores_RejectUnsafeID(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Save(ctx, story.New("../escape")); err == nil {
				t.Error("expected error for path traversal ID")
			}
		})
	}
}

func TestFileStore_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background(), sampleState("good", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	states, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(states) != 1 || states[0].ID != "good" {
		t.Errorf("List = %d sessions, want only the valid one", len(states))
	}
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreFromClient(client, "", time.Minute)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if err := s.Save(ctx, sampleState("short-lived", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists(defaultRedisPrefix + "state:short-lived") {
		t.Fatal("expected state key with default prefix")
	}

	mr.FastForward(2 * time.Minute)

	if _, err := s.Load(ctx, "short-lived"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after expiry = %v, want ErrNotFound", err)
	}
	states, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("List returned %d expired sessions", len(states))
	}
}

func TestRedisStore_Closed(t *testing.T) {
	_, s := newRedis(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Save(context.Background(), sampleState("x", time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close = %v, want ErrClosed", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{})
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("default store is %T, want *MemoryStore", s)
	}

	s, err = Open(ctx, Config{Type: "file", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open file failed: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("file store is %T", s)
	}

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Config{Type: "redis", Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("Open redis failed: %v", err)
	}
	_ = s.Close()

	if _, err := Open(ctx, Config{Type: "redis"}); err == nil {
		t.Error("expected error for redis without address")
	}
	if _, err := Open(ctx, Config{Type: "firestore"}); err == nil {
		t.Error("expected error for firestore without project")
	}
	if _, err := Open(ctx, Config{Type: "etcd"}); err == nil {
		t.Error("expected error for unknown store type")
	}
}

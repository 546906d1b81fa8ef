package bookwright

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aixgo-dev/bookwright/internal/llm/provider"
	"github.com/aixgo-dev/bookwright/internal/pipeline"
	"github.com/aixgo-dev/bookwright/internal/review"
	"github.com/aixgo-dev/bookwright/internal/story"
)

const fullConfig = `
source_language: English
target_language: Spanish
chapters: 3
min_paragraph_breaks: 5
history_window: 12
output_dir: out
default_provider: writer-model
providers:
  writer-model:
    kind: mock
    model: big
    temperature: 0.8
    max_tokens: 4096
  judge:
    kind: mock
    model: small
    rate_limited: true
    cooldown: 30s
    settings:
      name: judge
roles:
  critic: judge
  reviewer: judge
review:
  mode: iterate
  threshold: 8
  max_rounds: 4
store:
  type: memory
retention:
  schedule: "@daily"
  max_age: 72h
api:
  addr: ":8081"
  api_keys: [k1]
metrics:
  addr: ""
`

func TestLoadConfig(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("bookwright.yaml", fullConfig)

	cfg, err := NewConfigLoader(fr).LoadConfig("bookwright.yaml")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.TargetLanguage != "Spanish" || cfg.Chapters != 3 || cfg.HistoryWindow != 12 {
		t.Errorf("unexpected run settings: %+v", cfg)
	}
	if cfg.MinSentences != 0 {
		t.Errorf("MinSentences = %d, want default 0", cfg.MinSentences)
	}
	if got := cfg.Providers["judge"].Cooldown; got != 30*time.Second {
		t.Errorf("judge cooldown = %s, want 30s", got)
	}
	if got := cfg.providerFor(pipeline.RoleReviewer); got != "judge" {
		t.Errorf("reviewer provider = %q, want judge", got)
	}
	if got := cfg.providerFor(pipeline.RoleWriter); got != "writer-model" {
		t.Errorf("writer provider = %q, want writer-model", got)
	}
	if cfg.Retention.MaxAge != 72*time.Hour || cfg.Retention.Schedule != "@daily" {
		t.Errorf("retention = %+v", cfg.Retention)
	}
	if len(cfg.API.APIKeys) != 1 || cfg.API.Addr != ":8081" {
		t.Errorf("api = %+v", cfg.API)
	}

	pc, err := cfg.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if pc.Review.Mode != review.Iterate || pc.Review.Threshold != 8 || pc.Review.MaxRounds != 4 {
		t.Errorf("review policy = %+v", pc.Review)
	}
	if !pc.Translating() {
		t.Error("expected translation to be enabled")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"invalid yaml", "chapters: [[[", "failed to parse config"},
		{"unknown field", "chapterz: 3", "failed to parse config"},
		{"unknown role", "roles:\n  editor: default", "unknown role"},
		{"undefined provider", "roles:\n  writer: nowhere", "undefined provider"},
		{"missing kind", "providers:\n  default:\n    model: x", "kind is required"},
		{"bad review mode", "review:\n  mode: forever", "invalid config"},
		{"bad threshold", "review:\n  threshold: 11", "threshold"},
		{"negative chapters", "chapters: -1", "chapters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := NewMockFileReader()
			fr.AddFile("c.yaml", tt.content)
			_, err := NewConfigLoader(fr).LoadConfig("c.yaml")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig_ReadError(t *testing.T) {
	fr := NewMockFileReader()
	fr.SetError(os.ErrPermission)

	_, err := NewConfigLoader(fr).LoadConfig("c.yaml")
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("error = %v, want permission error", err)
	}
	if !strings.Contains(err.Error(), "failed to read config") {
		t.Errorf("error = %v", err)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	fr := NewMockFileReader()
	_, err := NewConfigLoader(fr).LoadConfig("absent.yaml")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("error = %v, want fs.ErrNotExist", err)
	}
	if reads := fr.Reads(); len(reads) != 1 || reads[0] != "absent.yaml" {
		t.Errorf("reads = %v", reads)
	}
}

func TestLoadConfig_EncodedConfig(t *testing.T) {
	want := MockConfig()
	want.Chapters = 2
	want.TargetLanguage = "French"
	want.Review.Mode = "iterate"
	want.Retention.MaxAge = 36 * time.Hour
	want.Providers["mock"] = ProviderDef{Kind: "mock", Model: "mock", RateLimited: true, Cooldown: 2 * time.Second}

	fr := NewMockFileReader()
	if err := fr.AddConfig("book.yaml", want); err != nil {
		t.Fatalf("AddConfig: %v", err)
	}
	got, err := NewConfigLoader(fr).LoadConfig("book.yaml")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if got.Chapters != 2 || got.TargetLanguage != "French" || got.Review.Mode != "iterate" {
		t.Errorf("run settings = %+v", got)
	}
	if got.Retention.MaxAge != 36*time.Hour {
		t.Errorf("retention max_age = %s", got.Retention.MaxAge)
	}
	if def := got.Providers["mock"]; !def.RateLimited || def.Cooldown != 2*time.Second {
		t.Errorf("mock provider = %+v", def)
	}
	if got.Store.Type != "memory" || got.DefaultProvider != "mock" {
		t.Errorf("store %q, default provider %q", got.Store.Type, got.DefaultProvider)
	}
}

func TestLoadConfigFrom(t *testing.T) {
	cfg, err := NewConfigLoader(&OSFileReader{}).LoadConfigFrom(strings.NewReader("chapters: 2\n"))
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Chapters != 2 || cfg.SourceLanguage != pipeline.DefaultSourceLanguage {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestUndefinedDefaultProviderOnlyMattersForUnboundRoles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultProvider = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when roles have no provider")
	}

	cfg.Providers = map[string]ProviderDef{"m": {Kind: "mock"}}
	cfg.Roles = make(map[string]string)
	for _, role := range pipeline.Roles {
		if role != pipeline.RoleTranslator {
			cfg.Roles[role] = "m"
		}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("translator is not needed without a target language: %v", err)
	}

	cfg.TargetLanguage = "French"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error once translation needs a translator")
	}
}

func TestNew_FailsFastOnProviderConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg := DefaultConfig()
	cfg.Store.Type = "memory"
	_, err := New(context.Background(), cfg)

	var ce *provider.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *provider.ConfigError", err)
	}
	if !strings.Contains(ce.Error(), `provider "default"`) {
		t.Errorf("error should name the configured provider: %v", ce)
	}
}

func TestNew_RunAndPublish(t *testing.T) {
	ctx := context.Background()
	cfg := MockConfig()
	cfg.OutputDir = t.TempDir()
	cfg.TargetLanguage = "German"

	app, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		_ = app.Close()
	}()

	if !app.Providers.Has("mock") {
		t.Error("mock provider should be registered")
	}

	out, err := app.Controller.Start(ctx, pipeline.StartOptions{ID: "dry-run", Input: "a book about tides"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if out.Status != story.StatusCompleted {
		t.Fatalf("status = %s, want completed", out.Status)
	}

	paths, err := app.Publish(ctx, "dry-run")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d documents, want original and translation", len(paths))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("document %s not written: %v", p, err)
		}
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := MockConfig()

	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		_ = app.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(ShutdownTimeout + 5*time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

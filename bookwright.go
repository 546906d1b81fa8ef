// Package bookwright wires configuration, providers, persistence and the
// pipeline controller into a runnable application.
package bookwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/aixgo-dev/bookwright/internal/api"
	"github.com/aixgo-dev/bookwright/internal/assemble"
	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/llm/provider"
	"github.com/aixgo-dev/bookwright/internal/pipeline"
	"github.com/aixgo-dev/bookwright/internal/publish"
	"github.com/aixgo-dev/bookwright/internal/retention"
	"github.com/aixgo-dev/bookwright/internal/review"
	"github.com/aixgo-dev/bookwright/internal/store"
	"github.com/aixgo-dev/bookwright/pkg/security"
)

// DefaultOutputDir is where documents are written when output_dir is unset.
const DefaultOutputDir = "books"

// Config is the top-level configuration file.
type Config struct {
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language,omitempty"`
	// Chapters fixes the chapter count. Zero lets the planner decide.
	Chapters           int `yaml:"chapters"`
	MinParagraphBreaks int `yaml:"min_paragraph_breaks"`
	MinSentences       int `yaml:"min_sentences"`
	// HistoryWindow bounds the turns sent to a provider. Zero sends the
	// whole log.
	HistoryWindow int    `yaml:"history_window"`
	OutputDir     string `yaml:"output_dir"`

	// DefaultProvider serves every role without an entry in Roles.
	DefaultProvider string                 `yaml:"default_provider"`
	Providers       map[string]ProviderDef `yaml:"providers"`
	Roles           map[string]string      `yaml:"roles,omitempty"`

	Review    ReviewConfig     `yaml:"review"`
	Store     store.Config     `yaml:"store"`
	Retention retention.Config `yaml:"retention"`
	API       api.Config       `yaml:"api"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ProviderDef configures one named provider instance.
type ProviderDef struct {
	// Kind is the provider implementation: openai, xai, gemini, vertexai,
	// bedrock, anthropic or mock.
	Kind        string  `yaml:"kind"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	RateLimited bool          `yaml:"rate_limited,omitempty"`
	Cooldown    time.Duration `yaml:"cooldown,omitempty"`

	// Settings is passed to the provider factory (api_key, base_url,
	// region, project_id, location).
	Settings map[string]any `yaml:"settings,omitempty"`
}

// ReviewConfig configures every revision loop.
type ReviewConfig struct {
	Mode      string `yaml:"mode"`
	Threshold int    `yaml:"threshold"`
	MaxRounds int    `yaml:"max_rounds"`
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() *Config {
	p := pipeline.DefaultConfig()
	return &Config{
		SourceLanguage:     p.SourceLanguage,
		MinParagraphBreaks: p.MinParagraphBreaks,
		MinSentences:       p.MinSentences,
		OutputDir:          DefaultOutputDir,
		DefaultProvider:    "default",
		Providers: map[string]ProviderDef{
			"default": {Kind: "openai", Model: "gpt-4o"},
		},
		Review: ReviewConfig{
			Mode:      "single_pass",
			Threshold: p.Review.Threshold,
			MaxRounds: p.Review.MaxRounds,
		},
		Store:     store.Config{Type: "file"},
		Retention: retention.DefaultConfig(),
		API:       api.DefaultConfig(),
		Metrics:   MetricsConfig{Addr: ":9090"},
	}
}

// UseMockProviders replaces every provider with the mock so a run needs no
// credentials.
func (c *Config) UseMockProviders() {
	c.Providers = map[string]ProviderDef{"mock": {Kind: "mock", Model: "mock"}}
	c.DefaultProvider = "mock"
	c.Roles = nil
}

// Pipeline converts the file configuration to the controller's.
func (c *Config) Pipeline() (pipeline.Config, error) {
	mode, err := review.ParseMode(c.Review.Mode)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		SourceLanguage:     c.SourceLanguage,
		TargetLanguage:     c.TargetLanguage,
		Chapters:           c.Chapters,
		MinParagraphBreaks: c.MinParagraphBreaks,
		MinSentences:       c.MinSentences,
		Review: review.Policy{
			Mode:      mode,
			Threshold: c.Review.Threshold,
			MaxRounds: c.Review.MaxRounds,
		},
	}, nil
}

// Validate checks the configuration without building anything.
func (c *Config) Validate() error {
	pc, err := c.Pipeline()
	if err != nil {
		return err
	}
	if err := pc.Validate(); err != nil {
		return err
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("history_window must not be negative, got %d", c.HistoryWindow)
	}

	for name, def := range c.Providers {
		if def.Kind == "" {
			return &provider.ConfigError{Provider: name, Reason: "kind is required"}
		}
		if def.Cooldown < 0 {
			return &provider.ConfigError{Provider: name, Reason: "cooldown must not be negative"}
		}
	}
	for role, name := range c.Roles {
		if !slices.Contains(pipeline.Roles, role) {
			return fmt.Errorf("unknown role %q (roles: %v)", role, pipeline.Roles)
		}
		if _, ok := c.Providers[name]; !ok {
			return &provider.ConfigError{Provider: name, Reason: fmt.Sprintf("role %s references an undefined provider", role)}
		}
	}
	for _, role := range c.requiredRoles(pc) {
		if _, ok := c.Providers[c.providerFor(role)]; !ok {
			return &provider.ConfigError{Provider: c.providerFor(role), Reason: fmt.Sprintf("no provider for role %s", role)}
		}
	}
	return nil
}

func (c *Config) requiredRoles(pc pipeline.Config) []string {
	roles := make([]string, 0, len(pipeline.Roles))
	for _, role := range pipeline.Roles {
		if role == pipeline.RoleTranslator && !pc.Translating() {
			continue
		}
		roles = append(roles, role)
	}
	return roles
}

func (c *Config) providerFor(role string) string {
	if name, ok := c.Roles[role]; ok && name != "" {
		return name
	}
	return c.DefaultProvider
}

// FileReader interface for reading files (testable)
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is from trusted config file input
}

// ConfigLoader loads configuration from a file
type ConfigLoader struct {
	fileReader FileReader
	yamlParser *security.SafeYAMLParser
}

// NewConfigLoader creates a new config loader with default security limits
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{
		fileReader: fr,
		yamlParser: security.NewSafeYAMLParser(security.DefaultYAMLLimits()),
	}
}

// LoadConfig reads a config file over the defaults and validates it.
func (cl *ConfigLoader) LoadConfig(configPath string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := cl.yamlParser.UnmarshalYAML(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFrom reads a config from r, such as stdin.
func (cl *ConfigLoader) LoadConfigFrom(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if err := cl.yamlParser.UnmarshalYAMLFromReader(r, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// App is a fully wired application.
type App struct {
	Config     *Config
	Controller *pipeline.Controller
	Store      store.Store
	Providers  *provider.Registry
	Publisher  *publish.Writer
}

// New builds the application described by cfg. Every provider a role
// needs is constructed here so a bad credential fails before any step runs.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pc, err := cfg.Pipeline()
	if err != nil {
		return nil, err
	}

	registry, err := buildProviders(cfg, cfg.requiredRoles(pc))
	if err != nil {
		return nil, err
	}
	bindings, err := bindRoles(cfg, registry, cfg.requiredRoles(pc))
	if err != nil {
		return nil, err
	}
	svc, err := generation.NewService(bindings, generation.WithHistoryWindow(cfg.HistoryWindow))
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	ctrl, err := pipeline.New(pc, svc, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = DefaultOutputDir
	}
	return &App{
		Config:     cfg,
		Controller: ctrl,
		Store:      st,
		Providers:  registry,
		Publisher:  publish.NewWriter(outDir),
	}, nil
}

func buildProviders(cfg *Config, roles []string) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		if name := cfg.providerFor(role); !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		def := cfg.Providers[name]
		p, err := provider.New(def.Kind, def.Settings)
		if err != nil {
			var ce *provider.ConfigError
			if errors.As(err, &ce) {
				ce.Reason = fmt.Sprintf("%s (provider %q)", ce.Reason, name)
			}
			return nil, err
		}
		registry.Register(name, provider.WrapProvider(p))
		log.Printf("Registered provider %s (%s, model %s)", name, def.Kind, def.Model)
	}
	return registry, nil
}

func bindRoles(cfg *Config, registry *provider.Registry, roles []string) (map[string]generation.Binding, error) {
	bindings := make(map[string]generation.Binding, len(roles))
	for _, role := range roles {
		name := cfg.providerFor(role)
		p, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		def := cfg.Providers[name]
		bindings[role] = generation.Binding{
			Provider:    p,
			Model:       def.Model,
			Temperature: def.Temperature,
			MaxTokens:   def.MaxTokens,
			RateLimited: def.RateLimited,
			Cooldown:    def.Cooldown,
		}
	}
	return bindings, nil
}

// Publish writes the documents of a completed session and returns the
// file paths.
func (a *App) Publish(ctx context.Context, id string) ([]string, error) {
	docs, err := a.Controller.Documents(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.PublishDocuments(docs)
}

// PublishDocuments writes already rendered documents.
func (a *App) PublishDocuments(docs []assemble.Document) ([]string, error) {
	return a.Publisher.Write(docs...)
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

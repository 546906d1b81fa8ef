package provider

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Factory builds a provider from its configuration block.
type Factory func(config map[string]any) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a provider kind available to New. Provider files
// register themselves from init.
func RegisterFactory(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// New builds a provider of the given kind. Unknown kinds fail fast with a
// *ConfigError.
func New(kind string, config map[string]any) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, &ConfigError{Provider: kind, Reason: fmt.Sprintf("unknown provider kind (available: %v)", Kinds())}
	}
	p, err := f(config)
	if err != nil {
		return nil, &ConfigError{Provider: kind, Reason: err.Error()}
	}
	return p, nil
}

// Kinds returns the registered provider kinds, sorted.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Registry manages named provider instances
type Registry struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register registers a provider
func (r *Registry) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[name]
	if !ok {
		return nil, &ConfigError{Provider: name, Reason: "not configured"}
	}

	return provider, nil
}

// Has checks if a provider is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// List returns all registered provider names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stringSetting reads a string from a provider config block, falling back to
// an environment variable.
func stringSetting(config map[string]any, key, env string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	if env != "" {
		return os.Getenv(env)
	}
	return ""
}

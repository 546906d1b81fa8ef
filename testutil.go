package bookwright

import (
	"fmt"
	"io/fs"
	"sync"

	"gopkg.in/yaml.v3"
)

// MockFileReader serves configuration files from memory. Missing files
// report fs.ErrNotExist like the OS reader does.
type MockFileReader struct {
	mu    sync.Mutex
	files map[string][]byte
	reads []string
	err   error
}

// NewMockFileReader creates an empty in-memory file set.
func NewMockFileReader() *MockFileReader {
	return &MockFileReader{files: make(map[string][]byte)}
}

// ReadFile implements FileReader.
func (m *MockFileReader) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads = append(m.reads, path)
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, path)
	}
	return data, nil
}

// AddFile stores raw YAML under path.
func (m *MockFileReader) AddFile(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(content)
}

// AddConfig stores cfg, encoded as a config file, under path.
func (m *MockFileReader) AddConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = data
	return nil
}

// SetError makes every read fail with err.
func (m *MockFileReader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Reads returns the paths read so far, in order.
func (m *MockFileReader) Reads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reads...)
}

// MockConfig is the default configuration with every role on the mock
// provider and an in-memory store, so New needs no credentials.
// Servers listen on loopback ports chosen by the OS.
func MockConfig() *Config {
	cfg := DefaultConfig()
	cfg.UseMockProviders()
	cfg.Store.Type = "memory"
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = "127.0.0.1:0"
	return cfg
}

package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLimits defines resource limits for YAML parsing
type YAMLLimits struct {
	MaxFileSize  int64 // Maximum file size in bytes (default: 1MB)
	MaxDepth     int   // Maximum nesting depth (default: 20)
	MaxNodes     int   // Maximum number of nodes (default: 10000)
	MaxKeyLength int   // Maximum key length in bytes (default: 256)
	MaxValueSize int64 // Maximum scalar size in bytes (default: 256KB)

	// KnownFields rejects keys that do not map to a struct field
	KnownFields bool
}

// DefaultYAMLLimits returns limits suited to run configuration files
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  1024 * 1024,
		MaxDepth:     20,
		MaxNodes:     10000,
		MaxKeyLength: 256,
		MaxValueSize: 256 * 1024,
		KnownFields:  true,
	}
}

// SafeYAMLParser parses YAML after checking it against resource limits
type SafeYAMLParser struct {
	limits YAMLLimits
}

// NewSafeYAMLParser creates a new YAML parser with limits
func NewSafeYAMLParser(limits YAMLLimits) *SafeYAMLParser {
	return &SafeYAMLParser{limits: limits}
}

// UnmarshalYAML validates data and unmarshals it into v
func (p *SafeYAMLParser) UnmarshalYAML(data []byte, v any) error {
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("YAML file size %d bytes exceeds maximum %d bytes", len(data), p.limits.MaxFileSize)
	}

	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("YAML parse error: %w", err)
	}

	walker := &yamlWalker{limits: p.limits}
	if err := walker.walk(&root, 0); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(p.limits.KnownFields)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("YAML decode error: %w", err)
	}
	return nil
}

// UnmarshalYAMLFromReader reads at most MaxFileSize bytes and unmarshals them
func (p *SafeYAMLParser) UnmarshalYAMLFromReader(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, p.limits.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}
	return p.UnmarshalYAML(data, v)
}

type yamlWalker struct {
	limits    YAMLLimits
	nodeCount int
}

func (w *yamlWalker) walk(node *yaml.Node, depth int) error {
	if depth > w.limits.MaxDepth {
		return fmt.Errorf("YAML nesting depth %d exceeds maximum %d", depth, w.limits.MaxDepth)
	}

	w.nodeCount++
	if w.nodeCount > w.limits.MaxNodes {
		return fmt.Errorf("YAML node count %d exceeds maximum %d", w.nodeCount, w.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := w.walk(child, depth); err != nil {
				return err
			}
		}

	case yaml.MappingNode:
		if len(node.Content)%2 != 0 {
			return fmt.Errorf("invalid YAML mapping: odd number of elements")
		}
		for i := 0; i < len(node.Content); i += 2 {
			if len(node.Content[i].Value) > w.limits.MaxKeyLength {
				return fmt.Errorf("YAML key length %d exceeds maximum %d", len(node.Content[i].Value), w.limits.MaxKeyLength)
			}
			if err := w.walk(node.Content[i+1], depth+1); err != nil {
				return err
			}
		}

	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := w.walk(child, depth+1); err != nil {
				return err
			}
		}

	case yaml.ScalarNode:
		if int64(len(node.Value)) > w.limits.MaxValueSize {
			return fmt.Errorf("YAML value size %d bytes exceeds maximum %d bytes", len(node.Value), w.limits.MaxValueSize)
		}

	case yaml.AliasNode:
		// Aliases count against the node budget each time they are expanded.
		if node.Alias != nil {
			if err := w.walk(node.Alias, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

// Package generation adapts providers to the pipeline: it turns a turn
// history and a response shape into a provider call and validates what
// comes back.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aixgo-dev/bookwright/internal/llm/provider"
	"github.com/aixgo-dev/bookwright/internal/story"
	metrics "github.com/aixgo-dev/bookwright/pkg/observability"
	"github.com/aixgo-dev/bookwright/pkg/security"
)

// DefaultCooldown is used for rate-limited bindings without an explicit interval.
const DefaultCooldown = 10 * time.Second

// ErrMalformed is returned when a structured response cannot be parsed or
// does not match its schema.
var ErrMalformed = errors.New("malformed structured response")

var debug = os.Getenv("BOOKWRIGHT_DEBUG") == "true"

type sessionKey struct{}

// WithSession tags ctx with the session a generation call belongs to.
// Cool-downs are tracked per session.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Result is either free text or a structured payload of Shape.
type Result struct {
	Shape      Shape
	Text       string
	Structured json.RawMessage
}

// IsStructured reports whether the result carries a structured payload.
func (r *Result) IsStructured() bool {
	return r != nil && r.Shape != FreeText
}

// Decode unmarshals a structured result into T.
func Decode[T any](r *Result) (T, error) {
	var v T
	if !r.IsStructured() {
		return v, fmt.Errorf("%w: expected structured result", ErrMalformed)
	}
	if err := json.Unmarshal(r.Structured, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// Generator produces one response for a turn history.
type Generator interface {
	Generate(ctx context.Context, history []story.Turn, shape Shape) (*Result, error)
	// ProviderName identifies the backing provider, for the document header.
	ProviderName() string
}

// Binding ties a pipeline role to a provider.
type Binding struct {
	Provider    provider.Provider
	Model       string
	Temperature float64
	MaxTokens   int

	// RateLimited providers are called at most once per Cooldown by each
	// session, and never before one Cooldown has passed.
	RateLimited bool
	Cooldown    time.Duration
}

// Service hands out role-bound generators.
type Service struct {
	bindings      map[string]Binding
	cooldown      *security.Cooldown
	historyWindow int
}

// Option configures a Service.
type Option func(*Service)

// WithHistoryWindow bounds the context sent to providers to the system turns
// plus the last k other turns. Zero sends the full history.
func WithHistoryWindow(k int) Option {
	return func(s *Service) {
		s.historyWindow = k
	}
}

// NewService validates the bindings and configures provider cool-downs.
func NewService(bindings map[string]Binding, opts ...Option) (*Service, error) {
	s := &Service{
		bindings: make(map[string]Binding, len(bindings)),
		cooldown: security.NewCooldown(),
	}
	for _, opt := range opts {
		opt(s)
	}

	intervals := make(map[string]time.Duration)
	for role, b := range bindings {
		if b.Provider == nil {
			return nil, &provider.ConfigError{Provider: role, Reason: "role has no provider"}
		}
		if b.RateLimited {
			if b.Cooldown <= 0 {
				b.Cooldown = DefaultCooldown
			}
			name := b.Provider.Name()
			if b.Cooldown > intervals[name] {
				intervals[name] = b.Cooldown
			}
		}
		s.bindings[role] = b
	}
	for name, interval := range intervals {
		s.cooldown.Set(name, interval)
	}
	return s, nil
}

// Release drops the cool-down state of a session.
func (s *Service) Release(session string) {
	s.cooldown.Forget(session)
}

// For returns the generator bound to role.
func (s *Service) For(role string) (Generator, error) {
	b, ok := s.bindings[role]
	if !ok {
		return nil, &provider.ConfigError{Provider: role, Reason: "no provider bound to role"}
	}
	return &roleGenerator{svc: s, role: role, binding: b}, nil
}

type roleGenerator struct {
	svc     *Service
	role    string
	binding Binding
}

func (g *roleGenerator) ProviderName() string {
	return g.binding.Provider.Name()
}

func (g *roleGenerator) Generate(ctx context.Context, history []story.Turn, shape Shape) (*Result, error) {
	name := g.binding.Provider.Name()

	if g.binding.RateLimited {
		waited, err := g.svc.cooldown.Wait(ctx, sessionFrom(ctx), name)
		if err != nil {
			return nil, err
		}
		metrics.RecordCooldown(name, waited)
		if debug && waited > 0 {
			log.Printf("[generation] %s: waited %v for %s cool-down", g.role, waited.Round(time.Millisecond), name)
		}
	}

	req := provider.CompletionRequest{
		Messages:    toMessages(window(history, g.svc.historyWindow)),
		Model:       g.binding.Model,
		Temperature: g.binding.Temperature,
		MaxTokens:   g.binding.MaxTokens,
	}
	if debug {
		log.Printf("[generation] %s: %s via %s (%d of %d turns)", g.role, shape, name, len(req.Messages), len(history))
	}

	switch shape {
	case FreeText:
		resp, err := g.binding.Provider.CreateCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("generate %s with %s: %w", shape, name, err)
		}
		return &Result{Shape: FreeText, Text: resp.Content}, nil

	case Requirements:
		schema, _ := SchemaOf(Requirements)
		req.Tools = []provider.Tool{{
			Name:        RequirementsTool,
			Description: "Call once the requirements are clear enough to start writing the book.",
			Parameters:  schema.JSON(),
		}}
		resp, err := g.binding.Provider.CreateCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("generate %s with %s: %w", shape, name, err)
		}
		for _, call := range resp.ToolCalls {
			if call.Function.Name != RequirementsTool {
				continue
			}
			data, err := conform(schema, call.Function.Arguments)
			if err != nil {
				return nil, fmt.Errorf("%s tool call from %s: %w", RequirementsTool, name, err)
			}
			return &Result{Shape: Requirements, Structured: data}, nil
		}
		return &Result{Shape: FreeText, Text: resp.Content}, nil

	default:
		schema, err := SchemaOf(shape)
		if err != nil {
			return nil, err
		}
		resp, err := g.binding.Provider.CreateStructured(ctx, provider.StructuredRequest{
			CompletionRequest: req,
			SchemaName:        string(shape),
			ResponseSchema:    schema.JSON(),
			StrictSchema:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("generate %s with %s: %w", shape, name, err)
		}
		data := resp.Data
		if len(data) == 0 {
			data = json.RawMessage(resp.Content)
		}
		data, err = conform(schema, data)
		if err != nil {
			return nil, fmt.Errorf("%s from %s: %w", shape, name, err)
		}
		return &Result{Shape: shape, Structured: data}, nil
	}
}

// conform parses raw, falling back to the first embedded JSON object, and
// validates it against schema.
func conform(schema *Schema, raw json.RawMessage) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		embedded := extractJSON(string(raw))
		if embedded == "" || json.Unmarshal([]byte(embedded), &v) != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw = json.RawMessage(embedded)
	}
	if errs := schema.Validate(v); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(errs, "; "))
	}
	return raw, nil
}

// window keeps every system turn plus the last k other turns, in order.
func window(history []story.Turn, k int) []story.Turn {
	if k <= 0 {
		return history
	}
	others := 0
	for _, t := range history {
		if t.Role != story.RoleSystem {
			others++
		}
	}
	skip := others - k
	if skip <= 0 {
		return history
	}

	out := make([]story.Turn, 0, len(history)-skip)
	for _, t := range history {
		if t.Role != story.RoleSystem && skip > 0 {
			skip--
			continue
		}
		out = append(out, t)
	}
	return out
}

func toMessages(turns []story.Turn) []provider.Message {
	msgs := make([]provider.Message, len(turns))
	for i, t := range turns {
		msgs[i] = provider.Message{Role: string(t.Role), Content: t.Text}
	}
	return msgs
}

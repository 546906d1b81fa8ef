package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aixgo-dev/bookwright/internal/observability"
	metrics "github.com/aixgo-dev/bookwright/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedProvider wraps a Provider with a span and metrics per call.
type InstrumentedProvider struct {
	provider Provider
}

// WrapProvider wraps a provider with instrumentation if not already wrapped
func WrapProvider(p Provider) Provider {
	if _, ok := p.(*InstrumentedProvider); ok {
		return p
	}
	return &InstrumentedProvider{provider: p}
}

// UnwrapProvider returns the underlying provider if wrapped
func UnwrapProvider(p Provider) Provider {
	if instrumented, ok := p.(*InstrumentedProvider); ok {
		return instrumented.provider
	}
	return p
}

// Name returns the underlying provider name
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// CreateCompletion creates a completion with instrumentation
func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, fmt.Sprintf("llm.%s.completion", p.provider.Name()),
		trace.WithAttributes(
			attribute.String("llm.provider", p.provider.Name()),
			attribute.String("llm.model", request.Model),
			attribute.Int("llm.messages_count", len(request.Messages)),
			attribute.Int("llm.tools_count", len(request.Tools)),
		),
	)
	defer span.End()

	start := time.Now()
	response, err := p.provider.CreateCompletion(ctx, request)
	duration := time.Since(start)

	var usage Usage
	if response != nil {
		usage = response.Usage
	}
	finish(span, err, duration, usage)
	metrics.RecordGeneration(p.provider.Name(), "completion", err, duration, usage.PromptTokens, usage.CompletionTokens)

	if err != nil {
		return nil, err
	}
	if len(response.ToolCalls) > 0 {
		span.SetAttributes(attribute.Int("llm.tool_calls_count", len(response.ToolCalls)))
	}
	return response, nil
}

// CreateStructured creates a structured response with instrumentation
func (p *InstrumentedProvider) CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error) {
	ctx, span := observability.StartSpanWithOtel(ctx, fmt.Sprintf("llm.%s.structured", p.provider.Name()),
		trace.WithAttributes(
			attribute.String("llm.provider", p.provider.Name()),
			attribute.String("llm.model", request.Model),
			attribute.String("llm.schema", request.SchemaName),
			attribute.Bool("llm.strict_schema", request.StrictSchema),
		),
	)
	defer span.End()

	start := time.Now()
	response, err := p.provider.CreateStructured(ctx, request)
	duration := time.Since(start)

	var usage Usage
	if response != nil {
		usage = response.Usage
	}
	finish(span, err, duration, usage)
	metrics.RecordGeneration(p.provider.Name(), "structured", err, duration, usage.PromptTokens, usage.CompletionTokens)

	if err != nil {
		return nil, err
	}
	return response, nil
}

func finish(span trace.Span, err error, duration time.Duration, usage Usage) {
	span.SetAttributes(
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
		attribute.Bool("llm.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", usage.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", usage.TotalTokens),
	)
}

package review

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/story"
)

var debug = os.Getenv("BOOKWRIGHT_DEBUG") == "true"

// Evaluator grades drafts through a generator.
type Evaluator struct {
	gen generation.Generator
}

// NewEvaluator creates an evaluator backed by gen.
func NewEvaluator(gen generation.Generator) *Evaluator {
	return &Evaluator{gen: gen}
}

// Evaluate sends history (criteria and draft) with the verdict shape.
// Transport failures are returned; a malformed verdict is a rejection with
// empty feedback.
func (e *Evaluator) Evaluate(ctx context.Context, history []story.Turn) (Verdict, error) {
	res, err := e.gen.Generate(ctx, history, generation.Verdict)
	if errors.Is(err, generation.ErrMalformed) {
		log.Printf("[review] unparsable verdict, treating as rejection: %v", err)
		return Verdict{}, nil
	}
	if err != nil {
		return Verdict{}, err
	}

	v := ParseVerdict(res.Structured)
	if debug {
		log.Printf("[review] grade %d", v.Grade)
	}
	return v, nil
}

// ProviderName returns the provider backing the evaluator.
func (e *Evaluator) ProviderName() string {
	return e.gen.ProviderName()
}

package review

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/llm/provider"
	"github.com/aixgo-dev/bookwright/internal/story"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Verdict
	}{
		{"valid", `{"grade":10,"feedback":"great"}`, Verdict{10, "great"}},
		{"string grade", `{"grade":"7/10","feedback":"ok"}`, Verdict{7, "ok"}},
		{"clamped high", `{"grade":42,"feedback":"wow"}`, Verdict{10, "wow"}},
		{"clamped low", `{"grade":-3,"feedback":"bad"}`, Verdict{0, "bad"}},
		{"missing grade", `{"feedback":"no grade"}`, Verdict{}},
		{"garbage grade", `{"grade":"excellent","feedback":"x"}`, Verdict{}},
		{"not json", `Grade: 10`, Verdict{}},
		{"empty", ``, Verdict{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseVerdict([]byte(tt.raw)))
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("iterate")
	require.NoError(t, err)
	assert.Equal(t, Iterate, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, SinglePass, m)

	_, err = ParseMode("forever")
	assert.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{Threshold: 11}.Validate())
	assert.Error(t, Policy{Threshold: 10, MaxRounds: -1}.Validate())
}

func TestLoop_ApprovesOnThreshold(t *testing.T) {
	l := NewLoop(DefaultPolicy(), story.LoopState{})
	require.True(t, l.NeedsEvaluation())

	require.NoError(t, l.Record(Verdict{Grade: 10}))
	assert.True(t, l.Approved())
	assert.Equal(t, 1, l.State.Rounds)
	assert.False(t, l.State.Exhausted)
}

func TestLoop_ConfigurableThreshold(t *testing.T) {
	l := NewLoop(Policy{Mode: Iterate, Threshold: 9}, story.LoopState{})
	require.NoError(t, l.Record(Verdict{Grade: 9}))
	assert.True(t, l.Approved())
}

func TestLoop_IdempotentTermination(t *testing.T) {
	l := NewLoop(DefaultPolicy(), story.LoopState{})
	require.NoError(t, l.Record(Verdict{Grade: 10}))

	assert.False(t, l.NeedsEvaluation())
	assert.ErrorIs(t, l.Record(Verdict{Grade: 3, Feedback: "late"}), ErrTerminated)
	assert.ErrorIs(t, l.Accept(), ErrTerminated)
	assert.Equal(t, story.Approved, l.State.Approval)
	assert.Equal(t, 1, l.State.Rounds)
}

func TestLoop_SinglePassAtMostTwoEvaluations(t *testing.T) {
	for _, feedback := range []string{"", "rewrite everything", strings.Repeat("x", 1000)} {
		l := NewLoop(Policy{Mode: SinglePass, Threshold: 10}, story.LoopState{})
		evaluations := 0

		for !l.Approved() {
			if l.NeedsEvaluation() {
				evaluations++
				require.NoError(t, l.Record(Verdict{Grade: 2, Feedback: feedback}))
				if evaluations == 1 {
					assert.Equal(t, story.Rejected, l.State.Approval)
					assert.Equal(t, feedback, l.State.Feedback)
				}
			} else {
				require.NoError(t, l.Accept())
			}
			require.LessOrEqual(t, evaluations, 2)
		}
		assert.Equal(t, 1, evaluations)
	}
}

func TestLoop_IterateStaysActiveBelowThreshold(t *testing.T) {
	l := NewLoop(Policy{Mode: Iterate, Threshold: 10, MaxRounds: 10}, story.LoopState{})
	for i := 0; i < 5; i++ {
		require.True(t, l.NeedsEvaluation())
		require.NoError(t, l.Record(Verdict{Grade: 5, Feedback: "again"}))
	}
	assert.False(t, l.Approved())
	assert.Equal(t, story.Rejected, l.State.Approval)
	assert.True(t, l.NeedsEvaluation())
	assert.Equal(t, 5, l.State.Rounds)
}

func TestLoop_IterateExhaustion(t *testing.T) {
	l := NewLoop(Policy{Mode: Iterate, Threshold: 10, MaxRounds: 3}, story.LoopState{})
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(Verdict{Grade: 9, Feedback: "close"}))
	}
	assert.True(t, l.Approved())
	assert.True(t, l.State.Exhausted)
	assert.Equal(t, 9, l.State.LastGrade)
}

func TestLoop_IterateUnbounded(t *testing.T) {
	l := NewLoop(Policy{Mode: Iterate, Threshold: 10}, story.LoopState{})
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Record(Verdict{Grade: 1}))
	}
	assert.False(t, l.Approved())
}

func paragraphs(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "The wind rose over the hills. Nobody spoke."
	}
	return strings.Join(parts, "\n\n")
}

func TestCheckStructure(t *testing.T) {
	s, ok := CheckStructure(paragraphs(4), DefaultMinParagraphBreaks, 0)
	assert.False(t, ok, "3 breaks is below the minimum")
	assert.Equal(t, 3, s.ParagraphBreaks)

	s, ok = CheckStructure(paragraphs(5), DefaultMinParagraphBreaks, 0)
	assert.True(t, ok)
	assert.Equal(t, 4, s.ParagraphBreaks)
	assert.Equal(t, 10, s.Sentences)

	_, ok = CheckStructure(paragraphs(5), DefaultMinParagraphBreaks, 20)
	assert.False(t, ok, "sentence minimum")

	_, ok = CheckStructure("one line", 0, 0)
	assert.True(t, ok, "checks disabled")
}

func TestMeasure(t *testing.T) {
	assert.Equal(t, 0, Measure("").ParagraphBreaks)
	assert.Equal(t, 1, Measure("a\r\n\r\nb").ParagraphBreaks)
	assert.Equal(t, 1, Measure("a\n  \n\n\nb\n").ParagraphBreaks, "runs of blank lines count once")
	assert.Equal(t, 0, Measure("a\nb\nc").ParagraphBreaks, "single newlines are not breaks")
	assert.Equal(t, 4, Measure(`"Stop!" she said. Why? Because.`).Sentences)
}

func newEvaluator(t *testing.T, m *provider.MockProvider) *Evaluator {
	t.Helper()
	svc, err := generation.NewService(map[string]generation.Binding{"critic": {Provider: m}})
	require.NoError(t, err)
	g, err := svc.For("critic")
	require.NoError(t, err)
	return NewEvaluator(g)
}

func TestEvaluator(t *testing.T) {
	m := provider.NewMockProvider("critic")
	m.AddStructuredJSON(map[string]any{"grade": 7, "feedback": "tighten the ending"})
	m.AddStructuredResponse(&provider.StructuredResponse{Data: json.RawMessage(`I would give it an eight`)})
	m.StructuredErrors = []error{nil, nil, provider.NewProviderError("critic", provider.ErrorCodeServerError, "down", nil)}
	e := newEvaluator(t, m)
	history := []story.Turn{story.System("grade"), story.User("draft")}

	v, err := e.Evaluate(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, Verdict{7, "tighten the ending"}, v)

	v, err = e.Evaluate(context.Background(), history)
	require.NoError(t, err, "malformed verdict degrades to rejection")
	assert.Equal(t, Verdict{}, v)

	_, err = e.Evaluate(context.Background(), history)
	require.Error(t, err, "transport failure is returned")

	assert.Equal(t, "critic", e.ProviderName())
}

package review

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aixgo-dev/bookwright/internal/story"
)

// ErrTerminated is returned when a verdict is recorded on an approved loop.
var ErrTerminated = errors.New("revision loop already approved")

// Mode selects how many evaluator rounds a loop gets.
type Mode int

const (
	// SinglePass evaluates once; a rejected draft is revised once and then
	// accepted without another evaluation.
	SinglePass Mode = iota
	// Iterate re-evaluates every revision until a passing grade or MaxRounds.
	Iterate
)

func (m Mode) String() string {
	if m == Iterate {
		return "iterate"
	}
	return "single_pass"
}

// ParseMode parses "single_pass" or "iterate". The empty string is SinglePass.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single_pass", "single-pass", "single":
		return SinglePass, nil
	case "iterate":
		return Iterate, nil
	}
	return SinglePass, fmt.Errorf("unknown review mode %q", s)
}

// Policy configures every revision loop of a run.
type Policy struct {
	Mode Mode
	// Threshold is the lowest passing grade.
	Threshold int
	// MaxRounds caps evaluator rounds in Iterate mode. Zero means no cap.
	MaxRounds int
}

// DefaultPolicy passes only a perfect grade and caps iteration at 10 rounds.
func DefaultPolicy() Policy {
	return Policy{Mode: SinglePass, Threshold: MaxGrade, MaxRounds: 10}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.Threshold < MinGrade || p.Threshold > MaxGrade {
		return fmt.Errorf("review threshold %d outside %d..%d", p.Threshold, MinGrade, MaxGrade)
	}
	if p.MaxRounds < 0 {
		return fmt.Errorf("review max_rounds %d is negative", p.MaxRounds)
	}
	return nil
}

// Loop applies a Policy to the persisted state of one loop instance.
type Loop struct {
	Policy Policy
	State  story.LoopState
}

// NewLoop wraps existing loop state.
func NewLoop(p Policy, st story.LoopState) *Loop {
	return &Loop{Policy: p, State: st}
}

// Approved reports whether the loop has terminated.
func (l *Loop) Approved() bool {
	return l.State.Approval == story.Approved
}

// NeedsEvaluation reports whether the current draft must go to the
// evaluator. It is false once approved, and in SinglePass mode after the
// single rejection has been recorded.
func (l *Loop) NeedsEvaluation() bool {
	switch l.State.Approval {
	case story.Approved:
		return false
	case story.Rejected:
		return l.Policy.Mode == Iterate
	default:
		return true
	}
}

// Record applies an evaluator verdict.
func (l *Loop) Record(v Verdict) error {
	if l.Approved() {
		return ErrTerminated
	}

	l.State.Rounds++
	l.State.LastGrade = v.Grade
	if v.Grade >= l.Policy.Threshold {
		l.State.Approval = story.Approved
		l.State.Feedback = ""
		return nil
	}

	l.State.Approval = story.Rejected
	l.State.Feedback = v.Feedback
	if l.Policy.Mode == Iterate && l.Policy.MaxRounds > 0 && l.State.Rounds >= l.Policy.MaxRounds {
		l.State.Approval = story.Approved
		l.State.Exhausted = true
	}
	return nil
}

// Accept approves the current draft without evaluation. It is the
// SinglePass short-circuit for a revised draft.
func (l *Loop) Accept() error {
	if l.Approved() {
		return ErrTerminated
	}
	l.State.Approval = story.Approved
	return nil
}

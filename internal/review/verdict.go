// Package review grades drafts and decides when a revision loop ends.
package review

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Grade bounds.
const (
	MinGrade = 0
	MaxGrade = 10
)

// Verdict is an evaluator's grade and feedback.
type Verdict struct {
	Grade    int    `json:"grade"`
	Feedback string `json:"feedback"`
}

// String renders the verdict as it is recorded in a review log.
func (v Verdict) String() string {
	if v.Feedback == "" {
		return "Grade: " + strconv.Itoa(v.Grade) + "/10"
	}
	return "Grade: " + strconv.Itoa(v.Grade) + "/10\n" + v.Feedback
}

// ParseVerdict decodes an evaluator payload. It never fails: anything that
// cannot be read as a verdict becomes grade 0 with empty feedback, which is
// a rejection. Grades are clamped to 0..10.
func ParseVerdict(raw []byte) Verdict {
	var payload struct {
		Grade    json.RawMessage `json:"grade"`
		Feedback string          `json:"feedback"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Verdict{}
	}

	grade, ok := parseGrade(payload.Grade)
	if !ok {
		return Verdict{}
	}
	return Verdict{Grade: clamp(grade), Feedback: payload.Feedback}
}

func parseGrade(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/10"))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func clamp(g int) int {
	if g < MinGrade {
		return MinGrade
	}
	if g > MaxGrade {
		return MaxGrade
	}
	return g
}

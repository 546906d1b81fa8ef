// Package story holds the session state threaded through every pipeline step.
// The state is owned by the pipeline controller; steps receive a cloned view
// and hand back a Delta that the controller merges.
package story

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry of a conversation log.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// System returns a system turn.
func System(text string) Turn { return Turn{Role: RoleSystem, Text: text} }

// User returns a user turn.
func User(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// Assistant returns an assistant turn.
func Assistant(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }

// LogKind names one of the per-step conversation logs.
type LogKind string

const (
	LogRequirements    LogKind = "requirements"
	LogOutline         LogKind = "outline"
	LogOutlineCritique LogKind = "outline_critique"
	LogPlanCritique    LogKind = "plan_critique"
	LogChapterWriting  LogKind = "chapter_writing"
	LogChapterReview   LogKind = "chapter_review"
	LogTranslation     LogKind = "translation"
)

// LoopKind names a revision loop instance.
type LoopKind string

const (
	LoopIdea    LoopKind = "outline_idea"
	LoopDetail  LoopKind = "outline_detail"
	LoopPlan    LoopKind = "chapter_plan"
	LoopChapter LoopKind = "chapter"
)

// Approval is the tri-state flag of a revision loop. Unset means the loop
// has never been evaluated and is distinct from Rejected.
type Approval int

const (
	Unset Approval = iota
	Approved
	Rejected
)

func (a Approval) String() string {
	switch a {
	case Unset:
		return "unset"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("approval(%d)", int(a))
	}
}

// MarshalJSON encodes the approval by name.
func (a Approval) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an approval name.
func (a *Approval) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "", "unset":
		*a = Unset
	case "approved":
		*a = Approved
	case "rejected":
		*a = Rejected
	default:
		return fmt.Errorf("unknown approval %q", s)
	}
	return nil
}

// LoopState is the persisted bookkeeping of one revision loop instance.
type LoopState struct {
	Approval Approval `json:"approval"`
	// Rounds counts evaluator invocations.
	Rounds int `json:"rounds"`
	// Feedback is the evaluator text of the latest rejection, passed verbatim
	// to the next producer call.
	Feedback  string `json:"feedback,omitempty"`
	LastGrade int    `json:"last_grade"`
	// Exhausted is set when the loop was closed by the round limit rather
	// than by a passing grade.
	Exhausted bool `json:"exhausted,omitempty"`
	// Regenerations counts local structural rejections (not evaluator rounds).
	Regenerations int `json:"regenerations,omitempty"`
}

// Requirements is the finalized result of the requirement-gathering dialogue.
type Requirements struct {
	Description string `json:"description"`
	LengthClass string `json:"length_class"`
	TotalLength int    `json:"total_length"`
}

// Outline is the story-level plan. Idea fields are filled by the outline idea
// step, the remaining fields by the outline detail step.
type Outline struct {
	Overview     string `json:"overview,omitempty"`
	Characters   string `json:"characters,omitempty"`
	WritingStyle string `json:"writing_style,omitempty"`

	Title            string `json:"title,omitempty"`
	Prologue         string `json:"prologue,omitempty"`
	Setting          string `json:"setting,omitempty"`
	IncitingIncident string `json:"inciting_incident,omitempty"`
	RisingAction     string `json:"rising_action,omitempty"`
	Subplots         string `json:"subplots,omitempty"`
	Midpoint         string `json:"midpoint,omitempty"`
	Climax           string `json:"climax,omitempty"`
	FallingAction    string `json:"falling_action,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	Epilogue         string `json:"epilogue,omitempty"`
}

// Translation holds the target-language mirrors of the assembled artifacts.
type Translation struct {
	Title    string   `json:"title,omitempty"`
	Prologue string   `json:"prologue,omitempty"`
	Content  []string `json:"content,omitempty"`
	Names    []string `json:"names,omitempty"`
}

// Status is the lifecycle status of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

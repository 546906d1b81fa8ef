package story

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrInvariant is returned when a merge would break a state invariant.
var ErrInvariant = errors.New("session state invariant violated")

// State is the single mutable record of one pipeline run.
type State struct {
	ID        string    `json:"id"`
	Step      string    `json:"step"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Logs map[LogKind][]Turn `json:"logs"`

	// Requirements is nil until the requirement-gathering loop exits.
	Requirements *Requirements `json:"requirements,omitempty"`
	Outline      Outline       `json:"outline"`
	Plan         []string      `json:"plan,omitempty"`

	Content         []string `json:"content,omitempty"`
	ChapterNames    []string `json:"chapter_names,omitempty"`
	ApprovedContent []string `json:"approved_content,omitempty"`
	ApprovedNames   []string `json:"approved_names,omitempty"`

	Loops map[LoopKind]LoopState `json:"loops"`

	CurrentChapter    int `json:"current_chapter"`
	TranslatedChapter int `json:"translated_chapter"`

	Translation Translation `json:"translation"`

	// Providers maps a pipeline role to the provider that served it.
	Providers map[string]string `json:"providers,omitempty"`
}

// New returns an empty state for the given session ID.
func New(id string) *State {
	now := time.Now().UTC()
	return &State{
		ID:        id,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Logs:      make(map[LogKind][]Turn),
		Loops:     make(map[LoopKind]LoopState),
		Providers: make(map[string]string),
	}
}

// Log returns the turns of a conversation log.
func (s *State) Log(kind LogKind) []Turn {
	return s.Logs[kind]
}

// Loop returns the bookkeeping of a revision loop. A loop never touched
// reports Unset.
func (s *State) Loop(kind LoopKind) LoopState {
	return s.Loops[kind]
}

// Approval is shorthand for s.Loop(kind).Approval.
func (s *State) Approval(kind LoopKind) Approval {
	return s.Loops[kind].Approval
}

// PlannedChapters is the fixed chapter count N once the plan is finalized.
func (s *State) PlannedChapters() int {
	return len(s.Plan)
}

// Clone returns a deep copy, used as the read view handed to steps.
func (s *State) Clone() *State {
	c := *s
	c.Logs = make(map[LogKind][]Turn, len(s.Logs))
	for k, v := range s.Logs {
		c.Logs[k] = slices.Clone(v)
	}
	if s.Requirements != nil {
		r := *s.Requirements
		c.Requirements = &r
	}
	c.Plan = slices.Clone(s.Plan)
	c.Content = slices.Clone(s.Content)
	c.ChapterNames = slices.Clone(s.ChapterNames)
	c.ApprovedContent = slices.Clone(s.ApprovedContent)
	c.ApprovedNames = slices.Clone(s.ApprovedNames)
	c.Loops = maps.Clone(s.Loops)
	if c.Loops == nil {
		c.Loops = make(map[LoopKind]LoopState)
	}
	c.Translation.Content = slices.Clone(s.Translation.Content)
	c.Translation.Names = slices.Clone(s.Translation.Names)
	c.Providers = maps.Clone(s.Providers)
	if c.Providers == nil {
		c.Providers = make(map[string]string)
	}
	return &c
}

// Delta is the output of a step. Nil pointers and nil slices mean "not
// provided"; list-valued fields append and scalar fields overwrite.
type Delta struct {
	Turns map[LogKind][]Turn

	Requirements *Requirements
	Outline      *Outline
	// Plan replaces the chapter plan as a whole when non-nil.
	Plan []string

	Content         []string
	ChapterNames    []string
	ApprovedContent []string
	ApprovedNames   []string

	Loops map[LoopKind]LoopState

	CurrentChapter    *int
	TranslatedChapter *int

	TranslatedTitle    *string
	TranslatedPrologue *string
	TranslatedContent  []string
	TranslatedNames    []string

	Providers map[string]string
}

// AddTurns appends turns to the delta for the given log.
func (d *Delta) AddTurns(kind LogKind, turns ...Turn) {
	if d.Turns == nil {
		d.Turns = make(map[LogKind][]Turn)
	}
	d.Turns[kind] = append(d.Turns[kind], turns...)
}

// SetLoop records the new bookkeeping of a loop.
func (d *Delta) SetLoop(kind LoopKind, ls LoopState) {
	if d.Loops == nil {
		d.Loops = make(map[LoopKind]LoopState)
	}
	d.Loops[kind] = ls
}

// SetProvider records which provider served a role.
func (d *Delta) SetProvider(role, name string) {
	if d.Providers == nil {
		d.Providers = make(map[string]string)
	}
	d.Providers[role] = name
}

// Merge applies d to s. The delta is validated first so a rejected delta
// leaves s untouched.
func (s *State) Merge(d Delta) error {
	if len(d.Content) != len(d.ChapterNames) {
		return fmt.Errorf("%w: %d chapter drafts with %d names", ErrInvariant, len(d.Content), len(d.ChapterNames))
	}
	if len(d.ApprovedContent) != len(d.ApprovedNames) {
		return fmt.Errorf("%w: %d approved chapters with %d names", ErrInvariant, len(d.ApprovedContent), len(d.ApprovedNames))
	}
	if len(d.TranslatedContent) != len(d.TranslatedNames) {
		return fmt.Errorf("%w: %d translated chapters with %d names", ErrInvariant, len(d.TranslatedContent), len(d.TranslatedNames))
	}
	if d.Plan != nil && s.Approval(LoopPlan) == Approved {
		return fmt.Errorf("%w: chapter plan is already finalized", ErrInvariant)
	}

	if s.Logs == nil {
		s.Logs = make(map[LogKind][]Turn)
	}
	for kind, turns := range d.Turns {
		s.Logs[kind] = append(s.Logs[kind], turns...)
	}

	if d.Requirements != nil {
		r := *d.Requirements
		s.Requirements = &r
	}
	if d.Outline != nil {
		s.Outline = *d.Outline
	}
	if d.Plan != nil {
		s.Plan = slices.Clone(d.Plan)
	}

	s.Content = append(s.Content, d.Content...)
	s.ChapterNames = append(s.ChapterNames, d.ChapterNames...)
	s.ApprovedContent = append(s.ApprovedContent, d.ApprovedContent...)
	s.ApprovedNames = append(s.ApprovedNames, d.ApprovedNames...)

	if s.Loops == nil {
		s.Loops = make(map[LoopKind]LoopState)
	}
	maps.Copy(s.Loops, d.Loops)

	if d.CurrentChapter != nil {
		s.CurrentChapter = *d.CurrentChapter
	}
	if d.TranslatedChapter != nil {
		s.TranslatedChapter = *d.TranslatedChapter
	}

	if d.TranslatedTitle != nil {
		s.Translation.Title = *d.TranslatedTitle
	}
	if d.TranslatedPrologue != nil {
		s.Translation.Prologue = *d.TranslatedPrologue
	}
	s.Translation.Content = append(s.Translation.Content, d.TranslatedContent...)
	s.Translation.Names = append(s.Translation.Names, d.TranslatedNames...)

	if s.Providers == nil {
		s.Providers = make(map[string]string)
	}
	maps.Copy(s.Providers, d.Providers)

	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Check verifies the parallel-sequence invariants of s.
func (s *State) Check() error {
	if len(s.Content) != len(s.ChapterNames) {
		return fmt.Errorf("%w: content/chapter_names length %d != %d", ErrInvariant, len(s.Content), len(s.ChapterNames))
	}
	if len(s.ApprovedContent) != len(s.ApprovedNames) {
		return fmt.Errorf("%w: approved content/names length %d != %d", ErrInvariant, len(s.ApprovedContent), len(s.ApprovedNames))
	}
	if len(s.Translation.Content) != len(s.Translation.Names) {
		return fmt.Errorf("%w: translation content/names length %d != %d", ErrInvariant, len(s.Translation.Content), len(s.Translation.Names))
	}
	return nil
}

// Ptr returns a pointer to v, for populating Delta scalars.
func Ptr[T any](v T) *T { return &v }

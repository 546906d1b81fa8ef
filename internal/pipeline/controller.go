// Package pipeline drives a book session through requirement gathering,
// outlining, chapter writing, translation and assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aixgo-dev/bookwright/internal/assemble"
	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/llm/prompt"
	"github.com/aixgo-dev/bookwright/internal/observability"
	"github.com/aixgo-dev/bookwright/internal/review"
	"github.com/aixgo-dev/bookwright/internal/store"
	"github.com/aixgo-dev/bookwright/internal/story"
	metrics "github.com/aixgo-dev/bookwright/pkg/observability"
)

var (
	// ErrNotSuspended is returned by Resume for a session that is not
	// waiting for human input.
	ErrNotSuspended = errors.New("session is not waiting for input")
	// ErrSessionExists is returned by Start when the requested ID is taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrEmptyInput is returned by Resume for blank input.
	ErrEmptyInput = errors.New("input is empty")
	// ErrNotCompleted is returned by Documents before a session finishes.
	ErrNotCompleted = errors.New("session is not completed")
)

var debug = os.Getenv("BOOKWRIGHT_DEBUG") == "true"

// DefaultSourceLanguage is used when Config.SourceLanguage is empty.
const DefaultSourceLanguage = "English"

// Config is the read-only run configuration.
type Config struct {
	SourceLanguage string
	// TargetLanguage enables translation when set and different from
	// SourceLanguage.
	TargetLanguage string
	// Chapters is the planned chapter count. Zero lets the planner decide.
	Chapters int

	MinParagraphBreaks int
	MinSentences       int

	Review review.Policy
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		SourceLanguage:     DefaultSourceLanguage,
		MinParagraphBreaks: review.DefaultMinParagraphBreaks,
		MinSentences:       review.DefaultMinSentences,
		Review:             review.DefaultPolicy(),
	}
}

// Translating reports whether a translated edition is produced.
func (c Config) Translating() bool {
	return c.TargetLanguage != "" && !strings.EqualFold(c.TargetLanguage, c.SourceLanguage)
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.Chapters < 0 {
		return fmt.Errorf("chapters must not be negative, got %d", c.Chapters)
	}
	if c.MinParagraphBreaks < 0 || c.MinSentences < 0 {
		return fmt.Errorf("structural minimums must not be negative")
	}
	return c.Review.Validate()
}

// Generators hands out the generator bound to a role. *generation.Service
// implements it.
type Generators interface {
	For(role string) (generation.Generator, error)
	// Release drops per-session state, such as cool-downs, once a run
	// returns.
	Release(session string)
}

// Outcome is what a caller sees after Start or Resume returns.
type Outcome struct {
	SessionID string
	Status    story.Status
	Step      Step
	// Question is the clarifying question to show the user while the
	// session is suspended.
	Question  string
	Documents []assemble.Document
}

// StartOptions configures a new session.
type StartOptions struct {
	// ID is the session ID; a UUID is generated when empty.
	ID string
	// Input is an optional first message from the user.
	Input string
}

type handler func(ctx context.Context, view *story.State) (story.Delta, error)

// Controller runs sessions. It is safe for concurrent use; calls for the
// same session are serialized.
type Controller struct {
	cfg   Config
	store store.Store

	gens     map[string]generation.Generator
	service  Generators
	critic   *review.Evaluator
	reviewer *review.Evaluator

	handlers map[Step]handler
	next     map[Step]transition

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is dropped from Controller.locks once nobody holds or waits
// for it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// New binds every role the configuration needs. A missing binding is a
// configuration error and fails here rather than mid-run.
func New(cfg Config, gens Generators, st store.Store) (*Controller, error) {
	if cfg.SourceLanguage == "" {
		cfg.SourceLanguage = DefaultSourceLanguage
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("pipeline: store is required")
	}

	c := &Controller{
		cfg:     cfg,
		store:   st,
		gens:    make(map[string]generation.Generator),
		service: gens,
		locks:   make(map[string]*sessionLock),
	}
	for _, role := range Roles {
		if role == RoleTranslator && !cfg.Translating() {
			continue
		}
		gen, err := gens.For(role)
		if err != nil {
			return nil, err
		}
		c.gens[role] = gen
	}
	c.critic = review.NewEvaluator(c.gens[RoleCritic])
	c.reviewer = review.NewEvaluator(c.gens[RoleReviewer])

	c.handlers = map[Step]handler{
		StepGatherRequirements:    c.gatherRequirements,
		StepOutlineIdea:           c.outlineIdea,
		StepOutlineIdeaCritique:   c.critiqueIdea,
		StepOutlineDetail:         c.outlineDetail,
		StepOutlineDetailCritique: c.critiqueDetail,
		StepChapterPlan:           c.chapterPlan,
		StepChapterPlanCritique:   c.critiquePlan,
		StepChapterWrite:          c.writeChapter,
		StepChapterReview:         c.reviewChapter,
		StepTranslateFrontMatter:  c.translateFrontMatter,
		StepTranslateChapter:      c.translateChapter,
		StepAssemble:              c.assemble,
	}
	c.next = c.transitions()
	return c, nil
}

// Config returns the run configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Start creates a session and runs it until it suspends or completes.
func (c *Controller) Start(ctx context.Context, opts StartOptions) (*Outcome, error) {
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}

	unlock := c.lock(id)
	defer unlock()

	if _, err := c.store.Load(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	sys, err := prompt.Render(prompt.RequirementsSystem, c.promptData(nil))
	if err != nil {
		return nil, err
	}

	st := story.New(id)
	st.Step = string(StepGatherRequirements)
	var d story.Delta
	d.AddTurns(story.LogRequirements, story.System(sys))
	if input := strings.TrimSpace(opts.Input); input != "" {
		d.AddTurns(story.LogRequirements, story.User(input))
	}
	if err := st.Merge(d); err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save initial state: %w", err)
	}

	log.Printf("[pipeline] session %s started", id)
	return c.run(ctx, st)
}

// Resume appends one user turn to a suspended session and continues it.
func (c *Controller) Resume(ctx context.Context, id, input string) (*Outcome, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	unlock := c.lock(id)
	defer unlock()

	st, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status != story.StatusSuspended || Step(st.Step) != StepAwaitHumanInput {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSuspended, id, st.Status)
	}

	var d story.Delta
	d.AddTurns(story.LogRequirements, story.User(input))
	if err := st.Merge(d); err != nil {
		return nil, err
	}
	st.Step = string(c.next[StepAwaitHumanInput](st))
	st.Status = story.StatusRunning
	if err := c.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	if debug {
		log.Printf("[pipeline] session %s resumed", id)
	}
	return c.run(ctx, st)
}

// Status returns the stored state of a session.
func (c *Controller) Status(ctx context.Context, id string) (*story.State, error) {
	return c.store.Load(ctx, id)
}

// Documents renders the documents of a completed session.
func (c *Controller) Documents(ctx context.Context, id string) ([]assemble.Document, error) {
	st, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status != story.StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, st.Status)
	}
	return c.documents(st)
}

func (c *Controller) lock(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &sessionLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		c.service.Release(id)
		l.mu.Unlock()

		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

// lockedSessions returns the number of sessions with a held or awaited lock.
func (c *Controller) lockedSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// run executes steps until the session suspends, completes or fails. The
// state is saved after every merge.
func (c *Controller) run(ctx context.Context, st *story.State) (*Outcome, error) {
	ctx = generation.WithSession(ctx, st.ID)
	for {
		step := Step(st.Step)

		switch step {
		case StepAwaitHumanInput:
			st.Status = story.StatusSuspended
			if err := c.store.Save(ctx, st); err != nil {
				return nil, fmt.Errorf("save state: %w", err)
			}
			metrics.RecordSession(string(st.Status))
			log.Printf("[pipeline] session %s waiting for input", st.ID)
			return c.outcome(st, nil), nil

		case StepDone:
			docs, err := c.documents(st)
			if err != nil {
				return c.fail(ctx, st, err)
			}
			st.Status = story.StatusCompleted
			if err := c.store.Save(ctx, st); err != nil {
				return nil, fmt.Errorf("save state: %w", err)
			}
			metrics.RecordSession(string(st.Status))
			log.Printf("[pipeline] session %s completed with %d chapters", st.ID, len(st.ApprovedContent))
			return c.outcome(st, docs), nil
		}

		if err := ctx.Err(); err != nil {
			return c.fail(ctx, st, err)
		}

		h, ok := c.handlers[step]
		if !ok {
			return c.fail(ctx, st, fmt.Errorf("no handler for step %q", step))
		}

		if err := c.execute(ctx, st, step, h); err != nil {
			return c.fail(ctx, st, fmt.Errorf("step %s failed: %w", step, err))
		}

		next := c.next[step](st)
		if debug {
			log.Printf("[pipeline] session %s: %s -> %s", st.ID, step, next)
		}
		st.Step = string(next)
		if err := c.store.Save(ctx, st); err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
	}
}

// execute runs one handler on a cloned view and merges its delta.
func (c *Controller) execute(ctx context.Context, st *story.State, step Step, h handler) error {
	ctx, span := observability.StartSpanWithOtel(ctx, "pipeline."+string(step))
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", st.ID),
		attribute.Int("chapter.current", st.CurrentChapter),
	)

	start := time.Now()
	delta, err := h(ctx, st.Clone())
	metrics.RecordStep(string(step), time.Since(start))
	if err == nil {
		err = st.Merge(delta)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// fail records the error on the session. The step is left unchanged so the
// state shows where the run stopped.
func (c *Controller) fail(ctx context.Context, st *story.State, cause error) (*Outcome, error) {
	st.Status = story.StatusFailed
	st.Error = cause.Error()
	// The caller's context may be the reason for the failure.
	saveCtx := context.WithoutCancel(ctx)
	if err := c.store.Save(saveCtx, st); err != nil {
		log.Printf("[pipeline] session %s: save failed state: %v", st.ID, err)
	}
	metrics.RecordSession(string(st.Status))
	log.Printf("[pipeline] session %s failed at %s: %v", st.ID, st.Step, cause)
	return c.outcome(st, nil), cause
}

func (c *Controller) outcome(st *story.State, docs []assemble.Document) *Outcome {
	o := &Outcome{
		SessionID: st.ID,
		Status:    st.Status,
		Step:      Step(st.Step),
		Documents: docs,
	}
	o.Question = PendingQuestion(st)
	return o
}

// PendingQuestion returns the question a suspended session is waiting on.
func PendingQuestion(st *story.State) string {
	if st.Status != story.StatusSuspended {
		return ""
	}
	return lastAssistant(st.Log(story.LogRequirements))
}

func (c *Controller) documents(st *story.State) ([]assemble.Document, error) {
	doc, err := assemble.Render(st, assemble.Original, c.cfg.SourceLanguage)
	if err != nil {
		return nil, err
	}
	docs := []assemble.Document{doc}
	if c.cfg.Translating() {
		tr, err := assemble.Render(st, assemble.Translated, c.cfg.TargetLanguage)
		if err != nil {
			return nil, err
		}
		docs = append(docs, tr)
	}
	return docs, nil
}

// assemble only validates; documents are rendered from state on demand.
func (c *Controller) assemble(_ context.Context, view *story.State) (story.Delta, error) {
	_, err := c.documents(view)
	return story.Delta{}, err
}

func (c *Controller) promptData(view *story.State) prompt.Data {
	data := prompt.Data{
		Chapters:           c.cfg.Chapters,
		MinParagraphBreaks: c.cfg.MinParagraphBreaks,
		MinSentences:       c.cfg.MinSentences,
		SourceLanguage:     c.cfg.SourceLanguage,
		TargetLanguage:     c.cfg.TargetLanguage,
	}
	if view != nil {
		data.Requirements = view.Requirements
		data.Outline = view.Outline
		data.Plan = view.Plan
		if n := view.PlannedChapters(); n > 0 {
			data.Chapters = n
		}
	}
	return data
}

func lastAssistant(turns []story.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == story.RoleAssistant {
			return turns[i].Text
		}
	}
	return ""
}

// conversation accumulates the turns a step sends to a generator and
// mirrors them into the step's delta.
type conversation struct {
	kind    story.LogKind
	history []story.Turn
	delta   *story.Delta
}

func newConversation(view *story.State, kind story.LogKind, d *story.Delta) *conversation {
	return &conversation{kind: kind, history: slices.Clone(view.Log(kind)), delta: d}
}

func (cv *conversation) add(turns ...story.Turn) {
	cv.history = append(cv.history, turns...)
	cv.delta.AddTurns(cv.kind, turns...)
}

// system adds the system turn on first use of the log.
func (cv *conversation) system(text string) {
	if len(cv.history) == 0 {
		cv.add(story.System(text))
	}
}

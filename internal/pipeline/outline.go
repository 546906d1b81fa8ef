package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/llm/prompt"
	"github.com/aixgo-dev/bookwright/internal/review"
	"github.com/aixgo-dev/bookwright/internal/story"
	metrics "github.com/aixgo-dev/bookwright/pkg/observability"
)

// produce runs one producer call of a revision loop on the outline log.
// The first draft uses the step prompt; a rejected draft is revised with
// the stored feedback.
func (c *Controller) produce(ctx context.Context, view *story.State, d *story.Delta, role string, kind story.LoopKind, first prompt.Name, shape generation.Shape) (*generation.Result, error) {
	data := c.promptData(view)
	cv := newConversation(view, story.LogOutline, d)
	sys, err := prompt.Render(prompt.OutlineSystem, data)
	if err != nil {
		return nil, err
	}
	cv.system(sys)

	name := first
	if ls := view.Loop(kind); ls.Approval == story.Rejected {
		name = prompt.Revise
		data.Feedback = ls.Feedback
	}
	text, err := prompt.Render(name, data)
	if err != nil {
		return nil, err
	}
	cv.add(story.User(text))

	gen := c.gens[role]
	res, err := gen.Generate(ctx, cv.history, shape)
	if err != nil {
		return nil, err
	}
	cv.add(story.Assistant(string(res.Structured)))
	d.SetProvider(role, gen.ProviderName())
	return res, nil
}

func (c *Controller) outlineIdea(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	res, err := c.produce(ctx, view, &d, RoleOutliner, story.LoopIdea, prompt.OutlineIdea, generation.OutlineIdea)
	if err != nil {
		return d, err
	}
	p, err := generation.Decode[generation.OutlineIdeaPayload](res)
	if err != nil {
		return d, err
	}

	o := view.Outline
	o.Overview = p.Overview
	o.Characters = p.Characters
	o.WritingStyle = p.WritingStyle
	d.Outline = &o
	return d, nil
}

func (c *Controller) outlineDetail(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	res, err := c.produce(ctx, view, &d, RoleOutliner, story.LoopDetail, prompt.OutlineDetail, generation.OutlineDetail)
	if err != nil {
		return d, err
	}
	p, err := generation.Decode[generation.OutlineDetailPayload](res)
	if err != nil {
		return d, err
	}

	o := view.Outline
	o.Title = strings.TrimSpace(p.Title)
	o.Prologue = p.Prologue
	o.Setting = p.Setting
	o.IncitingIncident = p.IncitingIncident
	o.RisingAction = p.RisingAction
	o.Subplots = p.Subplots
	o.Midpoint = p.Midpoint
	o.Climax = p.Climax
	o.FallingAction = p.FallingAction
	o.Resolution = p.Resolution
	o.Epilogue = p.Epilogue
	d.Outline = &o
	return d, nil
}

// chapterPlan fixes the chapter count: extra summaries beyond a configured
// count are dropped, too few is a malformed plan.
func (c *Controller) chapterPlan(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	res, err := c.produce(ctx, view, &d, RolePlanner, story.LoopPlan, prompt.ChapterPlan, generation.ChapterSummaries)
	if err != nil {
		return d, err
	}
	p, err := generation.Decode[generation.ChapterSummariesPayload](res)
	if err != nil {
		return d, err
	}

	plan := make([]string, 0, len(p.Chapters))
	for _, s := range p.Chapters {
		if s = strings.TrimSpace(s); s != "" {
			plan = append(plan, s)
		}
	}
	if n := c.cfg.Chapters; n > 0 {
		if len(plan) < n {
			return d, fmt.Errorf("%w: planner returned %d chapters, want %d", generation.ErrMalformed, len(plan), n)
		}
		plan = plan[:n]
	}
	if len(plan) == 0 {
		return d, fmt.Errorf("%w: empty chapter plan", generation.ErrMalformed)
	}
	d.Plan = plan
	return d, nil
}

func (c *Controller) critiqueIdea(ctx context.Context, view *story.State) (story.Delta, error) {
	return c.critique(ctx, view, story.LoopIdea, story.LogOutlineCritique, prompt.CritiqueIdea)
}

func (c *Controller) critiqueDetail(ctx context.Context, view *story.State) (story.Delta, error) {
	return c.critique(ctx, view, story.LoopDetail, story.LogOutlineCritique, prompt.CritiqueDetail)
}

func (c *Controller) critiquePlan(ctx context.Context, view *story.State) (story.Delta, error) {
	return c.critique(ctx, view, story.LoopPlan, story.LogPlanCritique, prompt.CritiquePlan)
}

// critique is the evaluator half of an outline or plan loop.
func (c *Controller) critique(ctx context.Context, view *story.State, kind story.LoopKind, logKind story.LogKind, criteria prompt.Name) (story.Delta, error) {
	var d story.Delta
	loop := review.NewLoop(c.cfg.Review, view.Loop(kind))
	if loop.Approved() {
		return d, nil
	}
	if !loop.NeedsEvaluation() {
		if err := loop.Accept(); err != nil {
			return d, err
		}
		log.Printf("[review] %s: accepting revised draft after one rejection", kind)
		d.SetLoop(kind, loop.State)
		return d, nil
	}

	data := c.promptData(view)
	cv := newConversation(view, logKind, &d)
	sys, err := prompt.Render(prompt.CritiqueSystem, data)
	if err != nil {
		return d, err
	}
	cv.system(sys)
	text, err := prompt.Render(criteria, data)
	if err != nil {
		return d, err
	}
	cv.add(story.User(text))

	v, err := c.critic.Evaluate(ctx, cv.history)
	if err != nil {
		return d, err
	}
	cv.add(story.Assistant(v.String()))
	d.SetProvider(RoleCritic, c.critic.ProviderName())

	if err := loop.Record(v); err != nil {
		return d, err
	}
	metrics.RecordGrade(string(kind), v.Grade)
	if loop.State.Exhausted {
		log.Printf("[review] %s: round limit reached, accepting grade %d", kind, v.Grade)
	} else if debug {
		log.Printf("[review] %s: round %d grade %d (%s)", kind, loop.State.Rounds, v.Grade, loop.State.Approval)
	}
	d.SetLoop(kind, loop.State)
	return d, nil
}

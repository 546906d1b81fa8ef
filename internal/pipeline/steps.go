package pipeline

import "github.com/aixgo-dev/bookwright/internal/story"

// Step names a node of the pipeline graph.
type Step string

const (
	StepGatherRequirements    Step = "gather_requirements"
	StepAwaitHumanInput       Step = "await_human_input"
	StepOutlineIdea           Step = "outline_idea"
	StepOutlineIdeaCritique   Step = "outline_idea_critique"
	StepOutlineDetail         Step = "outline_detail"
	StepOutlineDetailCritique Step = "outline_detail_critique"
	StepChapterPlan           Step = "chapter_plan"
	StepChapterPlanCritique   Step = "chapter_plan_critique"
	StepChapterWrite          Step = "chapter_write"
	StepChapterReview         Step = "chapter_review"
	StepTranslateFrontMatter  Step = "translate_front_matter"
	StepTranslateChapter      Step = "translate_chapter"
	StepAssemble              Step = "assemble"
	StepDone                  Step = "done"
)

// Pipeline roles. Each role is bound to one generator.
const (
	RoleRequirements = "requirements"
	RoleOutliner     = "outliner"
	RoleCritic       = "critic"
	RolePlanner      = "planner"
	RoleWriter       = "writer"
	RoleReviewer     = "reviewer"
	RoleTranslator   = "translator"
)

// Roles lists every role in pipeline order.
var Roles = []string{
	RoleRequirements,
	RoleOutliner,
	RoleCritic,
	RolePlanner,
	RoleWriter,
	RoleReviewer,
	RoleTranslator,
}

// transition picks the next step from the merged state.
type transition func(st *story.State) Step

func always(next Step) transition {
	return func(*story.State) Step { return next }
}

// untilApproved loops back to producer until loop is approved.
func untilApproved(loop story.LoopKind, producer, next Step) transition {
	return func(st *story.State) Step {
		if st.Approval(loop) == story.Approved {
			return next
		}
		return producer
	}
}

// transitions is the full pipeline graph.
func (c *Controller) transitions() map[Step]transition {
	return map[Step]transition{
		StepGatherRequirements: func(st *story.State) Step {
			if st.Requirements == nil {
				return StepAwaitHumanInput
			}
			return StepOutlineIdea
		},
		StepAwaitHumanInput: always(StepGatherRequirements),

		StepOutlineIdea:         always(StepOutlineIdeaCritique),
		StepOutlineIdeaCritique: untilApproved(story.LoopIdea, StepOutlineIdea, StepOutlineDetail),

		StepOutlineDetail:         always(StepOutlineDetailCritique),
		StepOutlineDetailCritique: untilApproved(story.LoopDetail, StepOutlineDetail, StepChapterPlan),

		StepChapterPlan:         always(StepChapterPlanCritique),
		StepChapterPlanCritique: untilApproved(story.LoopPlan, StepChapterPlan, StepChapterWrite),

		StepChapterWrite: always(StepChapterReview),
		StepChapterReview: func(st *story.State) Step {
			switch {
			case st.Approval(story.LoopChapter) != story.Approved:
				return StepChapterWrite
			case st.CurrentChapter < st.PlannedChapters():
				return StepChapterWrite
			case c.cfg.Translating():
				return StepTranslateFrontMatter
			default:
				return StepAssemble
			}
		},

		StepTranslateFrontMatter: always(StepTranslateChapter),
		StepTranslateChapter: func(st *story.State) Step {
			if st.TranslatedChapter < st.PlannedChapters() {
				return StepTranslateChapter
			}
			return StepAssemble
		},

		StepAssemble: always(StepDone),
	}
}

package pipeline

import (
	"context"
	"log"
	"strings"

	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/story"
)

const (
	openingQuestion  = "What kind of book would you like me to write?"
	followUpQuestion = "Could you tell me more about the book you have in mind?"
)

// gatherRequirements asks the requirements role for either a clarifying
// question or the finalized requirements. Before the user has said
// anything the opening question is asked without a provider call.
func (c *Controller) gatherRequirements(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	cv := newConversation(view, story.LogRequirements, &d)

	if !hasUserTurn(cv.history) {
		cv.add(story.Assistant(openingQuestion))
		return d, nil
	}

	gen := c.gens[RoleRequirements]
	res, err := gen.Generate(ctx, cv.history, generation.Requirements)
	if err != nil {
		return d, err
	}
	d.SetProvider(RoleRequirements, gen.ProviderName())

	if !res.IsStructured() {
		question := strings.TrimSpace(res.Text)
		if question == "" {
			question = followUpQuestion
		}
		cv.add(story.Assistant(question))
		return d, nil
	}

	p, err := generation.Decode[generation.RequirementsPayload](res)
	if err != nil {
		return d, err
	}
	cv.add(story.Assistant(string(res.Structured)))
	d.Requirements = &story.Requirements{
		Description: p.Description,
		LengthClass: p.LengthClass,
		TotalLength: p.TotalLength,
	}
	log.Printf("[pipeline] session %s: requirements finalized (%s, %d words)", view.ID, p.LengthClass, p.TotalLength)
	return d, nil
}

func hasUserTurn(turns []story.Turn) bool {
	for _, t := range turns {
		if t.Role == story.RoleUser {
			return true
		}
	}
	return false
}

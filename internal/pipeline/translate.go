package pipeline

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/bookwright/internal/llm/generation"
	"github.com/aixgo-dev/bookwright/internal/llm/prompt"
	"github.com/aixgo-dev/bookwright/internal/story"
)

func (c *Controller) translation(view *story.State, d *story.Delta, data prompt.Data, name prompt.Name) (*conversation, error) {
	cv := newConversation(view, story.LogTranslation, d)
	sys, err := prompt.Render(prompt.TranslatorSystem, data)
	if err != nil {
		return nil, err
	}
	cv.system(sys)
	text, err := prompt.Render(name, data)
	if err != nil {
		return nil, err
	}
	cv.add(story.User(text))
	return cv, nil
}

func (c *Controller) translateFrontMatter(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	cv, err := c.translation(view, &d, c.promptData(view), prompt.TranslateFrontMatter)
	if err != nil {
		return d, err
	}

	gen := c.gens[RoleTranslator]
	res, err := gen.Generate(ctx, cv.history, generation.TranslationFrontMatter)
	if err != nil {
		return d, err
	}
	p, err := generation.Decode[generation.FrontMatterPayload](res)
	if err != nil {
		return d, err
	}
	cv.add(story.Assistant(string(res.Structured)))

	d.TranslatedTitle = story.Ptr(p.Title)
	d.TranslatedPrologue = story.Ptr(p.Prologue)
	d.SetProvider(RoleTranslator, gen.ProviderName())
	return d, nil
}

func (c *Controller) translateChapter(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	index := view.TranslatedChapter
	if index >= len(view.ApprovedContent) {
		return d, fmt.Errorf("%w: no approved chapter %d to translate", story.ErrInvariant, index+1)
	}

	data := c.promptData(view)
	data.Chapter = index + 1
	data.Name = view.ApprovedNames[index]
	data.Draft = view.ApprovedContent[index]
	cv, err := c.translation(view, &d, data, prompt.TranslateChapter)
	if err != nil {
		return d, err
	}

	gen := c.gens[RoleTranslator]
	res, err := gen.Generate(ctx, cv.history, generation.TranslationContent)
	if err != nil {
		return d, err
	}
	p, err := generation.Decode[generation.TranslationPayload](res)
	if err != nil {
		return d, err
	}
	cv.add(story.Assistant(string(res.Structured)))

	d.TranslatedContent = []string{p.Content}
	d.TranslatedNames = []string{p.Name}
	d.TranslatedChapter = story.Ptr(index + 1)
	d.SetProvider(RoleTranslator, gen.ProviderName())
	return d, nil
}

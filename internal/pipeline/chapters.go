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

func (c *Controller) chapterData(view *story.State, index int) prompt.Data {
	data := c.promptData(view)
	data.Chapter = index + 1
	data.Summary = view.Plan[index]
	if index > 0 && index-1 < len(view.ApprovedContent) {
		data.Previous = lastParagraph(view.ApprovedContent[index-1])
	}
	return data
}

// writeChapter drafts the current chapter, or revises it after a
// rejection. A draft that fails the structural check is regenerated once
// before it goes to review.
func (c *Controller) writeChapter(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	index := view.CurrentChapter
	if index >= view.PlannedChapters() {
		return d, fmt.Errorf("%w: chapter %d of %d", story.ErrInvariant, index+1, view.PlannedChapters())
	}

	ls := view.Loop(story.LoopChapter)
	if ls.Approval == story.Approved {
		ls = story.LoopState{}
	}

	data := c.chapterData(view, index)
	cv := newConversation(view, story.LogChapterWriting, &d)
	sys, err := prompt.Render(prompt.WriterSystem, data)
	if err != nil {
		return d, err
	}
	cv.system(sys)

	name := prompt.WriteChapter
	if ls.Approval == story.Rejected {
		name = prompt.ReviseChapter
		data.Feedback = ls.Feedback
	}
	text, err := prompt.Render(name, data)
	if err != nil {
		return d, err
	}
	cv.add(story.User(text))

	gen := c.gens[RoleWriter]
	ch, err := c.draftChapter(ctx, gen, cv, index)
	if err != nil {
		return d, err
	}
	d.SetProvider(RoleWriter, gen.ProviderName())

	if s, ok := review.CheckStructure(ch.Content, c.cfg.MinParagraphBreaks, c.cfg.MinSentences); !ok {
		log.Printf("[review] chapter %d too short (%d paragraph breaks, %d sentences), regenerating", index+1, s.ParagraphBreaks, s.Sentences)
		d.Content = append(d.Content, ch.Content)
		d.ChapterNames = append(d.ChapterNames, ch.Name)
		ls.Regenerations++

		short, err := prompt.Render(prompt.ChapterTooShort, data)
		if err != nil {
			return d, err
		}
		cv.add(story.User(short))
		if ch, err = c.draftChapter(ctx, gen, cv, index); err != nil {
			return d, err
		}
		if s, ok := review.CheckStructure(ch.Content, c.cfg.MinParagraphBreaks, c.cfg.MinSentences); !ok {
			log.Printf("[review] chapter %d still short after regeneration (%d paragraph breaks)", index+1, s.ParagraphBreaks)
		}
	}

	d.Content = append(d.Content, ch.Content)
	d.ChapterNames = append(d.ChapterNames, ch.Name)
	d.SetLoop(story.LoopChapter, ls)
	return d, nil
}

func (c *Controller) draftChapter(ctx context.Context, gen generation.Generator, cv *conversation, index int) (generation.ChapterPayload, error) {
	res, err := gen.Generate(ctx, cv.history, generation.ChapterContent)
	if err != nil {
		return generation.ChapterPayload{}, err
	}
	ch, err := generation.Decode[generation.ChapterPayload](res)
	if err != nil {
		return ch, err
	}
	cv.add(story.Assistant(string(res.Structured)))

	ch.Name = strings.TrimSpace(ch.Name)
	if ch.Name == "" {
		ch.Name = fmt.Sprintf("Chapter %d", index+1)
	}
	ch.Content = strings.TrimSpace(ch.Content)
	return ch, nil
}

// reviewChapter grades the latest draft. On approval the draft is appended
// to the approved chapters and the chapter counter advances.
func (c *Controller) reviewChapter(ctx context.Context, view *story.State) (story.Delta, error) {
	var d story.Delta
	loop := review.NewLoop(c.cfg.Review, view.Loop(story.LoopChapter))
	if loop.Approved() {
		return d, nil
	}
	if len(view.Content) == 0 {
		return d, fmt.Errorf("%w: no chapter draft to review", story.ErrInvariant)
	}

	index := view.CurrentChapter
	draft := view.Content[len(view.Content)-1]
	name := view.ChapterNames[len(view.ChapterNames)-1]

	if loop.NeedsEvaluation() {
		data := c.chapterData(view, index)
		data.Name = name
		data.Draft = draft

		cv := newConversation(view, story.LogChapterReview, &d)
		sys, err := prompt.Render(prompt.CritiqueSystem, data)
		if err != nil {
			return d, err
		}
		cv.system(sys)
		text, err := prompt.Render(prompt.ReviewChapter, data)
		if err != nil {
			return d, err
		}
		cv.add(story.User(text))

		v, err := c.reviewer.Evaluate(ctx, cv.history)
		if err != nil {
			return d, err
		}
		cv.add(story.Assistant(v.String()))
		d.SetProvider(RoleReviewer, c.reviewer.ProviderName())

		if err := loop.Record(v); err != nil {
			return d, err
		}
		metrics.RecordGrade(string(story.LoopChapter), v.Grade)
		if loop.State.Exhausted {
			log.Printf("[review] chapter %d: round limit reached, accepting grade %d", index+1, v.Grade)
		}
	} else {
		if err := loop.Accept(); err != nil {
			return d, err
		}
		log.Printf("[review] chapter %d: accepting revised draft after one rejection", index+1)
	}

	if loop.Approved() {
		d.ApprovedContent = []string{draft}
		d.ApprovedNames = []string{name}
		d.CurrentChapter = story.Ptr(index + 1)
		log.Printf("[pipeline] session %s: chapter %d of %d approved", view.ID, index+1, view.PlannedChapters())
	}
	d.SetLoop(story.LoopChapter, loop.State)
	return d, nil
}

func lastParagraph(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndex(text, "\n\n"); i >= 0 {
		return strings.TrimSpace(text[i+2:])
	}
	return text
}

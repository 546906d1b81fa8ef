// Package prompt holds the prompt text sent at each pipeline step.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/aixgo-dev/bookwright/internal/story"
)

// Name identifies a prompt template.
type Name string

const (
	RequirementsSystem   Name = "requirements_system"
	OutlineSystem        Name = "outline_system"
	OutlineIdea          Name = "outline_idea"
	OutlineDetail        Name = "outline_detail"
	ChapterPlan          Name = "chapter_plan"
	Revise               Name = "revise"
	CritiqueSystem       Name = "critique_system"
	CritiqueIdea         Name = "critique_idea"
	CritiqueDetail       Name = "critique_detail"
	CritiquePlan         Name = "critique_plan"
	WriterSystem         Name = "writer_system"
	WriteChapter         Name = "write_chapter"
	ReviseChapter        Name = "revise_chapter"
	ChapterTooShort      Name = "chapter_too_short"
	ReviewChapter        Name = "review_chapter"
	TranslatorSystem     Name = "translator_system"
	TranslateFrontMatter Name = "translate_front_matter"
	TranslateChapter     Name = "translate_chapter"
)

// Data is the input of every template. Templates read only what they need.
type Data struct {
	Requirements *story.Requirements
	Outline      story.Outline
	Plan         []string
	Chapters     int

	// Chapter is the 1-based chapter number being written or translated.
	Chapter  int
	Summary  string
	Previous string
	Name     string
	Draft    string
	Feedback string

	MinParagraphBreaks int
	MinSentences       int

	SourceLanguage string
	TargetLanguage string
}

var templates = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`
{{define "requirements_system"}}You help an author specify a book before it is written.
Ask one short clarifying question at a time about genre, audience, tone, plot, characters and length.
As soon as you know what kind of book is wanted and roughly how long it should be, call the finalize_requirements tool instead of asking further questions.
Write in {{.SourceLanguage}}.{{end}}

{{define "outline_system"}}You are a novelist planning a book in {{.SourceLanguage}}.
Requirements: {{.Requirements.Description}}
Length: {{.Requirements.LengthClass}}, about {{.Requirements.TotalLength}} words.{{end}}

{{define "outline_idea"}}Propose the core idea of the book: an overview of the story, its main characters and the writing style.{{end}}

{{define "outline_detail"}}Expand the idea into a detailed outline.
Overview: {{.Outline.Overview}}
Characters: {{.Outline.Characters}}
Writing style: {{.Outline.WritingStyle}}

Give the title, a prologue and every narrative beat: setting, inciting incident, rising action, subplots, midpoint, climax, falling action, resolution and epilogue.{{end}}

{{define "chapter_plan"}}Split the story into {{if .Chapters}}exactly {{.Chapters}}{{else}}a suitable number of{{end}} chapters and summarize each one in a paragraph.
Title: {{.Outline.Title}}
{{template "beats" .}}{{end}}

{{define "revise"}}An editor graded the previous version. Rewrite it, addressing this feedback:
{{.Feedback}}{{end}}

{{define "critique_system"}}You are a demanding editor. Grade drafts from 0 to 10, where 10 means ready to publish, and list the concrete changes needed to reach 10.{{end}}

{{define "critique_idea"}}Grade this book idea against the requirements: {{.Requirements.Description}}

Overview: {{.Outline.Overview}}
Characters: {{.Outline.Characters}}
Writing style: {{.Outline.WritingStyle}}{{end}}

{{define "critique_detail"}}Grade this outline for coherence, pacing and faithfulness to the idea.
Title: {{.Outline.Title}}
Prologue: {{.Outline.Prologue}}
{{template "beats" .}}{{end}}

{{define "critique_plan"}}Grade this chapter plan for "{{.Outline.Title}}". Every beat of the outline must be covered and chapters must not repeat each other.
{{range $i, $s := .Plan}}Chapter {{inc $i}}: {{$s}}
{{end}}{{end}}

{{define "writer_system"}}You are writing the book "{{.Outline.Title}}" in {{.SourceLanguage}}.
Style: {{.Outline.WritingStyle}}
Characters: {{.Outline.Characters}}
Plan:
{{range $i, $s := .Plan}}Chapter {{inc $i}}: {{$s}}
{{end}}{{end}}

{{define "write_chapter"}}Write chapter {{.Chapter}} of {{.Chapters}}.
Summary: {{.Summary}}
{{if .Previous}}The previous chapter ended with:
{{.Previous}}
{{end}}Separate paragraphs with a blank line and write at least {{inc .MinParagraphBreaks}} paragraphs.{{end}}

{{define "revise_chapter"}}Rewrite chapter {{.Chapter}}, addressing this feedback:
{{.Feedback}}{{end}}

{{define "chapter_too_short"}}The chapter is too short. Rewrite chapter {{.Chapter}} with at least {{inc .MinParagraphBreaks}} paragraphs separated by blank lines{{if .MinSentences}} and at least {{.MinSentences}} sentences{{end}}.{{end}}

{{define "review_chapter"}}Grade chapter {{.Chapter}} of "{{.Outline.Title}}" against its summary.
Summary: {{.Summary}}

Chapter "{{.Name}}":
{{.Draft}}{{end}}

{{define "translator_system"}}You are a literary translator from {{.SourceLanguage}} into {{.TargetLanguage}}. Keep the paragraph breaks, names and tone of the original.{{end}}

{{define "translate_front_matter"}}Translate the title and the prologue.
Title: {{.Outline.Title}}
Prologue:
{{.Outline.Prologue}}{{end}}

{{define "translate_chapter"}}Translate chapter {{.Chapter}}, "{{.Name}}":
{{.Draft}}{{end}}

{{define "beats"}}Setting: {{.Outline.Setting}}
Inciting incident: {{.Outline.IncitingIncident}}
Rising action: {{.Outline.RisingAction}}
Subplots: {{.Outline.Subplots}}
Midpoint: {{.Outline.Midpoint}}
Climax: {{.Outline.Climax}}
Falling action: {{.Outline.FallingAction}}
Resolution: {{.Outline.Resolution}}
Epilogue: {{.Outline.Epilogue}}{{end}}
`))

// Render executes the named template.
func Render(name Name, data Data) (string, error) {
	if data.Requirements == nil {
		data.Requirements = &story.Requirements{}
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, string(name), data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

package generation

import "fmt"

// Shape selects the form of a generation response.
type Shape string

const (
	FreeText               Shape = "free_text"
	Requirements           Shape = "requirements"
	OutlineIdea            Shape = "outline_idea"
	OutlineDetail          Shape = "outline_detail"
	ChapterSummaries       Shape = "chapter_summaries"
	ChapterContent         Shape = "chapter_content"
	Verdict                Shape = "verdict"
	TranslationContent     Shape = "translation_content"
	TranslationFrontMatter Shape = "translation_front_matter"
)

// RequirementsTool is the tool name offered during requirement gathering.
// Calling it finalizes the requirements.
const RequirementsTool = "finalize_requirements"

// RequirementsPayload is the argument object of RequirementsTool.
type RequirementsPayload struct {
	Description string `json:"description" desc:"Complete description of the requested book, merging everything the user asked for"`
	LengthClass string `json:"length_class" desc:"Length class of the book" enum:"short story|novella|novel"`
	TotalLength int    `json:"total_length" desc:"Target total length in words" min:"1"`
}

// OutlineIdeaPayload is the high-level idea of the book.
type OutlineIdeaPayload struct {
	Overview     string `json:"overview" desc:"Story overview: premise, themes and arc"`
	Characters   string `json:"characters" desc:"Main characters with short descriptions"`
	WritingStyle string `json:"writing_style" desc:"Narrative voice, tense and tone"`
}

// OutlineDetailPayload carries the title, prologue and narrative beats.
type OutlineDetailPayload struct {
	Title            string `json:"title" desc:"Book title"`
	Prologue         string `json:"prologue" desc:"Prologue text"`
	Setting          string `json:"setting"`
	IncitingIncident string `json:"inciting_incident"`
	RisingAction     string `json:"rising_action"`
	Subplots         string `json:"subplots"`
	Midpoint         string `json:"midpoint"`
	Climax           string `json:"climax"`
	FallingAction    string `json:"falling_action"`
	Resolution       string `json:"resolution"`
	Epilogue         string `json:"epilogue"`
}

// ChapterSummariesPayload is the chapter plan, one summary per chapter.
type ChapterSummariesPayload struct {
	Chapters []string `json:"chapters" desc:"One summary per chapter, in reading order" min:"1"`
}

// ChapterPayload is one written chapter.
type ChapterPayload struct {
	Name    string `json:"name" desc:"Chapter title without numbering"`
	Content string `json:"content" desc:"Full chapter text; separate paragraphs with a blank line"`
}

// VerdictPayload is the evaluator output.
type VerdictPayload struct {
	Grade    int    `json:"grade" desc:"Quality grade; 10 means ready to publish" min:"0" max:"10"`
	Feedback string `json:"feedback" desc:"Concrete changes required to reach a grade of 10"`
}

// TranslationPayload is one translated chapter.
type TranslationPayload struct {
	Name    string `json:"name" desc:"Translated chapter title"`
	Content string `json:"content" desc:"Translated chapter text, keeping paragraph breaks"`
}

// FrontMatterPayload is the translated title and prologue.
type FrontMatterPayload struct {
	Title    string `json:"title"`
	Prologue string `json:"prologue"`
}

var shapeSchemas = map[Shape]*Schema{
	Requirements:           SchemaFor(RequirementsPayload{}),
	OutlineIdea:            SchemaFor(OutlineIdeaPayload{}),
	OutlineDetail:          SchemaFor(OutlineDetailPayload{}),
	ChapterSummaries:       SchemaFor(ChapterSummariesPayload{}),
	ChapterContent:         SchemaFor(ChapterPayload{}),
	Verdict:                SchemaFor(VerdictPayload{}),
	TranslationContent:     SchemaFor(TranslationPayload{}),
	TranslationFrontMatter: SchemaFor(FrontMatterPayload{}),
}

// SchemaOf returns the JSON schema of a structured shape.
func SchemaOf(shape Shape) (*Schema, error) {
	s, ok := shapeSchemas[shape]
	if !ok {
		return nil, fmt.Errorf("shape %q has no schema", shape)
	}
	return s, nil
}

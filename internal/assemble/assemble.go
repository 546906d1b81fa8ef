// Package assemble renders the final documents of a finished session.
package assemble

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aixgo-dev/bookwright/internal/story"
)

// ErrMissingField is returned when the state lacks an artifact the document
// needs. It means the pipeline reached assembly out of order.
var ErrMissingField = errors.New("missing required field")

// Edition selects which language variant to render.
type Edition int

const (
	Original Edition = iota
	Translated
)

func (e Edition) String() string {
	if e == Translated {
		return "translated"
	}
	return "original"
}

// Document is one rendered output.
type Document struct {
	// Session is the ID of the session the document was rendered from.
	Session  string  `json:"session"`
	Edition  Edition `json:"edition"`
	Language string  `json:"language"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
}

// Render builds the Markdown document for one edition. It reads only st and
// never mutates it.
func Render(st *story.State, ed Edition, language string) (Document, error) {
	title, prologue := st.Outline.Title, st.Outline.Prologue
	content, names := st.ApprovedContent, st.ApprovedNames
	if ed == Translated {
		title, prologue = st.Translation.Title, st.Translation.Prologue
		content, names = st.Translation.Content, st.Translation.Names
	}

	switch {
	case strings.TrimSpace(title) == "":
		return Document{}, fmt.Errorf("%w: %s title", ErrMissingField, ed)
	case strings.TrimSpace(prologue) == "":
		return Document{}, fmt.Errorf("%w: %s prologue", ErrMissingField, ed)
	case len(content) == 0:
		return Document{}, fmt.Errorf("%w: %s chapters", ErrMissingField, ed)
	case len(content) != len(names):
		return Document{}, fmt.Errorf("%w: %d %s chapters with %d names", ErrMissingField, len(content), ed, len(names))
	case len(st.Plan) > 0 && len(content) != len(st.Plan):
		return Document{}, fmt.Errorf("%w: %d %s chapters for a plan of %d", ErrMissingField, len(content), ed, len(st.Plan))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString(strings.TrimSpace(prologue))
	b.WriteString("\n\n")

	if len(st.Providers) > 0 {
		b.WriteString("Generated by:\n\n")
		roles := make([]string, 0, len(st.Providers))
		for role := range st.Providers {
			roles = append(roles, role)
		}
		slices.Sort(roles)
		for _, role := range roles {
			fmt.Fprintf(&b, "- %s: %s\n", role, st.Providers[role])
		}
		b.WriteString("\n")
	}

	for i, text := range content {
		fmt.Fprintf(&b, "## Chapter %d: %s\n\n", i+1, names[i])
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("\n\n")
	}

	return Document{
		Session:  st.ID,
		Edition:  ed,
		Language: language,
		Title:    title,
		Body:     strings.TrimRight(b.String(), "\n") + "\n",
	}, nil
}

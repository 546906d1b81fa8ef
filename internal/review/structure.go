package review

import (
	"regexp"
	"strings"
)

// Structural defaults for chapters.
const (
	DefaultMinParagraphBreaks = 4
	DefaultMinSentences       = 0
)

var (
	paragraphSep = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceEnd  = regexp.MustCompile(`[.!?…]+["'”’»)]*(\s|$)`)
)

// Structure describes the shape of a chapter draft.
type Structure struct {
	ParagraphBreaks int
	Sentences       int
}

// Measure counts blank-line paragraph breaks and sentence endings in text.
func Measure(text string) Structure {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	paragraphs := 0
	for _, p := range paragraphSep.Split(text, -1) {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}

	breaks := paragraphs - 1
	if breaks < 0 {
		breaks = 0
	}
	return Structure{
		ParagraphBreaks: breaks,
		Sentences:       len(sentenceEnd.FindAllStringIndex(text, -1)),
	}
}

// CheckStructure reports whether text meets the minimum paragraph breaks and
// sentences. A zero minimum disables that check.
func CheckStructure(text string, minBreaks, minSentences int) (Structure, bool) {
	s := Measure(text)
	if minBreaks > 0 && s.ParagraphBreaks < minBreaks {
		return s, false
	}
	if minSentences > 0 && s.Sentences < minSentences {
		return s, false
	}
	return s, true
}

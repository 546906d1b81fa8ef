// Package publish writes assembled documents to disk.
package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/aixgo-dev/bookwright/internal/assemble"
)

const maxSlugLen = 80

// Slug turns a title into a file-system safe name: accents are stripped,
// letters lower-cased and every other run of characters becomes one hyphen.
// Titles without Latin letters or digits give an empty slug.
func Slug(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// Writer stores documents under Dir.
type Writer struct {
	Dir string
}

// NewWriter returns a writer for dir, created on first write.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// Path is where doc is written: <slug>.md for the original edition and
// <slug>.<language>.md for a translation. A title that gives no slug falls
// back to the session ID.
func (w *Writer) Path(doc assemble.Document) string {
	return w.path(doc, "")
}

// path names doc after its title, then source, then its session.
func (w *Writer) path(doc assemble.Document, source string) string {
	name := Slug(doc.Title)
	if name == "" {
		name = source
	}
	if name == "" {
		name = Slug(doc.Session)
	}
	if name == "" {
		name = "untitled"
	}
	if doc.Edition == assemble.Translated {
		lang := Slug(doc.Language)
		if lang == "" {
			lang = "translated"
		}
		name += "." + lang
	}
	return filepath.Join(w.Dir, name+".md")
}

// Write stores every document and returns the written paths in order.
func (w *Writer) Write(docs ...assemble.Document) ([]string, error) {
	if err := os.MkdirAll(w.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	// Translations without a usable title take the original edition's name.
	source := ""
	for _, doc := range docs {
		if doc.Edition == assemble.Original {
			source = Slug(doc.Title)
		}
	}

	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		path := w.path(doc, source)
		if err := os.WriteFile(path, []byte(doc.Body), 0600); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

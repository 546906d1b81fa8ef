package publish

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aixgo-dev/bookwright/internal/assemble"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Salt Road", "the-salt-road"},
		{"Café Crème: A Story!", "cafe-creme-a-story"},
		{"  --Hello,   World--  ", "hello-world"},
		{"Ærø 2049", "r-2049"},
		{"Señor Nuñez", "senor-nunez"},
		{"../../etc/passwd", "etc-passwd"},
		{"", ""},
		{"!!!", ""},
		{"東京", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlug_Truncates(t *testing.T) {
	got := Slug(strings.Repeat("word ", 40))
	if len(got) > maxSlugLen {
		t.Errorf("slug length %d exceeds %d", len(got), maxSlugLen)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("slug %q ends with a hyphen", got)
	}
}

func TestWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewWriter(dir)

	docs := []assemble.Document{
		{Edition: assemble.Original, Language: "English", Title: "The Salt Road", Body: "# The Salt Road\n"},
		{Edition: assemble.Translated, Language: "Español", Title: "El camino de sal", Body: "# El camino de sal\n"},
	}
	paths, err := w.Write(docs...)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := []string{
		filepath.Join(dir, "the-salt-road.md"),
		filepath.Join(dir, "el-camino-de-sal.espanol.md"),
	}
	if len(paths) != len(want) {
		t.Fatalf("got %d paths, want %d", len(paths), len(want))
	}
	for i, p := range paths {
		if p != want[i] {
			t.Errorf("path[%d] = %s, want %s", i, p, want[i])
		}
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if string(data) != docs[i].Body {
			t.Errorf("%s content = %q", p, data)
		}
	}
}

func TestWriter_NonLatinTitles(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	// A translated title without Latin letters takes the original's name.
	paths, err := w.Write(
		assemble.Document{Session: "s1", Edition: assemble.Original, Language: "English", Title: "The Salt Road", Body: "a\n"},
		assemble.Document{Session: "s1", Edition: assemble.Translated, Language: "Japanese", Title: "塩の道", Body: "b\n"},
	)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if want := filepath.Join(dir, "the-salt-road.japanese.md"); paths[1] != want {
		t.Errorf("translated path = %s, want %s", paths[1], want)
	}

	// Two sessions with non-Latin titles do not overwrite each other.
	first, err := w.Write(assemble.Document{Session: "book-one", Edition: assemble.Original, Language: "Japanese", Title: "東京", Body: "one\n"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	second, err := w.Write(assemble.Document{Session: "book-two", Edition: assemble.Original, Language: "Japanese", Title: "大阪", Body: "two\n"})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if first[0] == second[0] {
		t.Fatalf("both sessions wrote %s", first[0])
	}
	if want := filepath.Join(dir, "book-one.md"); first[0] != want {
		t.Errorf("path = %s, want %s", first[0], want)
	}
	data, err := os.ReadFile(first[0])
	if err != nil || string(data) != "one\n" {
		t.Errorf("first document = %q, %v", data, err)
	}
}

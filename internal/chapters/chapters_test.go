package chapters

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/bookvox/internal/ebook"
)

func docFromPages(t *testing.T, pages []ebook.Page) *ebook.Document {
	t.Helper()
	doc, err := ebook.NewDocument("test.epub", pages, nil)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func docFromText(t *testing.T, text string) *ebook.Document {
	t.Helper()
	return docFromPages(t, []ebook.Page{{Index: 0, Text: text}})
}

func assertTiles(t *testing.T, chs []Chapter, total int) {
	t.Helper()
	if len(chs) == 0 {
		t.Fatal("no chapters")
	}
	if chs[0].Start != 0 {
		t.Errorf("first chapter starts at %d, want 0", chs[0].Start)
	}
	if chs[len(chs)-1].End != total {
		t.Errorf("last chapter ends at %d, want %d", chs[len(chs)-1].End, total)
	}
	for i := 1; i < len(chs); i++ {
		if chs[i].Start != chs[i-1].End {
			t.Errorf("chapter %d starts at %d, previous ends at %d", i, chs[i].Start, chs[i-1].End)
		}
	}
	for i, c := range chs {
		if c.Index != i {
			t.Errorf("chapter %d has Index=%d", i, c.Index)
		}
		if c.End <= c.Start {
			t.Errorf("chapter %d has empty span [%d,%d)", i, c.Start, c.End)
		}
	}
}

func TestDetectStructuralBreaks(t *testing.T) {
	doc := docFromPages(t, []ebook.Page{
		{Index: 0, Text: "Copyright page and dedication."},
		{Index: 1, Text: "It was the best of times.", Title: "Chapter One", Break: true},
		{Index: 2, Text: "It was the worst of times.", Title: "Chapter Two", Break: true},
	})

	chs := Detect(doc)
	assertTiles(t, chs, len(doc.Text()))

	if len(chs) != 3 {
		t.Fatalf("got %d chapters, want 3: %+v", len(chs), chs)
	}
	if chs[0].Title != "Front Matter" {
		t.Errorf("leading unmarked pages should become %q, got %q", "Front Matter", chs[0].Title)
	}
	if chs[1].Title != "Chapter One" || chs[2].Title != "Chapter Two" {
		t.Errorf("TOC titles not carried through: %+v", chs)
	}
}

func TestDetectHeadings(t *testing.T) {
	text := "Chapter 1\n\nSome opening prose here.\n\nChapter 2\n\nMore prose follows here."
	chs := Detect(docFromText(t, text))
	assertTiles(t, chs, len(text))

	if len(chs) != 2 {
		t.Fatalf("got %d chapters, want 2: %+v", len(chs), chs)
	}
	if !strings.HasPrefix(chs[0].Title, "Chapter 1") {
		t.Errorf("first title = %q", chs[0].Title)
	}
}

func TestDetectWindowFallback(t *testing.T) {
	// No structure, no headings: long paragraphs only.
	para := strings.Repeat("All work and no play makes a dull narrator. ", 200)
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 5))

	chs := Detect(docFromText(t, text))
	assertTiles(t, chs, len(text))

	if len(chs) < 2 {
		t.Fatalf("expected window fallback to cut multiple chapters, got %d", len(chs))
	}
	// Every boundary except the last must land just after a paragraph break.
	for i := 1; i < len(chs); i++ {
		if prefix := text[chs[i].Start-2 : chs[i].Start]; prefix != "\n\n" {
			t.Errorf("chapter %d boundary %d does not follow a paragraph break (%q)", i, chs[i].Start, prefix)
		}
	}
}

func TestDetectSinglePartDocument(t *testing.T) {
	text := "Just a short note with no structure whatsoever."
	chs := Detect(docFromText(t, text))
	assertTiles(t, chs, len(text))
	if len(chs) != 1 {
		t.Fatalf("got %d chapters, want 1", len(chs))
	}
}

func TestApplyEdits(t *testing.T) {
	text := strings.Repeat("a", 100)
	doc := docFromText(t, text)

	tests := []struct {
		name    string
		edits   []Edit
		wantErr string
	}{
		{
			name:  "valid tiling",
			edits: []Edit{{Start: 0, End: 50, Title: "First"}, {Start: 50, End: 100, Title: "Second"}},
		},
		{
			name:  "single chapter covering all",
			edits: []Edit{{Start: 0, End: 100}},
		},
		{
			name:    "empty list",
			edits:   nil,
			wantErr: "empty",
		},
		{
			name:    "overlapping spans",
			edits:   []Edit{{Start: 0, End: 50}, {Start: 40, End: 100}},
			wantErr: "overlaps",
		},
		{
			name:    "gap between spans",
			edits:   []Edit{{Start: 0, End: 40}, {Start: 50, End: 100}},
			wantErr: "gap",
		},
		{
			name:    "first does not start at zero",
			edits:   []Edit{{Start: 10, End: 100}},
			wantErr: "not 0",
		},
		{
			name:    "last does not reach end",
			edits:   []Edit{{Start: 0, End: 90}},
			wantErr: "not 100",
		},
		{
			name:    "inverted span",
			edits:   []Edit{{Start: 0, End: 0}},
			wantErr: "inverted",
		},
		{
			name:    "out of bounds",
			edits:   []Edit{{Start: 0, End: 200}},
			wantErr: "outside",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chs, err := ApplyEdits(doc, tt.edits)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				assertTiles(t, chs, 100)
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got chapters %+v", tt.wantErr, chs)
			}
			var editErr *EditError
			if !errors.As(err, &editErr) {
				t.Fatalf("error is %T, want *EditError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEditsDefaultTitles(t *testing.T) {
	doc := docFromText(t, strings.Repeat("b", 20))
	chs, err := ApplyEdits(doc, []Edit{{Start: 0, End: 10}, {Start: 10, End: 20, Title: "Named"}})
	if err != nil {
		t.Fatal(err)
	}
	if chs[0].Title != "Chapter 1" {
		t.Errorf("untitled edit got %q, want %q", chs[0].Title, "Chapter 1")
	}
	if chs[1].Title != "Named" {
		t.Errorf("titled edit got %q", chs[1].Title)
	}
}

func TestTextOf(t *testing.T) {
	doc := docFromText(t, "hello world")
	got := TextOf(doc, Chapter{Start: 6, End: 11})
	if got != "world" {
		t.Errorf("TextOf = %q, want %q", got, "world")
	}
}

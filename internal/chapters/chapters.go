// Package chapters detects chapter boundaries over an extracted document and
// validates user boundary edits. Boundaries are byte offsets into the
// document's joined text stream; chapters are contiguous, non-overlapping,
// and tile the full text.
package chapters

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dgnsrekt/bookvox/internal/ebook"
)

// Chapter is one contiguous span of the document text.
type Chapter struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Edit is one user-supplied chapter boundary replacing auto-detection.
type Edit struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Title string `json:"title"`
}

// EditError reports the first invariant an edit list violates. Edits are
// rejected whole; nothing is clamped or reordered silently.
type EditError struct {
	Index  int
	Reason string
}

func (e *EditError) Error() string {
	return fmt.Sprintf("chapter edit %d rejected: %s", e.Index, e.Reason)
}

// fallbackWindow is the chapter size used when the document exposes no
// structure at all. Roughly twenty minutes of narration.
const fallbackWindow = 24_000

// headingPattern matches common chapter heading lines on their own line.
var headingPattern = regexp.MustCompile(
	`(?im)^\s{0,3}(?:#{1,3}\s+.{1,80}|(?:chapter|part|book)\s+(?:[0-9]+|[ivxlcdm]+)\b.{0,60}|[IVXLCDM]{1,7}\.\s+.{1,60})\s*$`,
)

// Detect derives an ordered chapter list for the document. Structural breaks
// from the source (EPUB spine/TOC) win; a heading scan over the text is the
// second choice; fixed windows aligned to paragraph breaks are the last
// resort. The result always tiles [0, len(text)).
func Detect(doc *ebook.Document) []Chapter {
	text := doc.Text()

	if chs := detectStructural(doc); len(chs) > 1 {
		return chs
	}
	if chs := detectHeadings(text); len(chs) > 1 {
		return chs
	}
	return detectWindows(text)
}

// detectStructural uses source-level chapter break hints (EPUB TOC entries).
func detectStructural(doc *ebook.Document) []Chapter {
	text := doc.Text()
	var chs []Chapter
	for i, p := range doc.Pages() {
		if !p.Break {
			continue
		}
		start := doc.PageOffset(i)
		if len(chs) == 0 && start > 0 {
			// Front matter before the first marked chapter.
			chs = append(chs, Chapter{Title: "Front Matter", Start: 0})
		}
		chs = append(chs, Chapter{Title: p.Title, Start: start})
	}
	return seal(chs, len(text))
}

// detectHeadings scans for chapter heading lines in the text itself.
func detectHeadings(text string) []Chapter {
	locs := headingPattern.FindAllStringIndex(text, -1)
	var chs []Chapter
	for _, loc := range locs {
		title := strings.TrimSpace(text[loc[0]:loc[1]])
		title = strings.TrimLeft(title, "# ")
		if len(chs) == 0 && loc[0] > 0 {
			chs = append(chs, Chapter{Title: "Front Matter", Start: 0})
		}
		chs = append(chs, Chapter{Title: title, Start: loc[0]})
	}
	return seal(chs, len(text))
}

// detectWindows cuts fixed-size windows aligned to the nearest following
// paragraph break, so no window splits a paragraph.
func detectWindows(text string) []Chapter {
	var chs []Chapter
	pos := 0
	for pos < len(text) {
		chs = append(chs, Chapter{
			Title: fmt.Sprintf("Part %d", len(chs)+1),
			Start: pos,
		})
		next := pos + fallbackWindow
		if next >= len(text) {
			break
		}
		if brk := strings.Index(text[next:], "\n\n"); brk >= 0 {
			next += brk + 2
		} else {
			next = len(text)
		}
		pos = next
	}
	return seal(chs, len(text))
}

// seal fills End offsets and indexes so chapters tile [0, total).
func seal(chs []Chapter, total int) []Chapter {
	if len(chs) == 0 {
		return nil
	}
	for i := range chs {
		chs[i].Index = i
		if i+1 < len(chs) {
			chs[i].End = chs[i+1].Start
		} else {
			chs[i].End = total
		}
	}
	return chs
}

// ApplyEdits validates a user edit list against the document and returns the
// replacement chapter list. The edits must be in ascending order, contiguous,
// and cover the document text exactly; any violation returns an *EditError
// and leaves the original chapters untouched.
func ApplyEdits(doc *ebook.Document, edits []Edit) ([]Chapter, error) {
	total := len(doc.Text())
	if len(edits) == 0 {
		return nil, &EditError{Index: 0, Reason: "edit list is empty"}
	}

	for i, e := range edits {
		if e.Start < 0 || e.End > total {
			return nil, &EditError{Index: i, Reason: fmt.Sprintf("offsets [%d,%d) outside document [0,%d)", e.Start, e.End, total)}
		}
		if e.End <= e.Start {
			return nil, &EditError{Index: i, Reason: fmt.Sprintf("empty or inverted span [%d,%d)", e.Start, e.End)}
		}
		if i == 0 {
			if e.Start != 0 {
				return nil, &EditError{Index: i, Reason: fmt.Sprintf("first chapter starts at %d, not 0", e.Start)}
			}
			continue
		}
		prev := edits[i-1]
		if e.Start < prev.End {
			return nil, &EditError{Index: i, Reason: fmt.Sprintf("overlaps previous chapter: starts at %d before previous end %d", e.Start, prev.End)}
		}
		if e.Start > prev.End {
			return nil, &EditError{Index: i, Reason: fmt.Sprintf("gap before chapter: previous ends at %d, next starts at %d", prev.End, e.Start)}
		}
	}
	if last := edits[len(edits)-1]; last.End != total {
		return nil, &EditError{Index: len(edits) - 1, Reason: fmt.Sprintf("last chapter ends at %d, not %d", last.End, total)}
	}

	chs := make([]Chapter, len(edits))
	for i, e := range edits {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		chs[i] = Chapter{Index: i, Title: title, Start: e.Start, End: e.End}
	}
	return chs, nil
}

// TextOf returns chapter c's span of the document text.
func TextOf(doc *ebook.Document, c Chapter) string {
	return doc.Text()[c.Start:c.End]
}

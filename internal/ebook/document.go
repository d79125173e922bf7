// Package ebook extracts page-ordered text from ebook files, with an OCR
// fallback for pages that carry no usable text layer.
package ebook

import (
	"errors"
	"strings"
	"unicode"
)

// Common extraction errors.
var (
	// ErrUnsupportedFormat is returned for file extensions no reader claims.
	ErrUnsupportedFormat = errors.New("unsupported ebook format")
	// ErrNoText is returned when extraction produced no text at all.
	ErrNoText = errors.New("document contains no extractable text")
)

// Page is one extraction unit of the source: an EPUB spine item, a PDF page,
// or a whole plain-text file.
type Page struct {
	Index    int
	Text     string
	NeedsOCR bool   // no usable text layer; OCR fallback required
	Title    string // structural chapter title hint, when the source has one
	Break    bool   // structural chapter break starts at this page
}

// PageFailure records a page that could not be extracted. The page is emitted
// with empty text; the failure is surfaced through the run manifest.
type PageFailure struct {
	Page int
	Err  error
}

// Document is the immutable extraction result: page-ordered text plus the
// byte offset of every page in the joined text stream.
type Document struct {
	source   string
	pages    []Page
	failures []PageFailure
	text     string
	offsets  []int
}

// pageSeparator joins pages in the text stream. Double newline keeps
// paragraph-break detection working across page boundaries.
const pageSeparator = "\n\n"

// NewDocument finalizes extracted pages into a Document.
func NewDocument(source string, pages []Page, failures []PageFailure) (*Document, error) {
	var b strings.Builder
	offsets := make([]int, len(pages))
	for i, p := range pages {
		if i > 0 {
			b.WriteString(pageSeparator)
		}
		offsets[i] = b.Len()
		b.WriteString(p.Text)
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}
	return &Document{
		source:   source,
		pages:    pages,
		failures: failures,
		text:     text,
		offsets:  offsets,
	}, nil
}

// Source returns the path the document was extracted from.
func (d *Document) Source() string { return d.source }

// Text returns the full joined text stream.
func (d *Document) Text() string { return d.text }

// Pages returns the extracted pages in order.
func (d *Document) Pages() []Page { return d.pages }

// PageOffset returns the byte offset of page i in Text.
func (d *Document) PageOffset(i int) int { return d.offsets[i] }

// Failures returns the page-level failure list for diagnostics.
func (d *Document) Failures() []PageFailure { return d.failures }

// looksGarbled reports whether non-empty extracted text is likely a broken
// text layer. Scanned PDFs run through bad embedders tend to produce symbol
// soup; a low letter ratio is the trigger the OCR fallback keys on.
func looksGarbled(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	var letters, total int
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters++
		}
	}
	if total < 20 {
		return false
	}
	return float64(letters)/float64(total) < 0.45
}

package ebook

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// reader turns one source file into ordered pages.
type reader interface {
	Extensions() []string
	Read(filename string) ([]Page, []PageFailure, error)
}

var readers = []reader{epubReader{}, pdfReader{}, textReader{}}

// Recognizer is the OCR dependency of the extractor; satisfied by OCRClient.
type Recognizer interface {
	Recognize(ctx context.Context, pageImage []byte) (string, error)
}

// Extractor converts an ebook file into a Document, running OCR for pages
// without a usable text layer.
type Extractor struct {
	// OCR handles image-only pages. Nil disables the fallback: such pages
	// are emitted empty and recorded as failures.
	OCR Recognizer

	// ForceOCR recognizes every renderable page regardless of text layer,
	// for sources whose embedded text is known bad.
	ForceOCR bool

	// Progress, when set, receives (pagesDone, pagesTotal) after each page.
	Progress func(done, total int)

	Logger *log.Logger
}

// Extract produces the Document for one source file. Individual page
// failures are recorded on the Document; only a fully empty result or an
// unreadable source is an error.
func (e *Extractor) Extract(ctx context.Context, filename string) (*Document, error) {
	r, err := readerFor(filename)
	if err != nil {
		return nil, err
	}

	pages, failures, err := r.Read(filename)
	if err != nil {
		return nil, err
	}

	if e.ForceOCR {
		for i := range pages {
			pages[i].NeedsOCR = true
		}
	}

	if needsRecognition(pages) {
		failures, err = e.recognizePages(ctx, filename, pages, failures)
		if err != nil {
			return nil, err
		}
	} else {
		e.report(len(pages), len(pages))
	}

	return NewDocument(filename, pages, failures)
}

func readerFor(filename string) (reader, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, r := range readers {
		for _, e := range r.Extensions() {
			if e == ext {
				return r, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

func needsRecognition(pages []Page) bool {
	for _, p := range pages {
		if p.NeedsOCR {
			return true
		}
	}
	return false
}

// recognizePages runs the OCR fallback page-sequentially, honoring
// cancellation between pages. Recognition failures leave the page empty and
// are recorded; they never abort the extraction.
func (e *Extractor) recognizePages(ctx context.Context, filename string, pages []Page, failures []PageFailure) ([]PageFailure, error) {
	if e.OCR == nil {
		for i := range pages {
			if pages[i].NeedsOCR && pages[i].Text == "" {
				failures = append(failures, PageFailure{
					Page: pages[i].Index,
					Err:  fmt.Errorf("page %d needs recognition but OCR is not configured", pages[i].Index),
				})
			}
		}
		e.report(len(pages), len(pages))
		return failures, nil
	}

	var renderer PageRenderer
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		var err error
		renderer, err = newFitzRenderer(filename)
		if err != nil {
			return nil, err
		}
		defer renderer.Close()
	}

	total := len(pages)
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return failures, err
		}
		if !pages[i].NeedsOCR {
			e.report(i+1, total)
			continue
		}
		if renderer == nil {
			if pages[i].Text == "" {
				failures = append(failures, PageFailure{
					Page: pages[i].Index,
					Err:  fmt.Errorf("page %d is image-only and the source cannot be rasterized", pages[i].Index),
				})
			}
			e.report(i+1, total)
			continue
		}

		text, err := e.recognizeOne(ctx, renderer, pages[i].Index)
		if err != nil {
			if ctx.Err() != nil {
				return failures, ctx.Err()
			}
			failures = append(failures, PageFailure{Page: pages[i].Index, Err: err})
			if e.Logger != nil {
				e.Logger.Warn("page recognition failed", "page", pages[i].Index, "err", err)
			}
		} else {
			pages[i].Text = text
		}
		e.report(i+1, total)
	}
	return failures, nil
}

func (e *Extractor) recognizeOne(ctx context.Context, renderer PageRenderer, pageIndex int) (string, error) {
	img, err := renderer.RenderPage(pageIndex)
	if err != nil {
		return "", err
	}
	return e.OCR.Recognize(ctx, img)
}

func (e *Extractor) report(done, total int) {
	if e.Progress != nil {
		e.Progress(done, total)
	}
}

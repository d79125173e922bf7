package ebook

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// pdfReader extracts the text layer of a PDF page by page. Pages whose text
// layer is missing or garbled are flagged NeedsOCR for the fallback pass.
type pdfReader struct{}

func (pdfReader) Extensions() []string { return []string{".pdf"} }

func (pdfReader) Read(filename string) ([]Page, []PageFailure, error) {
	f, r, err := pdf.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	pages := make([]Page, 0, total)
	var failures []PageFailure

	for n := 1; n <= total; n++ {
		page := Page{Index: n - 1}
		p := r.Page(n)
		if p.V.IsNull() {
			page.NeedsOCR = true
			pages = append(pages, page)
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			// A broken text layer is not fatal; the page goes to OCR.
			failures = append(failures, PageFailure{Page: n - 1, Err: fmt.Errorf("text layer page %d: %w", n, err)})
			page.NeedsOCR = true
			pages = append(pages, page)
			continue
		}

		page.Text = text
		if text == "" || looksGarbled(text) {
			page.NeedsOCR = true
			page.Text = ""
		}
		pages = append(pages, page)
	}

	return pages, failures, nil
}

// PageRenderer rasterizes one source page for recognition.
type PageRenderer interface {
	RenderPage(pageIndex int) ([]byte, error)
	Close() error
}

// fitzRenderer renders PDF pages to PNG via MuPDF.
type fitzRenderer struct {
	doc *fitz.Document
}

// ocrDPI balances tesseract accuracy against render time.
const ocrDPI = 300

func newFitzRenderer(filename string) (*fitzRenderer, error) {
	doc, err := fitz.New(filename)
	if err != nil {
		return nil, fmt.Errorf("open pdf for rendering: %w", err)
	}
	return &fitzRenderer{doc: doc}, nil
}

func (r *fitzRenderer) RenderPage(pageIndex int) ([]byte, error) {
	img, err := r.doc.ImageDPI(pageIndex, ocrDPI)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageIndex, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", pageIndex, err)
	}
	return buf.Bytes(), nil
}

func (r *fitzRenderer) Close() error {
	return r.doc.Close()
}

package ebook

import (
	"fmt"
	"os"
	"strings"
)

// textReader handles plain-text sources. Form feeds split pages when present;
// otherwise the whole file is a single page.
type textReader struct{}

func (textReader) Extensions() []string { return []string{".txt", ".md", ".text"} }

func (textReader) Read(filename string) ([]Page, []PageFailure, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("read text file: %w", err)
	}

	chunks := strings.Split(string(data), "\f")
	pages := make([]Page, 0, len(chunks))
	for i, chunk := range chunks {
		pages = append(pages, Page{Index: i, Text: strings.TrimSpace(chunk)})
	}
	return pages, nil, nil
}

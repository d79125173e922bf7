package ebook

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
)

// epubReader extracts text from EPUB files, one page per spine item, with
// chapter titles resolved from the NCX table of contents when present.
type epubReader struct{}

func (epubReader) Extensions() []string { return []string{".epub"} }

func (epubReader) Read(filename string) ([]Page, []PageFailure, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, nil, fmt.Errorf("no rootfiles found in epub")
	}
	book := rc.Rootfiles[0]
	titles := tocTitlesByHref(filename, book)

	var pages []Page
	var failures []PageFailure
	for i, ref := range book.Spine.Itemrefs {
		page := Page{Index: i}
		if ref.Item == nil {
			failures = append(failures, PageFailure{Page: i, Err: fmt.Errorf("spine item %d has no manifest entry", i)})
			pages = append(pages, page)
			continue
		}

		r, err := ref.Item.Open()
		if err != nil {
			failures = append(failures, PageFailure{Page: i, Err: fmt.Errorf("open spine item %q: %w", ref.Item.HREF, err)})
			pages = append(pages, page)
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			failures = append(failures, PageFailure{Page: i, Err: fmt.Errorf("read spine item %q: %w", ref.Item.HREF, err)})
			pages = append(pages, page)
			continue
		}

		page.Text = textFromHTML(string(data))
		if title, ok := lookupTitle(titles, ref.Item.HREF); ok {
			page.Title = title
			page.Break = true
		}
		pages = append(pages, page)
	}

	return pages, failures, nil
}

func lookupTitle(titles map[string]string, href string) (string, bool) {
	if href == "" {
		return "", false
	}
	if t, ok := titles[href]; ok {
		return t, true
	}
	if t, ok := titles[path.Base(href)]; ok {
		return t, true
	}
	return "", false
}

// textFromHTML flattens an XHTML spine item to plain text, preserving
// paragraph breaks for block elements.
func textFromHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}

	var out strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
					out.WriteString(" ")
				}
				out.WriteString(t)
			}
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockElement(n.Data) && out.Len() > 0 {
			out.WriteString("\n\n")
		}
	}
	walk(doc)
	return strings.TrimSpace(out.String())
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br", "blockquote", "section":
		return true
	}
	return false
}

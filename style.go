package main

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"
)

const maxHelpWidth = 78

var keywordStyle = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#ECFD65"})

// keyword renders a highlighted word in help text.
func keyword(s string) string {
	return keywordStyle.Render(s)
}

// paragraph wraps and indents help text to the terminal width.
func paragraph(s string) string {
	width := maxHelpWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w < width {
		width = w
	}
	return strings.TrimRight(indent.String(wordwrap.String(s, width-4), 2), "\n")
}

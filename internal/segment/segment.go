// Package segment splits chapter text into utterances sized for a synthesis
// backend's input limit. Sentence boundaries are preferred, falling back to
// clause punctuation, whitespace, and finally a hard cut; boundaries are
// always chosen as late as the limit allows so utterances stay large.
package segment

import (
	"errors"
	"regexp"
	"strings"
)

// Utterance is one synthesis unit. Seq is strictly increasing within a
// chapter and defines playback order.
type Utterance struct {
	Chapter    int
	Seq        int
	Text       string
	PauseAfter bool // a paragraph break followed this text in the source
}

// Splitter produces utterances under a fixed character budget.
type Splitter struct {
	maxChars      int
	abbreviations map[string]bool
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// New creates a Splitter for a backend accepting at most maxChars characters
// per call.
func New(maxChars int) (*Splitter, error) {
	if maxChars <= 0 {
		return nil, errors.New("maxChars must be positive")
	}
	return &Splitter{
		maxChars:      maxChars,
		abbreviations: abbreviationMap(),
	}, nil
}

// MaxChars returns the configured character budget.
func (s *Splitter) MaxChars() int { return s.maxChars }

// Split segments one chapter's text. Empty or whitespace-only text yields no
// utterances. The whitespace-normalized concatenation of the returned texts
// reproduces the whitespace-normalized input.
func (s *Splitter) Split(chapter int, text string) []Utterance {
	var utts []Utterance
	seq := 0

	for _, para := range paragraphBreak.Split(text, -1) {
		normalized := strings.Join(strings.Fields(para), " ")
		if normalized == "" {
			continue
		}

		pieces := s.packSentences(s.sentences(normalized))
		for i, piece := range pieces {
			utts = append(utts, Utterance{
				Chapter:    chapter,
				Seq:        seq,
				Text:       piece,
				PauseAfter: i == len(pieces)-1,
			})
			seq++
		}
	}
	return utts
}

// packSentences greedily joins sentences into utterances as close to maxChars
// as possible. A single sentence over the limit is split further.
func (s *Splitter) packSentences(sentences []string) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, sent := range sentences {
		n := len([]rune(sent))
		switch {
		case n > s.maxChars:
			flush()
			out = append(out, s.splitLong(sent)...)
		case curLen == 0:
			cur.WriteString(sent)
			curLen = n
		case curLen+1+n <= s.maxChars:
			cur.WriteString(" ")
			cur.WriteString(sent)
			curLen += 1 + n
		default:
			flush()
			cur.WriteString(sent)
			curLen = n
		}
	}
	flush()
	return out
}

// splitLong breaks one oversize sentence: latest clause boundary under the
// limit first, then latest whitespace, then a hard cut at exactly maxChars.
func (s *Splitter) splitLong(sentence string) []string {
	var out []string
	rest := []rune(sentence)

	for len(rest) > s.maxChars {
		cut := latestClauseCut(rest, s.maxChars)
		if cut <= 0 {
			cut = latestSpaceCut(rest, s.maxChars)
		}
		if cut <= 0 {
			cut = s.maxChars
		}
		out = append(out, strings.TrimSpace(string(rest[:cut])))
		for cut < len(rest) && rest[cut] == ' ' {
			cut++
		}
		rest = rest[cut:]
	}
	if trimmed := strings.TrimSpace(string(rest)); trimmed != "" {
		out = append(out, trimmed)
	}
	return out
}

// latestClauseCut finds the rightmost clause punctuation at or below limit,
// returning the index just past it, or 0 when none exists.
func latestClauseCut(runes []rune, limit int) int {
	for i := limit - 1; i > 0; i-- {
		switch runes[i] {
		case ',', ';', ':', '—':
			return i + 1
		}
	}
	return 0
}

// latestSpaceCut finds the rightmost space at or below limit.
func latestSpaceCut(runes []rune, limit int) int {
	for i := limit; i > 0; i-- {
		if runes[i-1] == ' ' {
			return i - 1
		}
	}
	return 0
}

// sentences splits normalized text on sentence-terminal punctuation,
// recognizing abbreviation, decimal-point, and ellipsis exceptions.
func (s *Splitter) sentences(text string) []string {
	runes := []rune(text)
	var out []string
	last := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if !s.isSentenceEnd(runes, i) {
			continue
		}

		end := i + 1
		for end < len(runes) && (runes[end] == '.' || runes[end] == '!' || runes[end] == '?') {
			end++
		}
		for end < len(runes) && (runes[end] == '"' || runes[end] == '\'' || runes[end] == ')' || runes[end] == ']' || runes[end] == '”') {
			end++
		}

		piece := strings.TrimSpace(string(runes[last:end]))
		if piece != "" {
			out = append(out, piece)
		}
		for end < len(runes) && runes[end] == ' ' {
			end++
		}
		last = end
		i = end - 1
	}

	if last < len(runes) {
		if piece := strings.TrimSpace(string(runes[last:])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// isSentenceEnd decides whether punctuation at pos terminates a sentence.
func (s *Splitter) isSentenceEnd(runes []rune, pos int) bool {
	punct := runes[pos]

	if punct == '.' {
		// Ellipsis is not a boundary.
		if pos+2 < len(runes) && runes[pos+1] == '.' && runes[pos+2] == '.' {
			return false
		}
		// Decimal point: digit on both sides.
		if pos > 0 && pos+1 < len(runes) && isDigit(runes[pos-1]) && isDigit(runes[pos+1]) {
			return false
		}
		// Abbreviations like "Dr." or multi-dot forms like "U.S."
		word := wordBefore(runes, pos)
		if word != "" {
			lower := strings.ToLower(word)
			if s.abbreviations[lower] || s.abbreviations[strings.TrimSuffix(lower, ".")] {
				return false
			}
			if strings.Count(lower, ".") > 0 {
				return false
			}
		}
	}

	// Terminal punctuation at end of text always ends the sentence.
	next := pos + 1
	for next < len(runes) && (runes[next] == '.' || runes[next] == '!' || runes[next] == '?' ||
		runes[next] == '"' || runes[next] == '\'' || runes[next] == ')' || runes[next] == ']' || runes[next] == '”') {
		next++
	}
	if next >= len(runes) {
		return true
	}
	return runes[next] == ' '
}

// wordBefore returns the word ending just before runes[pos] (punctuation
// excluded), used for abbreviation checks.
func wordBefore(runes []rune, pos int) string {
	start := pos - 1
	for start >= 0 && runes[start] != ' ' {
		start--
	}
	if start+1 >= pos {
		return ""
	}
	return string(runes[start+1 : pos])
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func abbreviationMap() map[string]bool {
	abbrevs := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st",
		"i.e", "e.g", "etc", "vs", "cf", "al", "no",
		"inc", "ltd", "co", "corp", "dept", "est",
		"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
		"mon", "tue", "wed", "thu", "fri", "sat", "sun",
		"ave", "blvd", "rd", "ln", "ct",
		"ft", "lb", "lbs", "oz", "kg", "km", "cm", "mm", "mi", "yd",
		"hr", "hrs", "min", "mins", "sec", "secs",
		"vol", "vols", "pg", "pp", "ed", "eds", "ch",
	}
	m := make(map[string]bool, len(abbrevs)*2)
	for _, a := range abbrevs {
		m[a] = true
		m[a+"."] = true
	}
	return m
}

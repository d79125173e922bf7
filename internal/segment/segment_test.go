package segment

import (
	"strings"
	"testing"
)

func TestNewRejectsNonPositiveBudget(t *testing.T) {
	for _, n := range []int{0, -1, -500} {
		if _, err := New(n); err == nil {
			t.Errorf("New(%d) expected error, got nil", n)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	s, err := New(200)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "simple sentences pack together",
			input:    "Hello world. How are you? I'm fine!",
			expected: []string{"Hello world. How are you? I'm fine!"},
		},
		{
			name:     "whitespace is normalized",
			input:    "First   sentence.\nStill  first\tparagraph.",
			expected: []string{"First sentence. Still first paragraph."},
		},
		{
			name:     "empty input",
			input:    "   \n\t  ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			utts := s.Split(0, tt.input)
			if len(utts) != len(tt.expected) {
				t.Fatalf("got %d utterances, want %d: %+v", len(utts), len(tt.expected), utts)
			}
			for i, want := range tt.expected {
				if utts[i].Text != want {
					t.Errorf("utterance %d = %q, want %q", i, utts[i].Text, want)
				}
			}
		})
	}
}

func TestSplitRespectsBudget(t *testing.T) {
	const budget = 40
	s, err := New(budget)
	if err != nil {
		t.Fatal(err)
	}

	inputs := []string{
		"This is a fairly long sentence that absolutely cannot fit inside a small budget, with several clauses to cut at.",
		"Short. Another short one. " + strings.Repeat("word ", 50),
		strings.Repeat("x", 200), // no spaces at all, hard cuts only
	}

	for _, input := range inputs {
		for _, utt := range s.Split(0, input) {
			if n := len([]rune(utt.Text)); n > budget {
				t.Errorf("utterance exceeds budget: %d > %d (%q)", n, budget, utt.Text)
			}
			if utt.Text == "" {
				t.Error("empty utterance produced")
			}
		}
	}
}

// The stream of utterances must reproduce the input text after whitespace
// normalization, with nothing dropped or duplicated.
func TestSplitRoundTrip(t *testing.T) {
	s, err := New(64)
	if err != nil {
		t.Fatal(err)
	}

	input := "Dr. Smith owed $3.50 to Mrs. Jones. \"Pay up!\" she said... twice.\n\n" +
		"The U.S. total reached 12.7 percent, which was unexpected; nobody at the dept. had predicted it, " +
		"least of all the people whose job it was to predict exactly this kind of thing."

	var got strings.Builder
	for _, utt := range s.Split(0, input) {
		if got.Len() > 0 {
			got.WriteString(" ")
		}
		got.WriteString(utt.Text)
	}

	want := strings.Join(strings.Fields(input), " ")
	if got.String() != want {
		t.Errorf("round trip mismatch\n got: %q\nwant: %q", got.String(), want)
	}
}

func TestSplitSequenceNumbers(t *testing.T) {
	s, err := New(30)
	if err != nil {
		t.Fatal(err)
	}

	utts := s.Split(3, "One sentence here. Another sentence here. And a third one too.")
	if len(utts) < 2 {
		t.Fatalf("expected multiple utterances, got %d", len(utts))
	}
	for i, utt := range utts {
		if utt.Seq != i {
			t.Errorf("utterance %d has Seq=%d", i, utt.Seq)
		}
		if utt.Chapter != 3 {
			t.Errorf("utterance %d has Chapter=%d, want 3", i, utt.Chapter)
		}
	}
}

func TestSplitParagraphPause(t *testing.T) {
	s, err := New(100)
	if err != nil {
		t.Fatal(err)
	}

	utts := s.Split(0, "First paragraph one. First paragraph two.\n\nSecond paragraph.")
	if len(utts) != 2 {
		t.Fatalf("expected 2 utterances, got %d: %+v", len(utts), utts)
	}
	if !utts[0].PauseAfter {
		t.Error("paragraph-final utterance should have PauseAfter")
	}
	if !utts[1].PauseAfter {
		t.Error("last utterance of the chapter should have PauseAfter")
	}
}

func TestAbbreviationsDoNotSplit(t *testing.T) {
	s, err := New(500)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		input string
		want  int // sentence count
	}{
		{"Dr. Smith arrived.", 1},
		{"It cost 3.50 dollars total.", 1},
		{"The U.S. economy grew.", 1},
		{"Wait... what happened?", 1},
		{"He left. She stayed.", 2},
	}

	for _, tt := range tests {
		got := s.sentences(tt.input)
		if len(got) != tt.want {
			t.Errorf("sentences(%q) = %d pieces %v, want %d", tt.input, len(got), got, tt.want)
		}
	}
}

func TestSplitLongPrefersClauseBoundaries(t *testing.T) {
	s, err := New(30)
	if err != nil {
		t.Fatal(err)
	}

	pieces := s.splitLong("aaaa bbbb cccc, dddd eeee ffff gggg hhhh iiii jjjj kkkk")
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %v", pieces)
	}
	if !strings.HasSuffix(pieces[0], ",") {
		t.Errorf("first piece should end at the clause boundary, got %q", pieces[0])
	}
}

package assemble

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgnsrekt/bookvox/internal/pcm"
	"github.com/dgnsrekt/bookvox/internal/synth"
)

var (
	// ErrChapterOutOfOrder is returned when a chapter index is submitted twice
	// or after the assembler already moved past it.
	ErrChapterOutOfOrder = errors.New("assemble: chapter already written")

	// ErrNothingToWrite is returned by Finalize when no chapter produced audio.
	ErrNothingToWrite = errors.New("assemble: no chapters to write")
)

const (
	// utteranceGap is inserted between consecutive utterances within a chapter.
	utteranceGap = 120 * time.Millisecond

	// paragraphGap replaces utteranceGap after an utterance that ends a
	// paragraph.
	paragraphGap = 400 * time.Millisecond
)

// Marker records where a chapter starts in the final audio stream.
type Marker struct {
	Index    int           `json:"index"`
	Title    string        `json:"title"`
	Start    time.Duration `json:"start_ms"`
	Duration time.Duration `json:"duration_ms"`
	Omitted  bool          `json:"omitted,omitempty"`
}

// Assembler turns per-utterance fragments into chapter audio files and keeps
// track of chapter markers. Chapters may be submitted in any order; they are
// buffered and written to disk strictly in ascending chapter index so the
// running start offsets stay correct.
type Assembler struct {
	workDir string
	format  pcm.Format

	next    int
	elapsed time.Duration

	pending map[int]pendingChapter
	markers []Marker
	files   []string
}

type pendingChapter struct {
	title string
	frags []*synth.Fragment
}

// New creates an assembler writing intermediate chapter files under workDir.
func New(workDir string, format pcm.Format) (*Assembler, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	return &Assembler{
		workDir: workDir,
		format:  format,
		pending: make(map[int]pendingChapter),
	}, nil
}

// SubmitChapter hands the assembler every fragment of one chapter. Fragments
// need not be sorted. The chapter is written immediately if it is the next
// one in order, otherwise it waits until its predecessors arrive.
func (a *Assembler) SubmitChapter(index int, title string, frags []*synth.Fragment) error {
	if index < a.next {
		return ErrChapterOutOfOrder
	}
	if _, dup := a.pending[index]; dup {
		return ErrChapterOutOfOrder
	}
	a.pending[index] = pendingChapter{title: title, frags: frags}
	return a.flush()
}

// SubmitOmitted records a chapter that produced no audio, such as one whose
// extraction failed entirely. It occupies its slot in the marker list with a
// zero duration so downstream chapter numbering stays aligned.
func (a *Assembler) SubmitOmitted(index int, title string) error {
	return a.SubmitChapter(index, title, nil)
}

// flush writes buffered chapters while the next expected index is available.
func (a *Assembler) flush() error {
	for {
		ch, ok := a.pending[a.next]
		if !ok {
			return nil
		}
		delete(a.pending, a.next)

		if len(ch.frags) == 0 {
			a.markers = append(a.markers, Marker{
				Index:   a.next,
				Title:   ch.title,
				Start:   a.elapsed,
				Omitted: true,
			})
			a.next++
			continue
		}

		data, err := a.renderChapter(ch.frags)
		if err != nil {
			return err
		}

		path := filepath.Join(a.workDir, fmt.Sprintf("chapter-%04d.wav", a.next))
		if err := writeWAVFile(path, data, a.format); err != nil {
			return err
		}

		dur := a.format.Duration(len(data))
		a.markers = append(a.markers, Marker{
			Index:    a.next,
			Title:    ch.title,
			Start:    a.elapsed,
			Duration: dur,
		})
		a.files = append(a.files, path)
		a.elapsed += dur
		a.next++
	}
}

// renderChapter concatenates fragments in sequence order with inter-utterance
// gaps, resampling any fragment that arrived in a foreign format.
func (a *Assembler) renderChapter(frags []*synth.Fragment) ([]byte, error) {
	sorted := make([]*synth.Fragment, len(frags))
	copy(sorted, frags)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var buf bytes.Buffer
	for i, frag := range sorted {
		data := frag.PCM
		if frag.Format != a.format {
			resampled, err := pcm.Resample(data, frag.Format, a.format)
			if err != nil {
				return nil, fmt.Errorf("resample chapter %d seq %d: %w", frag.Chapter, frag.Seq, err)
			}
			data = resampled
		}
		buf.Write(data)
		if i < len(sorted)-1 {
			gap := utteranceGap
			if frag.PauseAfter {
				gap = paragraphGap
			}
			buf.Write(a.format.Silence(gap))
		}
	}
	return buf.Bytes(), nil
}

// Markers returns the chapter markers written so far, in chapter order.
func (a *Assembler) Markers() []Marker {
	out := make([]Marker, len(a.markers))
	copy(out, a.markers)
	return out
}

// PendingCount reports how many chapters are buffered waiting on
// predecessors.
func (a *Assembler) PendingCount() int {
	return len(a.pending)
}

// ChapterFiles returns the intermediate WAV paths in playback order.
func (a *Assembler) ChapterFiles() []string {
	out := make([]string, len(a.files))
	copy(out, a.files)
	return out
}

func writeWAVFile(path string, data []byte, format pcm.Format) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chapter file: %w", err)
	}
	err = pcm.WriteWAV(file, data, format)
	closeErr := file.Close()
	if err != nil {
		return fmt.Errorf("write chapter file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close chapter file: %w", closeErr)
	}
	return nil
}

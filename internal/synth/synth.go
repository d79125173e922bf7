// Package synth defines the text-to-speech engine contract and the backend
// variants bookvox can drive. Engines are loaded once per conversion run,
// held exclusively by the job controller, and unloaded on every exit path.
package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/bookvox/internal/pcm"
	"github.com/dgnsrekt/bookvox/internal/segment"
)

// Common engine errors.
var (
	ErrUnknownEngine = errors.New("unknown synthesis engine")
	ErrNotLoaded     = errors.New("engine not loaded")
	ErrEmptyAudio    = errors.New("backend produced zero-length audio")
)

// Fragment is the synthesized audio for one utterance. Fragments map 1:1 to
// utterances by (Chapter, Seq).
type Fragment struct {
	Chapter  int
	Seq      int
	PCM      []byte
	Format   pcm.Format
	Duration time.Duration

	// PauseAfter carries the source utterance's paragraph boundary through
	// to assembly, where it widens the following gap.
	PauseAfter bool

	Skipped bool // silence substitute for an utterance that failed synthesis
}

// VoiceConfig carries voice parameters for a run. Options a backend does not
// support are ignored; only options mandatory for the chosen variant are
// validated at load time.
type VoiceConfig struct {
	Voice    string            // backend voice/speaker identifier
	Language string            // BCP-47-ish language code, e.g. "en"
	Rate     float64           // speaking rate multiplier, 1.0 = normal
	RefAudio string            // reference sample for voice cloning backends
	Style    map[string]string // backend-specific style/emotion parameters
}

// Capabilities describes a backend variant.
type Capabilities struct {
	Name            string
	MaxChars        int  // input-length limit per synthesis call
	MemoryMB        int  // resident memory footprint while loaded
	SupportsCloning bool // accepts VoiceConfig.RefAudio
	SupportsRate    bool // honors VoiceConfig.Rate
	RequiresNetwork bool
}

// Engine is one interchangeable TTS backend.
type Engine interface {
	// Load acquires the backend's resources. It must be called before the
	// first Synthesize and balanced with Unload on every exit path.
	Load(ctx context.Context) error

	// Synthesize turns one utterance into a Fragment.
	Synthesize(ctx context.Context, utt segment.Utterance, voice VoiceConfig) (*Fragment, error)

	// Capabilities reports the variant's limits.
	Capabilities() Capabilities

	// Unload releases the backend's resources.
	Unload() error
}

// SynthesisError wraps a per-utterance backend failure. The job controller
// retries these and substitutes silence once retries are exhausted.
type SynthesisError struct {
	Chapter int
	Seq     int
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for utterance %d/%d: %v", e.Chapter, e.Seq, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Options collects backend configuration from the config surface.
type Options struct {
	PiperBinary     string
	PiperModel      string
	PiperConfigPath string
	GTTSBinary      string
	FFmpegBinary    string
	SampleRate      int
	Timeout         time.Duration
}

// Open constructs the named engine variant.
func Open(name string, opts Options) (Engine, error) {
	switch name {
	case "piper":
		return newPiperEngine(opts)
	case "gtts":
		return newGTTSEngine(opts)
	case "mock":
		return NewMockEngine(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}

// Names lists the selectable engine variants.
func Names() []string { return []string{"piper", "gtts", "mock"} }

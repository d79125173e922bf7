package synth

import (
	"context"
	"sync"
	"time"

	"github.com/dgnsrekt/bookvox/internal/pcm"
	"github.com/dgnsrekt/bookvox/internal/segment"
)

// MockEngine produces deterministic silence-shaped PCM without touching any
// external process. It backs the "mock" engine name so conversions can be
// exercised end to end on machines with no TTS binaries installed, and it is
// the engine the job controller tests drive.
type MockEngine struct {
	mu       sync.Mutex
	loaded   bool
	attempts map[uttKey]int

	// FailFunc, when set, is consulted per attempt. Returning a non-nil
	// error fails that attempt. The attempt counter starts at 1.
	FailFunc func(chapter, seq, attempt int) error

	// Latency is added to every call when non-zero.
	Latency time.Duration
}

type uttKey struct {
	chapter int
	seq     int
}

// mockMSPerChar sizes the fake audio so longer text yields longer fragments.
const mockMSPerChar = 40

func NewMockEngine() *MockEngine {
	return &MockEngine{attempts: make(map[uttKey]int)}
}

func (e *MockEngine) Load(_ context.Context) error {
	e.mu.Lock()
	e.loaded = true
	e.mu.Unlock()
	return nil
}

func (e *MockEngine) Synthesize(ctx context.Context, utt segment.Utterance, _ VoiceConfig) (*Fragment, error) {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return nil, ErrNotLoaded
	}
	key := uttKey{utt.Chapter, utt.Seq}
	e.attempts[key]++
	attempt := e.attempts[key]
	failFunc := e.FailFunc
	e.mu.Unlock()

	if e.Latency > 0 {
		select {
		case <-time.After(e.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failFunc != nil {
		if err := failFunc(utt.Chapter, utt.Seq, attempt); err != nil {
			return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: err}
		}
	}

	format := pcm.DefaultFormat()
	dur := time.Duration(len(utt.Text)) * mockMSPerChar * time.Millisecond
	if dur == 0 {
		return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: ErrEmptyAudio}
	}
	data := format.Silence(dur)
	return &Fragment{
		Chapter:    utt.Chapter,
		Seq:        utt.Seq,
		PCM:        data,
		Format:     format,
		Duration:   format.Duration(len(data)),
		PauseAfter: utt.PauseAfter,
	}, nil
}

// Attempts reports how many synthesis attempts were made for an utterance.
func (e *MockEngine) Attempts(chapter, seq int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts[uttKey{chapter, seq}]
}

func (e *MockEngine) Capabilities() Capabilities {
	return Capabilities{
		Name:     "mock",
		MaxChars: 2000,
		MemoryMB: 16,
	}
}

func (e *MockEngine) Unload() error {
	e.mu.Lock()
	e.loaded = false
	e.mu.Unlock()
	return nil
}

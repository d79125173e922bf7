package synth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/bookvox/internal/segment"
)

func TestOpenUnknownEngine(t *testing.T) {
	if _, err := Open("festival", Options{}); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("Open() error = %v, want ErrUnknownEngine", err)
	}
}

func TestOpenKnownNames(t *testing.T) {
	for _, name := range Names() {
		if name == "piper" {
			// piper needs a model path; the default Options cannot open it.
			continue
		}
		eng, err := Open(name, Options{})
		if err != nil {
			t.Errorf("Open(%q) error = %v", name, err)
			continue
		}
		if got := eng.Capabilities().Name; got != name {
			t.Errorf("Open(%q).Capabilities().Name = %q", name, got)
		}
	}
}

func TestNewPiperEngineRequiresModel(t *testing.T) {
	if _, err := Open("piper", Options{}); err == nil {
		t.Error("Open(piper) without model path succeeded")
	}
}

func TestMockEngineRequiresLoad(t *testing.T) {
	e := NewMockEngine()
	utt := segment.Utterance{Text: "hello"}
	if _, err := e.Synthesize(context.Background(), utt, VoiceConfig{}); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Synthesize() before Load error = %v, want ErrNotLoaded", err)
	}
}

func TestMockEngineSynthesize(t *testing.T) {
	e := NewMockEngine()
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	utt := segment.Utterance{Chapter: 2, Seq: 5, Text: "ten chars.", PauseAfter: true}
	frag, err := e.Synthesize(context.Background(), utt, VoiceConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if frag.Chapter != 2 || frag.Seq != 5 {
		t.Errorf("fragment identity = %d/%d, want 2/5", frag.Chapter, frag.Seq)
	}
	if !frag.PauseAfter {
		t.Error("PauseAfter not carried through")
	}
	want := time.Duration(len(utt.Text)) * mockMSPerChar * time.Millisecond
	if frag.Duration != want {
		t.Errorf("Duration = %v, want %v", frag.Duration, want)
	}
	if len(frag.PCM) == 0 {
		t.Error("empty PCM")
	}
	if got := e.Attempts(2, 5); got != 1 {
		t.Errorf("Attempts(2, 5) = %d, want 1", got)
	}
}

func TestMockEngineEmptyText(t *testing.T) {
	e := NewMockEngine()
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := e.Synthesize(context.Background(), segment.Utterance{}, VoiceConfig{})
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Synthesize(empty) error = %v, want *SynthesisError", err)
	}
	if !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("error does not unwrap to ErrEmptyAudio: %v", err)
	}
}

func TestMockEngineFailFunc(t *testing.T) {
	e := NewMockEngine()
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.FailFunc = func(chapter, seq, attempt int) error {
		if attempt == 1 {
			return errors.New("first try always fails")
		}
		return nil
	}
	utt := segment.Utterance{Text: "retry me"}
	if _, err := e.Synthesize(context.Background(), utt, VoiceConfig{}); err == nil {
		t.Fatal("first attempt succeeded, want failure")
	}
	if _, err := e.Synthesize(context.Background(), utt, VoiceConfig{}); err != nil {
		t.Fatalf("second attempt error = %v", err)
	}
	if got := e.Attempts(0, 0); got != 2 {
		t.Errorf("Attempts(0, 0) = %d, want 2", got)
	}
}

func TestMockEngineHonorsCancel(t *testing.T) {
	e := NewMockEngine()
	e.Latency = time.Second
	if err := e.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Synthesize(ctx, segment.Utterance{Text: "never"}, VoiceConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Synthesize() error = %v, want context.Canceled", err)
	}
}

package synth

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/bookvox/internal/pcm"
	"github.com/dgnsrekt/bookvox/internal/segment"
	"github.com/dgnsrekt/bookvox/internal/subproc"
)

// piperEngine drives the piper binary, one process per synthesis call. Text
// goes in on stdin, raw 16-bit PCM comes back on stdout. A fresh process per
// utterance costs a little startup time but cannot leak state between calls,
// which matters for day-long conversions.
type piperEngine struct {
	runner     *subproc.Runner
	binary     string
	model      string
	configPath string
	sampleRate int
	loaded     atomic.Bool
}

func newPiperEngine(opts Options) (*piperEngine, error) {
	binary := opts.PiperBinary
	if binary == "" {
		binary = "piper"
	}
	if opts.PiperModel == "" {
		return nil, fmt.Errorf("piper engine requires a model path")
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 22050
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &piperEngine{
		runner:     subproc.NewRunner(timeout),
		binary:     binary,
		model:      opts.PiperModel,
		configPath: opts.PiperConfigPath,
		sampleRate: sampleRate,
	}, nil
}

func (e *piperEngine) Load(_ context.Context) error {
	if _, err := subproc.LookPath(e.binary); err != nil {
		return err
	}
	if _, err := os.Stat(e.model); err != nil {
		return fmt.Errorf("piper model not accessible: %w", err)
	}
	e.loaded.Store(true)
	return nil
}

func (e *piperEngine) Synthesize(ctx context.Context, utt segment.Utterance, voice VoiceConfig) (*Fragment, error) {
	if !e.loaded.Load() {
		return nil, ErrNotLoaded
	}

	args := []string{"--model", e.model, "--output-raw"}
	if e.configPath != "" {
		args = append(args, "--config", e.configPath)
	}
	if voice.Rate > 0 && voice.Rate != 1.0 {
		// Piper expresses rate as a length scale; faster speech = shorter.
		args = append(args, "--length-scale", strconv.FormatFloat(1.0/voice.Rate, 'f', 3, 64))
	}
	if voice.Voice != "" {
		args = append(args, "--speaker", voice.Voice)
	}

	res, err := e.runner.Run(ctx, strings.NewReader(utt.Text+"\n"), e.binary, args...)
	if err != nil {
		return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: err}
	}
	if len(res.Stdout) == 0 {
		return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: ErrEmptyAudio}
	}

	format := pcm.Format{SampleRate: e.sampleRate, Channels: 1, BitDepth: 16}
	data := res.Stdout
	if len(data)%format.BytesPerSample() != 0 {
		data = data[:len(data)-len(data)%format.BytesPerSample()]
	}
	return &Fragment{
		Chapter:    utt.Chapter,
		Seq:        utt.Seq,
		PCM:        data,
		Format:     format,
		Duration:   format.Duration(len(data)),
		PauseAfter: utt.PauseAfter,
	}, nil
}

func (e *piperEngine) Capabilities() Capabilities {
	return Capabilities{
		Name:         "piper",
		MaxChars:     1024,
		MemoryMB:     768,
		SupportsRate: true,
	}
}

func (e *piperEngine) Unload() error {
	e.loaded.Store(false)
	return nil
}

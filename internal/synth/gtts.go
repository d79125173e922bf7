package synth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/bookvox/internal/pcm"
	"github.com/dgnsrekt/bookvox/internal/segment"
	"github.com/dgnsrekt/bookvox/internal/subproc"
	"golang.org/x/time/rate"
)

// gttsEngine synthesizes through gtts-cli (Google Translate TTS) and decodes
// the returned MP3 to PCM with ffmpeg. No API key, but network-bound and
// rate-limited to stay under Google's tolerance.
type gttsEngine struct {
	runner     *subproc.Runner
	binary     string
	ffmpeg     string
	sampleRate int
	limiter    *rate.Limiter
	tempDir    string
	loaded     atomic.Bool
}

// gttsRequestsPerMinute keeps well under the point where Google starts
// refusing requests.
const gttsRequestsPerMinute = 50

func newGTTSEngine(opts Options) (*gttsEngine, error) {
	binary := opts.GTTSBinary
	if binary == "" {
		binary = "gtts-cli"
	}
	ffmpeg := opts.FFmpegBinary
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 22050
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Minute
	}
	return &gttsEngine{
		runner:     subproc.NewRunner(timeout),
		binary:     binary,
		ffmpeg:     ffmpeg,
		sampleRate: sampleRate,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/gttsRequestsPerMinute), 1),
	}, nil
}

func (e *gttsEngine) Load(_ context.Context) error {
	if _, err := subproc.LookPath(e.binary); err != nil {
		return err
	}
	if _, err := subproc.LookPath(e.ffmpeg); err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "bookvox-gtts-*")
	if err != nil {
		return fmt.Errorf("create gtts temp dir: %w", err)
	}
	e.tempDir = dir
	e.loaded.Store(true)
	return nil
}

func (e *gttsEngine) Synthesize(ctx context.Context, utt segment.Utterance, voice VoiceConfig) (*Fragment, error) {
	if !e.loaded.Load() {
		return nil, ErrNotLoaded
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: err}
	}

	lang := voice.Language
	if lang == "" {
		lang = "en"
	}

	mp3Path := filepath.Join(e.tempDir, fmt.Sprintf("utt-%d-%d.mp3", utt.Chapter, utt.Seq))
	defer os.Remove(mp3Path)

	args := []string{"--lang", lang, "--output", mp3Path, "-"}
	if voice.Rate > 0 && voice.Rate < 0.9 {
		// gtts-cli only has a binary slow switch; anything clearly below
		// normal speed maps to it, everything else is ignored.
		args = append([]string{"--slow"}, args...)
	}
	if _, err := e.runner.Run(ctx, bytes.NewReader([]byte(utt.Text)), e.binary, args...); err != nil {
		return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: err}
	}

	data, err := e.decode(ctx, mp3Path)
	if err != nil {
		return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: err}
	}
	if len(data) == 0 {
		return nil, &SynthesisError{Chapter: utt.Chapter, Seq: utt.Seq, Err: ErrEmptyAudio}
	}

	format := pcm.Format{SampleRate: e.sampleRate, Channels: 1, BitDepth: 16}
	return &Fragment{
		Chapter:    utt.Chapter,
		Seq:        utt.Seq,
		PCM:        data,
		Format:     format,
		Duration:   format.Duration(len(data)),
		PauseAfter: utt.PauseAfter,
	}, nil
}

// decode converts the MP3 intermediate to mono 16-bit PCM at the working rate.
func (e *gttsEngine) decode(ctx context.Context, mp3Path string) ([]byte, error) {
	args := []string{
		"-hide_banner", "-nostdin",
		"-i", mp3Path,
		"-f", "s16le",
		"-ac", "1",
		"-ar", fmt.Sprint(e.sampleRate),
		"-",
	}
	res, err := e.runner.Run(ctx, nil, e.ffmpeg, args...)
	if err != nil {
		return nil, err
	}
	return res.Stdout, nil
}

func (e *gttsEngine) Capabilities() Capabilities {
	return Capabilities{
		Name:            "gtts",
		MaxChars:        500,
		MemoryMB:        128,
		RequiresNetwork: true,
	}
}

func (e *gttsEngine) Unload() error {
	e.loaded.Store(false)
	if e.tempDir != "" {
		os.RemoveAll(e.tempDir)
		e.tempDir = ""
	}
	return nil
}

package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/bookvox/internal/pcm"
)

// playbackRate is the rate the audio device is opened at. Engine output is
// resampled up to it; oto is only reliable at 44100 and 48000 Hz.
const playbackRate = 44100

// Player plays PCM fragments through the system audio device. It backs the
// preview command; conversion itself never touches the speakers.
type Player struct {
	context *oto.Context

	mu     sync.Mutex
	player *oto.Player

	// data referenced by the active oto player must stay reachable until
	// playback ends or the output turns to static.
	active []byte

	closed bool
}

// NewPlayer opens the audio device. The returned player is mono 16-bit at
// playbackRate.
func NewPlayer() (*Player, error) {
	op := &oto.NewContextOptions{
		SampleRate:   playbackRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &Player{context: ctx}, nil
}

// Play blocks until the fragment finishes, the context is cancelled, or the
// player is closed. Input in a foreign format is resampled first.
func (p *Player) Play(ctx context.Context, data []byte, format pcm.Format) error {
	if len(data) == 0 {
		return errors.New("audio data is empty")
	}

	target := pcm.Format{SampleRate: playbackRate, Channels: 1, BitDepth: 16}
	if format != target {
		resampled, err := pcm.Resample(data, format, target)
		if err != nil {
			return err
		}
		data = resampled
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("player is closed")
	}
	p.stopLocked()
	owned := make([]byte, len(data))
	copy(owned, data)
	player := p.context.NewPlayer(bytes.NewReader(owned))
	p.player = player
	p.active = owned
	p.mu.Unlock()

	player.Play()

	duration := target.Duration(len(owned))
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(duration + time.Second)

	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() || time.Now().After(deadline) {
				p.Stop()
				return nil
			}
		}
	}
}

// Stop halts playback and releases the active fragment.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.player != nil {
		p.player.Pause()
		p.player.Close()
		p.player = nil
	}
	p.active = nil
}

// Close stops playback and marks the player unusable. The oto context has no
// close in v3; it is released with the process.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
	return nil
}

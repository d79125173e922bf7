// Package pcm holds the audio sample helpers shared by synthesis and
// assembly: duration math, silence generation, and WAV encoding. All audio in
// the pipeline is 16-bit signed little-endian PCM.
package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Format describes PCM audio parameters.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat is the pipeline-wide working format. Backends that produce a
// different rate are resampled on ingest.
func DefaultFormat() Format {
	return Format{SampleRate: 22050, Channels: 1, BitDepth: 16}
}

// BytesPerSample returns the frame size in bytes.
func (f Format) BytesPerSample() int {
	return f.BitDepth / 8 * f.Channels
}

// Validate checks that data is non-empty and sample-aligned.
func (f Format) Validate(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty PCM data")
	}
	bps := f.BytesPerSample()
	if len(data)%bps != 0 {
		return fmt.Errorf("PCM data length %d is not aligned to %d-byte samples", len(data), bps)
	}
	return nil
}

// Duration returns the playback time of a PCM byte slice.
func (f Format) Duration(dataLen int) time.Duration {
	bps := f.BytesPerSample()
	if f.SampleRate == 0 || bps == 0 {
		return 0
	}
	samples := dataLen / bps
	return time.Duration(float64(samples) / float64(f.SampleRate) * float64(time.Second))
}

// Silence generates silent PCM of the given duration, sample-aligned.
func (f Format) Silence(d time.Duration) []byte {
	samples := int(d.Seconds() * float64(f.SampleRate))
	return make([]byte, samples*f.BytesPerSample())
}

// Resample converts PCM data between sample rates with linear interpolation.
// Channel count and bit depth must match; 16-bit mono is the only supported
// layout, which is what every wired backend emits.
func Resample(input []byte, from, to Format) ([]byte, error) {
	if from.Channels != to.Channels || from.BitDepth != to.BitDepth {
		return nil, errors.New("channel or bit depth conversion not supported")
	}
	if from.BitDepth != 16 || from.Channels != 1 {
		return nil, errors.New("only 16-bit mono resampling supported")
	}
	if from.SampleRate == to.SampleRate {
		return input, nil
	}
	if err := from.Validate(input); err != nil {
		return nil, err
	}

	in := make([]int16, len(input)/2)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(input[i*2:]))
	}

	ratio := float64(to.SampleRate) / float64(from.SampleRate)
	outSamples := int(float64(len(in)) * ratio)
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) / ratio
		idx := int(pos)
		frac := pos - float64(idx)

		var v int16
		if idx >= len(in)-1 {
			v = in[len(in)-1]
		} else {
			v = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

// WriteWAV writes a RIFF/WAVE header followed by the PCM payload.
func WriteWAV(w io.Writer, data []byte, f Format) error {
	if err := f.Validate(data); err != nil {
		return err
	}

	byteRate := f.SampleRate * f.BytesPerSample()
	blockAlign := f.BytesPerSample()

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(data)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(f.BitDepth))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(data)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// StripWAV removes a RIFF header from a WAV payload, returning raw PCM and
// the declared format. Returns an error for anything but 16-bit PCM.
func StripWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("not a RIFF/WAVE payload")
	}
	audioFormat := binary.LittleEndian.Uint16(data[20:22])
	if audioFormat != 1 {
		return nil, Format{}, fmt.Errorf("unsupported WAV audio format %d", audioFormat)
	}
	f := Format{
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
		BitDepth:   int(binary.LittleEndian.Uint16(data[34:36])),
	}
	if f.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("unsupported WAV bit depth %d", f.BitDepth)
	}

	// Scan chunks for "data"; some encoders insert LIST chunks first.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		if id == "data" {
			end := off + 8 + size
			if end > len(data) {
				end = len(data)
			}
			return data[off+8 : end], f, nil
		}
		off += 8 + size
		if size%2 == 1 {
			off++
		}
	}
	return nil, Format{}, errors.New("WAV data chunk not found")
}

// Package capture turns an audio input into fixed-interval chunks for the
// transcription socket, with a visualization tap and an elapsed-time ticker.
package capture

import (
	"errors"
	"fmt"
	"time"
)

// Format describes a PCM stream: signed 16-bit samples, interleaved.
type Format struct {
	SampleRate int
	Channels   int
}

// Constraints are requested from a Source when opening a stream.
type Constraints struct {
	DeviceName       string
	Format           Format
	FrameMS          int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints asks for 16 kHz mono with all processing enabled.
func DefaultConstraints() Constraints {
	return Constraints{
		Format:           Format{SampleRate: 16000, Channels: 1},
		FrameMS:          20,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// FrameSamples returns samples per frame across all channels.
func (c Constraints) FrameSamples() int {
	return c.Format.SampleRate * c.FrameMS / 1000 * max(1, c.Format.Channels)
}

// FrameDuration is the length of one frame.
func (c Constraints) FrameDuration() time.Duration {
	return time.Duration(c.FrameMS) * time.Millisecond
}

// Stream is an open audio input. Read fills p with up to len(p) samples and
// returns io.EOF once a finite input is exhausted.
type Stream interface {
	Format() Format
	Read(p []int16) (int, error)
	Close() error
}

// Source opens audio streams.
type Source interface {
	Name() string
	Open(c Constraints) (Stream, error)
}

// PermissionError reports an input the client was not allowed or able to
// open.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("microphone unavailable: %v", e.Err)
	}
	return fmt.Sprintf("microphone %q unavailable: %v", e.Device, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ErrAlreadyRecording is returned by Start on a running pipeline.
var ErrAlreadyRecording = errors.New("capture: already recording")

// Levels is one visualization sample.
type Levels struct {
	// Level is loudness mapped from -60..0 dBFS onto 0..1.
	Level float64
	// Waveform is the recent time-domain signal, downsampled to [-1, 1].
	Waveform []float64
	Voice    bool
}

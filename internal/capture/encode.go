package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Encoding selects the chunk container.
type Encoding string

const (
	// EncodingPCM sends raw little-endian s16 samples; consecutive chunks form
	// one continuous stream.
	EncodingPCM Encoding = "pcm"
	// EncodingWAV makes every chunk a self-contained WAV file.
	EncodingWAV Encoding = "wav"
)

// Encode packs samples into enc.
func Encode(enc Encoding, f Format, samples []int16) ([]byte, error) {
	switch enc {
	case EncodingPCM, "":
		return EncodePCM(samples), nil
	case EncodingWAV:
		return EncodeWAV(f, samples)
	}
	return nil, fmt.Errorf("unknown encoding %q", enc)
}

// EncodePCM returns samples as little-endian bytes.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// EncodeWAV returns samples as a 16-bit PCM WAV file.
func EncodeWAV(f Format, samples []int16) ([]byte, error) {
	ws := &seekBuffer{}
	enc := wav.NewEncoder(ws, f.SampleRate, 16, f.Channels, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finish wav: %w", err)
	}
	return ws.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte { return bytes.Clone(s.buf) }

package capture

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileSource replays a 16-bit PCM WAV file as if it were a live input.
type FileSource struct {
	Path string
	// Realtime paces reads at the file's sample rate.
	Realtime bool
}

func (s FileSource) Name() string { return s.Path }

// Open validates the file header and returns a stream over its samples.
func (s FileSource) Open(_ Constraints) (Stream, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: not a valid WAV file", s.Path)
	}
	if dec.WavAudioFormat != 1 {
		_ = f.Close()
		return nil, fmt.Errorf("%s: only PCM WAV supported (format %d)", s.Path, dec.WavAudioFormat)
	}
	if dec.BitDepth != 16 {
		_ = f.Close()
		return nil, fmt.Errorf("%s: only 16-bit WAV supported (got %d)", s.Path, dec.BitDepth)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	return &fileStream{
		file:     f,
		dec:      dec,
		format:   format,
		realtime: s.Realtime,
		started:  time.Now(),
	}, nil
}

type fileStream struct {
	file     *os.File
	dec      *wav.Decoder
	format   Format
	realtime bool
	started  time.Time
	read     int64
	buf      *audio.IntBuffer
}

func (s *fileStream) Format() Format { return s.format }

func (s *fileStream) Read(p []int16) (int, error) {
	if s.buf == nil || len(s.buf.Data) != len(p) {
		s.buf = &audio.IntBuffer{
			Format: &audio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate},
			Data:   make([]int, len(p)),
		}
	}
	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", s.file.Name(), err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		p[i] = int16(s.buf.Data[i])
	}
	s.read += int64(n)
	if s.realtime {
		s.pace()
	}
	return n, nil
}

// pace sleeps until wall time catches up with the samples handed out.
func (s *fileStream) pace() {
	perSecond := int64(s.format.SampleRate * max(1, s.format.Channels))
	if perSecond <= 0 {
		return
	}
	due := s.started.Add(time.Duration(s.read * int64(time.Second) / perSecond))
	if wait := time.Until(due); wait > 0 {
		time.Sleep(wait)
	}
}

func (s *fileStream) Close() error { return s.file.Close() }

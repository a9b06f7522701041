package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livescribe/internal/logging"

	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// toneSource emits a steady 440 Hz tone, one frame per millisecond of wall
// time so tests do not spin.
type toneSource struct {
	openErr  error
	closeErr error
	closes   atomic.Int32
	opens    atomic.Int32
}

func (s *toneSource) Name() string { return "tone" }

func (s *toneSource) Open(c Constraints) (Stream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opens.Add(1)
	return &toneStream{src: s, format: c.Format}, nil
}

type toneStream struct {
	src    *toneSource
	format Format
	n      int
}

func (t *toneStream) Format() Format { return t.format }

func (t *toneStream) Read(p []int16) (int, error) {
	time.Sleep(time.Millisecond)
	for i := range p {
		p[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(t.n)/float64(t.format.SampleRate)))
		t.n++
	}
	return len(p), nil
}

func (t *toneStream) Close() error {
	t.src.closes.Add(1)
	return t.src.closeErr
}

func testOptions() Options {
	c := DefaultConstraints()
	c.AutoGainControl = false
	c.NoiseSuppression = false
	return Options{
		Constraints:   c,
		Encoding:      EncodingPCM,
		VADMode:       2,
		FrameInterval: 5 * time.Millisecond,
		TickInterval:  10 * time.Millisecond,
	}
}

type collector struct {
	mu     sync.Mutex
	chunks [][]byte
	levels []Levels
	ticks  []time.Duration
	ended  chan error
}

func newCollector() *collector { return &collector{ended: make(chan error, 1)} }

func (c *collector) handlers() Handlers {
	return Handlers{
		OnChunk: func(b []byte) {
			c.mu.Lock()
			c.chunks = append(c.chunks, b)
			c.mu.Unlock()
		},
		OnLevel: func(l Levels) {
			c.mu.Lock()
			c.levels = append(c.levels, l)
			c.mu.Unlock()
		},
		OnTick: func(d time.Duration) {
			c.mu.Lock()
			c.ticks = append(c.ticks, d)
			c.mu.Unlock()
		},
		OnEnd: func(err error) { c.ended <- err },
	}
}

func (c *collector) counts() (chunks, levels, ticks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks), len(c.levels), len(c.ticks)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestPipelineEmitsChunksLevelsAndTicks(t *testing.T) {
	src := &toneSource{}
	p := New(src, testOptions(), logging.NewTestLogger())
	col := newCollector()
	if err := p.Start(20*time.Millisecond, col.handlers()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		c, l, tk := col.counts()
		return c >= 2 && l >= 2 && tk >= 1
	})
	tail := p.Stop()
	if len(tail)%2 != 0 {
		t.Fatalf("tail is not whole samples: %d bytes", len(tail))
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	for i, c := range col.chunks {
		if len(c) == 0 || len(c)%2 != 0 {
			t.Fatalf("chunk %d has %d bytes", i, len(c))
		}
	}
	last := col.levels[len(col.levels)-1]
	if last.Level <= 0 || last.Level > 1 {
		t.Fatalf("level out of range: %v", last.Level)
	}
	if len(last.Waveform) != tapPoints {
		t.Fatalf("waveform points = %d", len(last.Waveform))
	}
}

func TestPipelineStopIsIdempotent(t *testing.T) {
	src := &toneSource{}
	p := New(src, testOptions(), logging.NewTestLogger())
	if err := p.Start(10*time.Millisecond, Handlers{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.Recording() {
		t.Fatalf("expected recording")
	}
	p.Stop()
	if tail := p.Stop(); tail != nil {
		t.Fatalf("second stop returned data")
	}
	if p.Recording() {
		t.Fatalf("still recording after stop")
	}
	if got := src.closes.Load(); got != 1 {
		t.Fatalf("stream closed %d times", got)
	}

	// A fresh recording reuses the pipeline.
	if err := p.Start(10*time.Millisecond, Handlers{}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	p.Stop()
	if got := src.opens.Load(); got != 2 {
		t.Fatalf("opened %d times", got)
	}
}

func TestPipelineStartWhileRecording(t *testing.T) {
	p := New(&toneSource{}, testOptions(), logging.NewTestLogger())
	if err := p.Start(10*time.Millisecond, Handlers{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()
	if err := p.Start(10*time.Millisecond, Handlers{}); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestPipelinePermissionError(t *testing.T) {
	denied := &PermissionError{Device: "USB mic", Err: errors.New("access denied")}
	p := New(&toneSource{openErr: denied}, testOptions(), logging.NewTestLogger())
	err := p.Start(10*time.Millisecond, Handlers{})
	var pe *PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if p.Recording() {
		t.Fatalf("recording after failed start")
	}
	if tail := p.Stop(); tail != nil {
		t.Fatalf("stop on idle pipeline returned data")
	}
}

func TestPipelineStopContinuesPastFailures(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	src := &toneSource{closeErr: errors.New("device vanished")}
	p := New(src, testOptions(), logger)
	col := newCollector()
	if err := p.Start(10*time.Millisecond, col.handlers()); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "release stream: device vanished" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("stream close failure not logged")
	}
	// Later releases ran: no ticks or levels arrive after Stop.
	_, l, tk := col.counts()
	time.Sleep(40 * time.Millisecond)
	_, l2, tk2 := col.counts()
	if l2 != l || tk2 != tk {
		t.Fatalf("loops still running after stop")
	}
}

func TestPipelineMuteYieldsSilence(t *testing.T) {
	p := New(&toneSource{}, testOptions(), logging.NewTestLogger())
	p.SetEnabled(false)
	col := newCollector()
	if err := p.Start(10*time.Millisecond, col.handlers()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { c, _, _ := col.counts(); return c >= 2 })
	p.Stop()
	col.mu.Lock()
	defer col.mu.Unlock()
	for _, c := range col.chunks {
		if !bytes.Equal(c, make([]byte, len(c))) {
			t.Fatalf("muted chunk carries signal")
		}
	}
}

func TestFileSourceEndsStream(t *testing.T) {
	format := Format{SampleRate: 16000, Channels: 1}
	samples := make([]int16, 16000/10) // 100 ms
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	data, err := EncodeWAV(format, samples)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := New(FileSource{Path: path}, testOptions(), logging.NewTestLogger())
	col := newCollector()
	if err := p.Start(500*time.Millisecond, col.handlers()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case err := <-col.ended:
		if err != nil {
			t.Fatalf("expected clean end, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("file stream never ended")
	}
	tail := p.Stop()
	if len(tail) != len(samples)*2 {
		t.Fatalf("tail = %d bytes, want %d", len(tail), len(samples)*2)
	}
	if got := int16(binary.LittleEndian.Uint16(tail[2:])); got != samples[1] {
		t.Fatalf("sample 1 = %d, want %d", got, samples[1])
	}
}

func TestFileSourceRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not a riff file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (FileSource{Path: path}).Open(DefaultConstraints()); err == nil {
		t.Fatalf("expected error for invalid file")
	}
}

func TestEncodeWAVDecodes(t *testing.T) {
	format := Format{SampleRate: 8000, Channels: 1}
	samples := []int16{0, 100, -100, 32767, -32768}
	data, err := EncodeWAV(format, samples)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header")
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 8000 || len(buf.Data) != len(samples) {
		t.Fatalf("decoded rate=%d n=%d", dec.SampleRate, len(buf.Data))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d = %d want %d", i, buf.Data[i], s)
		}
	}
}

func TestEncodeUnknown(t *testing.T) {
	if _, err := Encode("webm", Format{SampleRate: 16000, Channels: 1}, []int16{1}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSeekBuffer(t *testing.T) {
	var sb seekBuffer
	_, _ = sb.Write([]byte("abcdef"))
	if _, err := sb.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	_, _ = sb.Write([]byte("XY"))
	if got := string(sb.Bytes()); got != "abXYef" {
		t.Fatalf("buffer = %q", got)
	}
	if _, err := sb.Seek(-10, io.SeekCurrent); err == nil {
		t.Fatalf("expected negative seek error")
	}
}

func TestLevelOf(t *testing.T) {
	if got := levelOf(make([]int16, 64)); got != 0 {
		t.Fatalf("silence level = %v", got)
	}
	loud := make([]int16, 64)
	for i := range loud {
		loud[i] = 32767
	}
	if got := levelOf(loud); got < 0.99 {
		t.Fatalf("full scale level = %v", got)
	}
}

func TestProcessorAutoGainRaisesQuietInput(t *testing.T) {
	c := DefaultConstraints()
	c.NoiseSuppression = false
	p := newProcessor(c, c.Format, 2, logging.NewTestLogger())
	frame := make([]int16, 320)
	var last float64
	for round := 0; round < 50; round++ {
		for i := range frame {
			frame[i] = int16(300 * math.Sin(float64(i)))
		}
		p.process(frame)
		last = rmsOf(frame)
	}
	if last <= rmsOf([]int16{300, -300}) {
		t.Fatalf("auto gain did not raise level: %v", last)
	}
}

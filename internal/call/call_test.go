package call

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"livescribe/internal/capture"
	"livescribe/internal/logging"

	"github.com/go-audio/wav"
)

type fakeRecorder struct {
	mu       sync.Mutex
	h        capture.Handlers
	enabled  []bool
	starts   int
	stops    int
	tail     []byte
	startErr error
}

func (r *fakeRecorder) Start(_ time.Duration, h capture.Handlers) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.h = h
	r.starts++
	return nil
}

func (r *fakeRecorder) Stop() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.tail
}

func (r *fakeRecorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = append(r.enabled, on)
}

func (r *fakeRecorder) lastEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled[len(r.enabled)-1]
}

func newCall(rec Recorder, mod func(*Options)) *Call {
	opts := Options{
		Format: capture.Format{SampleRate: 16000, Channels: 1},
		Logger: logging.NewTestLogger(),
	}
	if mod != nil {
		mod(&opts)
	}
	return New(rec, opts)
}

func TestCallLifecycle(t *testing.T) {
	rec := &fakeRecorder{tail: capture.EncodePCM([]int16{3})}
	var started, ended int
	var audio []byte
	c := newCall(rec, func(o *Options) {
		o.OnStart = func() { started++ }
		o.OnEnd = func() { ended++ }
		o.OnAudio = func(b []byte) { audio = b }
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrActive) {
		t.Fatalf("second start = %v", err)
	}
	rec.h.OnChunk(capture.EncodePCM([]int16{1, 2}))
	rec.h.OnLevel(capture.Levels{Level: 0.7})
	if c.Level() != 0.7 {
		t.Fatalf("level = %v", c.Level())
	}

	data, err := c.End()
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if started != 1 || ended != 1 || !bytes.Equal(audio, data) {
		t.Fatalf("callbacks: started=%d ended=%d audio=%d bytes", started, ended, len(audio))
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 3 || buf.Data[0] != 1 || buf.Data[2] != 3 {
		t.Fatalf("recording = %v", buf.Data)
	}
	if c.Active() || c.Level() != 0 {
		t.Fatalf("state not reset")
	}
	if _, err := c.End(); !errors.Is(err, ErrNoCall) {
		t.Fatalf("second end = %v", err)
	}
}

func TestToggleMuteTracksFlag(t *testing.T) {
	rec := &fakeRecorder{}
	c := newCall(rec, nil)
	if c.ToggleMute() {
		t.Fatalf("mute outside a call should be a no-op")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !c.ToggleMute() || rec.lastEnabled() {
		t.Fatalf("first toggle should mute and disable the input")
	}
	if c.ToggleMute() || !rec.lastEnabled() {
		t.Fatalf("second toggle should unmute")
	}
	c.ToggleMute()
	if _, err := c.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if c.Muted() || !rec.lastEnabled() {
		t.Fatalf("mute must reset when the call ends")
	}
}

func TestStartFailure(t *testing.T) {
	rec := &fakeRecorder{startErr: &capture.PermissionError{Err: errors.New("denied")}}
	c := newCall(rec, nil)
	var pe *capture.PermissionError
	if err := c.Start(context.Background()); !errors.As(err, &pe) {
		t.Fatalf("start = %v", err)
	}
	if c.Active() {
		t.Fatalf("active after failed start")
	}
}

func TestCancelEndsCall(t *testing.T) {
	rec := &fakeRecorder{}
	done := make(chan []byte, 1)
	c := newCall(rec, func(o *Options) { o.OnAudio = func(b []byte) { done <- b } })
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case b := <-done:
		if string(b[:4]) != "RIFF" {
			t.Fatalf("not a wav file")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("call did not end on cancel")
	}
	if c.Active() {
		t.Fatalf("still active")
	}
}

// chunkyRecorder calls back into the call from Start and Stop the way the
// pipeline's chunk loop does, and can hold Stop open.
type chunkyRecorder struct {
	fakeRecorder
	stopping chan struct{}
	release  chan struct{}
}

func (r *chunkyRecorder) Start(d time.Duration, h capture.Handlers) error {
	if err := r.fakeRecorder.Start(d, h); err != nil {
		return err
	}
	h.OnChunk(capture.EncodePCM([]int16{7}))
	return nil
}

func (r *chunkyRecorder) Stop() []byte {
	if r.stopping != nil {
		close(r.stopping)
		<-r.release
	}
	r.mu.Lock()
	h := r.h
	r.mu.Unlock()
	h.OnChunk(capture.EncodePCM([]int16{8}))
	return r.fakeRecorder.Stop()
}

func TestRecorderCallbacksDuringStartAndEnd(t *testing.T) {
	rec := &chunkyRecorder{}
	c := newCall(rec, nil)
	done := make(chan []byte, 1)
	go func() {
		if err := c.Start(context.Background()); err != nil {
			t.Errorf("start: %v", err)
		}
		data, err := c.End()
		if err != nil {
			t.Errorf("end: %v", err)
		}
		done <- data
	}()
	select {
	case data := <-done:
		buf, err := wav.NewDecoder(bytes.NewReader(data)).FullPCMBuffer()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(buf.Data) != 2 || buf.Data[0] != 7 || buf.Data[1] != 8 {
			t.Fatalf("recording = %v", buf.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("start/end deadlocked on recorder callbacks")
	}
}

func TestStartWhileEndingIsBusy(t *testing.T) {
	rec := &chunkyRecorder{stopping: make(chan struct{}), release: make(chan struct{})}
	c := newCall(rec, nil)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ended := make(chan error, 1)
	go func() {
		_, err := c.End()
		ended <- err
	}()
	<-rec.stopping

	started := make(chan error, 1)
	go func() { started <- c.Start(context.Background()) }()
	select {
	case err := <-started:
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("start during end = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("start blocked behind an in-flight end")
	}
	if _, err := c.End(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second end during end = %v", err)
	}

	close(rec.release)
	if err := <-ended; err != nil {
		t.Fatalf("end: %v", err)
	}
	rec.stopping = nil
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart after end: %v", err)
	}
	if _, err := c.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
}

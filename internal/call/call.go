// Package call implements the voice-call widget: a muted-or-live microphone,
// a level meter and an in-memory recording handed over as WAV when the call
// ends.
package call

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"livescribe/internal/capture"

	"github.com/sirupsen/logrus"
)

// DefaultChunkInterval matches a recorder sliced every 100 ms.
const DefaultChunkInterval = 100 * time.Millisecond

// ErrNoCall is returned by End when no call is active.
var ErrNoCall = errors.New("call: no active call")

// ErrActive is returned by Start during a call.
var ErrActive = errors.New("call: already active")

// ErrBusy is returned by Start and End while another Start or End is still
// driving the recorder.
var ErrBusy = errors.New("call: start or end in progress")

// Recorder is the capture surface a call drives. *capture.Pipeline
// satisfies it; it must be configured for PCM chunks.
type Recorder interface {
	Start(chunkInterval time.Duration, h capture.Handlers) error
	Stop() []byte
	SetEnabled(on bool)
}

// Options configures a Call.
type Options struct {
	Format        capture.Format
	ChunkInterval time.Duration
	Logger        *logrus.Logger

	OnStart func()
	OnEnd   func()
	// OnAudio receives the finished recording as a WAV file.
	OnAudio func(wav []byte)
	// OnLevel receives meter updates in [0, 1].
	OnLevel func(level float64)
	// OnTick receives the call duration once a second.
	OnTick func(elapsed time.Duration)
}

// Call is one voice-call widget.
type Call struct {
	rec  Recorder
	opts Options

	mu        sync.Mutex
	active    bool
	capturing bool
	busy      bool
	muted     bool
	level     float64
	pcm       []byte
	started   time.Time
	stopCtx   func() bool
}

// New returns an idle call recording through rec.
func New(rec Recorder, opts Options) *Call {
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = DefaultChunkInterval
	}
	if opts.Format.SampleRate == 0 {
		opts.Format = capture.DefaultConstraints().Format
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Call{rec: rec, opts: opts}
}

// Start opens the microphone and begins recording. The call ends by itself
// when ctx is cancelled. The recorder is driven without holding c.mu: its
// chunk loop calls back into the call.
func (c *Call) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.active {
		c.mu.Unlock()
		return ErrActive
	}
	c.busy = true
	c.pcm = c.pcm[:0]
	c.muted = false
	c.capturing = true
	c.mu.Unlock()

	c.rec.SetEnabled(true)
	err := c.rec.Start(c.opts.ChunkInterval, capture.Handlers{
		OnChunk: c.append,
		OnLevel: c.setLevel,
		OnTick:  c.opts.OnTick,
	})

	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.capturing = false
		c.mu.Unlock()
		return err
	}
	c.active = true
	c.started = time.Now()
	c.stopCtx = context.AfterFunc(ctx, func() {
		if _, err := c.End(); err != nil && !errors.Is(err, ErrNoCall) && !errors.Is(err, ErrBusy) {
			c.opts.Logger.Warnf("end call on cancel: %v", err)
		}
	})
	c.mu.Unlock()

	c.opts.Logger.Info("call started")
	if c.opts.OnStart != nil {
		c.opts.OnStart()
	}
	return nil
}

func (c *Call) append(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capturing {
		c.pcm = append(c.pcm, chunk...)
	}
}

func (c *Call) setLevel(l capture.Levels) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.level = l.Level
	c.mu.Unlock()
	if c.opts.OnLevel != nil {
		c.opts.OnLevel(l.Level)
	}
}

// ToggleMute flips the mute flag and gates the microphone to match. The
// flag is authoritative; it returns the new state. Outside a call it is a
// no-op returning false.
func (c *Call) ToggleMute() bool {
	// Start and End clear active before touching the recorder without c.mu,
	// so SetEnabled under c.mu never waits on a stopping pipeline.
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	c.muted = !c.muted
	c.rec.SetEnabled(!c.muted)
	c.opts.Logger.Debugf("muted=%v", c.muted)
	return c.muted
}

// Active reports whether a call is in progress.
func (c *Call) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Muted reports the mute flag.
func (c *Call) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Level is the latest meter reading.
func (c *Call) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Elapsed is the call duration so far.
func (c *Call) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0
	}
	return time.Since(c.started)
}

// End stops the microphone, resets mute and level, and returns the
// recording as WAV. OnAudio and OnEnd fire after teardown.
func (c *Call) End() ([]byte, error) {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if !c.active {
		c.mu.Unlock()
		return nil, ErrNoCall
	}
	// Stop waits for the chunk loop, which takes c.mu in append; chunks
	// keep landing until capturing is cleared below.
	c.active = false
	c.busy = true
	c.mu.Unlock()

	tail := c.rec.Stop()
	c.rec.SetEnabled(true)

	c.mu.Lock()
	c.busy = false
	c.capturing = false
	pcm := append(c.pcm, tail...)
	c.pcm = nil
	c.muted = false
	c.level = 0
	stopCtx := c.stopCtx
	c.stopCtx = nil
	dur := time.Since(c.started)
	c.mu.Unlock()

	if stopCtx != nil {
		stopCtx()
	}

	data, err := capture.EncodeWAV(c.opts.Format, decodePCM(pcm))
	if err != nil {
		return nil, err
	}
	c.opts.Logger.Infof("call ended after %s (%d bytes audio)", dur.Round(time.Millisecond), len(pcm))
	if c.opts.OnAudio != nil {
		c.opts.OnAudio(data)
	}
	if c.opts.OnEnd != nil {
		c.opts.OnEnd()
	}
	return data, nil
}

func decodePCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultFrameInterval = 33 * time.Millisecond
	defaultTickInterval  = time.Second
)

// Handlers receive pipeline output. They are called from pipeline goroutines
// and must not block; nil handlers are skipped.
type Handlers struct {
	OnChunk func(chunk []byte)
	OnLevel func(l Levels)
	OnTick  func(elapsed time.Duration)
	// OnEnd reports a stream that ended on its own: nil for an exhausted
	// finite input, otherwise the read error.
	OnEnd func(err error)
}

// Options configures a Pipeline.
type Options struct {
	Constraints Constraints
	Encoding    Encoding
	VADMode     int
	// FrameInterval paces the visualization tap; TickInterval the elapsed
	// ticker.
	FrameInterval time.Duration
	TickInterval  time.Duration
}

// Pipeline owns one open stream while recording. Start and Stop alternate;
// Stop is idempotent.
type Pipeline struct {
	src    Source
	opts   Options
	logger *logrus.Logger

	mu        sync.Mutex
	recording bool
	enabled   bool
	startedAt time.Time

	stream Stream
	proc   *processor
	rec    *recorder
	tap    *tap

	cancelRead context.CancelFunc
	readDone   chan struct{}
	stopChunk  chan struct{}
	chunkDone  chan struct{}
	stopViz    chan struct{}
	vizDone    chan struct{}
	stopTick   chan struct{}
	tickDone   chan struct{}
}

// New creates an idle pipeline reading from src.
func New(src Source, opts Options, logger *logrus.Logger) *Pipeline {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaultFrameInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Encoding == "" {
		opts.Encoding = EncodingPCM
	}
	return &Pipeline{src: src, opts: opts, logger: logger, enabled: true}
}

// Recording reports whether a stream is open.
func (p *Pipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// StartedAt returns when the current recording began.
func (p *Pipeline) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// SetEnabled gates the signal like a track's enabled flag: a disabled
// pipeline keeps running but produces silence.
func (p *Pipeline) SetEnabled(on bool) {
	p.mu.Lock()
	p.enabled = on
	proc := p.proc
	p.mu.Unlock()
	if proc != nil {
		proc.setEnabled(on)
	}
}

// Start opens the source and begins emitting a chunk every chunkInterval.
func (p *Pipeline) Start(chunkInterval time.Duration, h Handlers) error {
	if chunkInterval <= 0 {
		return fmt.Errorf("chunk interval must be positive (got %s)", chunkInterval)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recording {
		return ErrAlreadyRecording
	}

	stream, err := p.src.Open(p.opts.Constraints)
	if err != nil {
		return err
	}
	format := stream.Format()

	p.stream = stream
	p.proc = newProcessor(p.opts.Constraints, format, p.opts.VADMode, p.logger)
	p.proc.setEnabled(p.enabled)
	p.rec = newRecorder(format, p.opts.Encoding)
	p.tap = newTap()
	p.startedAt = time.Now()
	p.recording = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelRead = cancel
	p.readDone = make(chan struct{})
	p.stopChunk, p.chunkDone = make(chan struct{}), make(chan struct{})
	p.stopViz, p.vizDone = make(chan struct{}), make(chan struct{})
	p.stopTick, p.tickDone = make(chan struct{}), make(chan struct{})

	frame := p.opts.Constraints.FrameSamples()
	if frame <= 0 {
		frame = format.SampleRate / 50 * max(1, format.Channels)
	}
	go p.readLoop(ctx, stream, frame, p.proc, p.rec, p.tap, h)
	go p.chunkLoop(p.rec, chunkInterval, h.OnChunk)
	go p.vizLoop(p.tap, h.OnLevel)
	go p.tickLoop(p.startedAt, h.OnTick)

	p.logger.Infof("recording from %s @ %d Hz, %s chunks", p.src.Name(), format.SampleRate, chunkInterval)
	return nil
}

// Stop releases everything Start acquired, in order: recorder, analysis tap,
// processing context, stream, visualization loop, elapsed ticker. Every step
// is attempted; failures are logged. It returns the trailing partial chunk,
// which the caller delivers itself. A second Stop is a no-op.
func (p *Pipeline) Stop() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recording {
		return nil
	}
	p.recording = false

	var tail []byte
	p.release("recorder", func() error {
		close(p.stopChunk)
		<-p.chunkDone
		var err error
		tail, err = p.rec.stop()
		return err
	})
	p.release("analysis tap", p.tap.detach)
	p.release("processing context", p.proc.close)
	p.release("stream", func() error {
		p.cancelRead()
		<-p.readDone
		return p.stream.Close()
	})
	p.release("visualization loop", func() error {
		close(p.stopViz)
		<-p.vizDone
		return nil
	})
	p.release("elapsed ticker", func() error {
		close(p.stopTick)
		<-p.tickDone
		return nil
	})

	p.stream, p.proc, p.rec, p.tap = nil, nil, nil, nil
	p.logger.Infof("recording stopped after %s", time.Since(p.startedAt).Round(time.Millisecond))
	return tail
}

func (p *Pipeline) release(name string, fn func() error) {
	if err := fn(); err != nil {
		p.logger.Warnf("release %s: %v", name, err)
	}
}

func (p *Pipeline) readLoop(ctx context.Context, stream Stream, frameSamples int, proc *processor, rec *recorder, tp *tap, h Handlers) {
	defer close(p.readDone)
	buf := make([]int16, frameSamples)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := stream.Read(buf)
		if n > 0 {
			frame := buf[:n]
			voice := proc.process(frame)
			rec.write(frame)
			tp.push(frame, voice)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			p.logger.Infof("%s: end of input", p.src.Name())
			err = nil
		} else {
			p.logger.Errorf("stream read: %v", err)
		}
		if h.OnEnd != nil {
			h.OnEnd(err)
		}
		return
	}
}

func (p *Pipeline) chunkLoop(rec *recorder, every time.Duration, onChunk func([]byte)) {
	defer close(p.chunkDone)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-p.stopChunk:
			return
		case <-t.C:
			chunk, err := rec.flush()
			if err != nil {
				p.logger.Warnf("encode chunk: %v", err)
				continue
			}
			if len(chunk) > 0 && onChunk != nil {
				onChunk(chunk)
			}
		}
	}
}

func (p *Pipeline) vizLoop(tp *tap, onLevel func(Levels)) {
	defer close(p.vizDone)
	t := time.NewTicker(p.opts.FrameInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stopViz:
			return
		case <-t.C:
			if onLevel != nil {
				onLevel(tp.sample())
			}
		}
	}
}

func (p *Pipeline) tickLoop(start time.Time, onTick func(time.Duration)) {
	defer close(p.tickDone)
	t := time.NewTicker(p.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-p.stopTick:
			return
		case now := <-t.C:
			if onTick != nil {
				onTick(now.Sub(start))
			}
		}
	}
}

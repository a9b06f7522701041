package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"livescribe/internal/asrconn"
	"livescribe/internal/capture"
	"livescribe/internal/config"
	"livescribe/internal/transcript"
)

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case toggleEvent:
		s.onToggle()
	case quitEvent:
		s.onQuit()
	case noteEvent:
		s.message = ev.msg
	case settingsEvent:
		s.onSettings(ev)
	case dialedEvent:
		s.onDialed(ev)
	case frameEvent:
		s.onFrame(ev)
	case readyEvent:
		s.onReadyToStop(ev)
	case closedEvent:
		s.onClosed(ev)
	case chunkEvent:
		s.onChunk(ev)
	case levelEvent:
		s.onLevel(ev)
	case tickEvent:
		s.onTick(ev)
	case sourceEndEvent:
		s.onSourceEnd(ev)
	case finalizeTimeoutEvent:
		s.onFinalizeTimeout(ev)
	default:
		s.logger.Warnf("unknown session event %T", ev)
	}
}

func (s *Session) onToggle() {
	if s.recording {
		s.stopRecording()
		return
	}
	if s.quitting {
		return
	}
	switch {
	case s.awaiting:
		s.logger.Debug("toggle ignored: waiting for finalization")
		return
	case s.connState == asrconn.Connecting || s.connState == asrconn.Closing:
		s.logger.Debugf("toggle ignored: socket %s", s.connState)
		return
	case s.conn != nil && s.connState == asrconn.Open:
		s.startRecording()
		return
	}
	s.dial()
}

func (s *Session) onQuit() {
	s.quitting = true
	if s.recording {
		s.stopRecording()
		return
	}
	if !s.awaiting && s.connState == asrconn.Open {
		s.closeConn()
	}
}

func (s *Session) onSettings(ev settingsEvent) {
	if ev.toggle {
		s.settings = !s.settings
	}
	if ev.hasChunk {
		s.opts.ChunkInterval = time.Duration(ev.chunkMS) * time.Millisecond
		s.message = fmt.Sprintf("chunk interval set to %d ms", ev.chunkMS)
		s.logger.Infof("chunk interval -> %dms", ev.chunkMS)
	}
	if ev.hasURL {
		s.opts.URL = ev.url
		s.message = "server set to " + ev.url
		s.logger.Infof("server url -> %s", ev.url)
	}
}

func (s *Session) dial() {
	if err := config.ValidateURL(s.opts.URL); err != nil {
		s.fail(MsgInvalidURL, &asrconn.ConnectionError{URL: s.opts.URL, Err: err})
		return
	}
	s.gen++
	gen, url := s.gen, s.opts.URL
	s.connState = asrconn.Connecting
	s.message = MsgConnecting
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.DialTimeout)
		defer cancel()
		c, err := s.opts.Dial(ctx, url)
		s.q.push(dialedEvent{gen: gen, conn: c, err: err})
	}()
}

func (s *Session) onDialed(ev dialedEvent) {
	if ev.gen != s.gen || s.connState != asrconn.Connecting {
		if ev.conn != nil {
			go ev.conn.Close()
		}
		return
	}
	if ev.err != nil {
		s.connState = asrconn.Disconnected
		s.fail(MsgConnectFailed, ev.err)
		return
	}
	s.conn = ev.conn
	s.connState = asrconn.Open
	s.lastFrame = nil
	s.finalized = false
	s.message = MsgConnected
	go pump(s.q, ev.gen, ev.conn.Events())
	if s.opts.OnConnection != nil {
		s.opts.OnConnection(true)
	}
	if s.quitting {
		s.closeConn()
		return
	}
	s.startRecording()
}

func (s *Session) startRecording() {
	s.rec++
	rec := s.rec
	err := s.opts.Capture.Start(s.opts.ChunkInterval, capture.Handlers{
		OnChunk: func(b []byte) { s.q.push(chunkEvent{rec: rec, data: b}) },
		OnLevel: func(l capture.Levels) { s.q.push(levelEvent{rec: rec, levels: l}) },
		OnTick:  func(d time.Duration) { s.q.push(tickEvent{rec: rec, elapsed: d}) },
		OnEnd:   func(err error) { s.q.push(sourceEndEvent{rec: rec, err: err}) },
	})
	if err != nil {
		var pe *capture.PermissionError
		if errors.As(err, &pe) {
			s.fail(MsgNoMicrophone, err)
		} else {
			s.fail("could not start recording: "+err.Error(), err)
		}
		if s.opts.OneShot {
			s.closeConn()
		}
		return
	}
	s.recording = true
	s.startedAt = time.Now()
	s.elapsed = 0
	s.message = MsgRecording
	s.opts.Metrics.RecordingStarted()
}

// stopRecording stops capture, flushes queued chunks and the trailing chunk
// while still marked recording, then sends the stop sentinel.
func (s *Session) stopRecording() {
	if !s.recording {
		return
	}
	tail := s.opts.Capture.Stop()
	rec := s.rec
	for _, ev := range s.q.take(func(ev event) bool {
		c, ok := ev.(chunkEvent)
		return ok && c.rec == rec
	}) {
		s.send(ev.(chunkEvent).data)
	}
	if len(tail) > 0 {
		s.send(tail)
	}
	s.endRecording()

	if s.conn == nil || s.connState != asrconn.Open {
		s.message = MsgStopped
		return
	}
	s.awaiting = true
	s.message = MsgStopping
	ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
	defer cancel()
	if err := s.conn.RequestStop(ctx); err != nil {
		s.logger.Warnf("request stop: %v", err)
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.opts.FinalizeTimeout, func() {
		s.q.push(finalizeTimeoutEvent{gen: gen})
	})
}

// forceStop tears capture down without flushing anything.
func (s *Session) forceStop() {
	if !s.recording {
		return
	}
	s.opts.Capture.Stop()
	rec := s.rec
	dropped := s.q.take(func(ev event) bool {
		c, ok := ev.(chunkEvent)
		return ok && c.rec == rec
	})
	for range dropped {
		s.opts.Metrics.ChunkDropped()
	}
	s.endRecording()
}

func (s *Session) endRecording() {
	s.recording = false
	s.opts.Metrics.RecordingStopped(time.Since(s.startedAt).Seconds())
	s.elapsed = 0
	s.level = capture.Levels{}
}

func (s *Session) send(chunk []byte) {
	if !s.recording || s.conn == nil || s.conn.State() != asrconn.Open {
		s.opts.Metrics.ChunkDropped()
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, sendTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, chunk); err != nil {
		s.opts.Metrics.ChunkDropped()
		s.logger.Warnf("send chunk: %v", err)
	}
}

func (s *Session) onChunk(ev chunkEvent) {
	if ev.rec != s.rec {
		s.opts.Metrics.ChunkDropped()
		return
	}
	s.send(ev.data)
}

func (s *Session) onLevel(ev levelEvent) {
	if ev.rec == s.rec && s.recording {
		s.level = ev.levels
	}
}

func (s *Session) onTick(ev tickEvent) {
	if ev.rec == s.rec && s.recording {
		s.elapsed = ev.elapsed
	}
}

func (s *Session) onSourceEnd(ev sourceEndEvent) {
	if ev.rec != s.rec || !s.recording {
		return
	}
	if ev.err != nil {
		s.logger.Errorf("audio input failed: %v", ev.err)
	}
	if s.opts.OneShot {
		s.quitting = true
	}
	s.stopRecording()
	if ev.err != nil {
		s.message = "audio input failed: " + ev.err.Error()
		s.err = ev.err
	}
}

func (s *Session) onFrame(ev frameEvent) {
	if ev.gen != s.gen || s.conn == nil {
		return
	}
	f := ev.frame
	s.lastFrame = &f
	s.view = transcript.Reconcile(f, false)
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate(f, s.view)
	}
}

func (s *Session) onReadyToStop(ev readyEvent) {
	if ev.gen != s.gen || s.conn == nil {
		return
	}
	if !s.awaiting {
		s.logger.Debug("ready_to_stop without a pending stop")
	}
	// The backend is done with this socket; a recording still running has
	// nowhere to send audio.
	s.forceStop()
	s.finalize()
	s.message = MsgProcessed
	s.closeConn()
}

func (s *Session) onClosed(ev closedEvent) {
	if ev.gen != s.gen {
		return
	}
	s.stopTimer()
	if ev.clientInitiated {
		s.forceStop()
		if s.awaiting {
			s.finalize()
		}
		s.message = MsgComplete
	} else {
		s.logger.Warnf("server closed the connection: %v", ev.err)
		s.message = MsgDisconnected
		s.forceStop()
		if s.opts.OneShot {
			s.quitting = true
			s.err = &asrconn.ConnectionError{URL: s.opts.URL, Err: ev.err}
		}
	}
	s.awaiting = false
	s.finalized = false
	s.lastFrame = nil
	s.conn = nil
	s.connState = asrconn.Disconnected
	if s.opts.OnConnection != nil {
		s.opts.OnConnection(false)
	}
}

func (s *Session) onFinalizeTimeout(ev finalizeTimeoutEvent) {
	if ev.gen != s.gen || !s.awaiting {
		return
	}
	s.logger.Warnf("no ready_to_stop within %s", s.opts.FinalizeTimeout)
	s.message = MsgFinalizeLate
	s.closeConn()
}

// finalize renders the last frame as permanent, at most once per stop.
func (s *Session) finalize() {
	s.stopTimer()
	s.awaiting = false
	if s.finalized {
		return
	}
	s.finalized = true
	if s.lastFrame == nil {
		return
	}
	s.view = transcript.Reconcile(*s.lastFrame, true)
	s.opts.Metrics.Finalized()
	if s.opts.OnFinal != nil {
		s.opts.OnFinal(s.view)
	}
}

// closeConn starts a client-initiated close. The close handshake runs off
// the loop; its outcome comes back as a closedEvent.
func (s *Session) closeConn() {
	if s.conn == nil || s.connState == asrconn.Closing {
		return
	}
	s.connState = asrconn.Closing
	c := s.conn
	go func() {
		if err := c.Close(); err != nil {
			s.logger.Debugf("close socket: %v", err)
		}
	}()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) fail(msg string, err error) {
	s.logger.Errorf("%s: %v", msg, err)
	s.message = msg
	if s.opts.OneShot {
		s.quitting = true
		s.err = err
	}
}

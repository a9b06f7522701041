// Package session binds the transcription socket, the capture pipeline and
// the transcript reconciler. All state lives on one goroutine that applies
// queued events in arrival order.
package session

import (
	"context"
	"time"

	"livescribe/internal/asrconn"
	"livescribe/internal/capture"
	"livescribe/internal/config"
	"livescribe/internal/metrics"
	"livescribe/internal/transcript"

	"github.com/sirupsen/logrus"
)

// Status messages shown under the title.
const (
	MsgIdle          = "press Enter to start live transcription"
	MsgConnecting    = "connecting to server..."
	MsgConnected     = "connected to server"
	MsgInvalidURL    = "invalid WebSocket URL, check it and try again"
	MsgConnectFailed = "could not connect to the server or access the microphone"
	MsgRecording     = "recording..."
	MsgNoMicrophone  = "cannot access the microphone, allow microphone access"
	MsgStopping      = "recording stopped, processing final audio..."
	MsgStopped       = "recording stopped"
	MsgProcessed     = "audio processing complete, ready for a new recording"
	MsgComplete      = "transcription complete, ready for a new recording"
	MsgDisconnected  = "disconnected from server (check that the server is running)"
	MsgFinalizeLate  = "server did not finalize in time, closing connection"
)

const sendTimeout = 5 * time.Second

// Conn is the socket surface the session drives. *asrconn.Conn satisfies it.
type Conn interface {
	State() asrconn.State
	Events() <-chan asrconn.Event
	Send(ctx context.Context, chunk []byte) error
	RequestStop(ctx context.Context) error
	Close() error
}

// Dialer opens a socket to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Capture is the recording surface. *capture.Pipeline satisfies it.
type Capture interface {
	Start(chunkInterval time.Duration, h capture.Handlers) error
	Stop() []byte
}

// Renderer draws a snapshot. It is called on the session goroutine after
// every batch of events and must not call back into the session.
type Renderer interface {
	Render(Snapshot)
}

// Snapshot is a copy of the session state for presentation.
type Snapshot struct {
	Conn          asrconn.State
	Recording     bool
	AwaitingFinal bool
	Message       string
	Elapsed       time.Duration
	Level         capture.Levels
	View          transcript.View
	ChunkInterval time.Duration
	URL           string
	SettingsOpen  bool
}

// Options configures a Session.
type Options struct {
	URL             string
	ChunkInterval   time.Duration
	FinalizeTimeout time.Duration
	DialTimeout     time.Duration

	Dial     Dialer
	Capture  Capture
	Renderer Renderer
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics

	// OneShot ends the session after its first recording cycle: when the
	// input runs out, or when connecting or capturing fails.
	OneShot bool

	// OnUpdate receives every interim frame with its reconciled view.
	OnUpdate func(f transcript.Frame, v transcript.View)
	// OnFinal receives the finalized view once per stop.
	OnFinal func(v transcript.View)
	// OnConnection reports socket open and close.
	OnConnection func(connected bool)
}

// Session is one live transcription client.
type Session struct {
	opts   Options
	logger *logrus.Logger
	q      *queue
	ctx    context.Context

	// Loop-owned state below.
	conn      Conn
	connState asrconn.State
	gen       int
	rec       int
	recording bool
	startedAt time.Time
	awaiting  bool
	finalized bool
	lastFrame *transcript.Frame
	view      transcript.View
	message   string
	elapsed   time.Duration
	level     capture.Levels
	settings  bool
	quitting  bool
	err       error
	timer     *time.Timer
}

// New returns an idle session. Call Run to start processing.
func New(opts Options) *Session {
	if opts.URL == "" {
		opts.URL = config.DefaultURL
	}
	if opts.ChunkInterval <= 0 {
		opts.ChunkInterval = config.DefaultChunkMS * time.Millisecond
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 10 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Dial == nil {
		opts.Dial = AsrDialer(logger, opts.Metrics)
	}
	return &Session{
		opts:    opts,
		logger:  logger,
		q:       newQueue(),
		message: MsgIdle,
	}
}

// AsrDialer dials the transcription backend with asrconn.
func AsrDialer(logger *logrus.Logger, m *metrics.Metrics) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		c, err := asrconn.Dial(ctx, url, asrconn.Options{Logger: logger, Metrics: m})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Toggle starts a recording when idle and stops it when recording.
func (s *Session) Toggle() { s.q.push(toggleEvent{}) }

// Quit stops any recording, waits for finalization and ends Run.
func (s *Session) Quit() { s.q.push(quitEvent{}) }

// Notify replaces the status message.
func (s *Session) Notify(msg string) { s.q.push(noteEvent{msg: msg}) }

// ToggleSettings shows or hides the settings panel.
func (s *Session) ToggleSettings() { s.q.push(settingsEvent{toggle: true}) }

// SetChunkInterval changes the recorder interval for the next recording.
func (s *Session) SetChunkInterval(ms int) error {
	if err := config.ValidateChunkMS(ms); err != nil {
		return err
	}
	s.q.push(settingsEvent{chunkMS: ms, hasChunk: true})
	return nil
}

// SetURL changes the endpoint for the next connection.
func (s *Session) SetURL(raw string) error {
	if err := config.ValidateURL(raw); err != nil {
		return err
	}
	s.q.push(settingsEvent{url: raw, hasURL: true})
	return nil
}

// Run processes events until Quit completes or ctx is cancelled. A cancelled
// context tears everything down without waiting for finalization. In OneShot
// mode the error of a failed connect or capture is returned.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	s.render()
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case <-s.q.wake:
		}
		for {
			ev, ok := s.q.pop()
			if !ok {
				break
			}
			s.handle(ev)
		}
		s.render()
		if s.quitting && s.idle() {
			s.logger.Debug("session finished")
			return s.err
		}
	}
}

func (s *Session) idle() bool {
	return !s.recording && !s.awaiting && s.conn == nil && s.connState == asrconn.Disconnected
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Conn:          s.connState,
		Recording:     s.recording,
		AwaitingFinal: s.awaiting,
		Message:       s.message,
		Elapsed:       s.elapsed,
		Level:         s.level,
		View:          s.view,
		ChunkInterval: s.opts.ChunkInterval,
		URL:           s.opts.URL,
		SettingsOpen:  s.settings,
	}
}

func (s *Session) render() {
	if s.opts.Renderer != nil {
		s.opts.Renderer.Render(s.snapshot())
	}
}

// teardown releases the socket and the stream without finalizing.
func (s *Session) teardown() {
	s.stopTimer()
	if s.recording {
		s.opts.Capture.Stop()
		s.recording = false
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debugf("close on teardown: %v", err)
		}
		s.conn = nil
	}
	s.connState = asrconn.Disconnected
}

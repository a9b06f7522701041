// Package asrconn manages the single WebSocket between the client and the
// transcription backend: audio goes out as binary messages, transcript frames
// come back as JSON text messages.
package asrconn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"livescribe/internal/metrics"
	"livescribe/internal/transcript"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// State is the socket lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const readLimit = 1 << 20

// ErrNotOpen is returned by Send and RequestStop outside the open state.
var ErrNotOpen = errors.New("asrconn: socket not open")

// ConnectionError reports a socket that could not be opened.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// EventKind classifies inbound socket events.
type EventKind int

const (
	EventFrame EventKind = iota
	EventReadyToStop
	EventClosed
)

// Event is one inbound occurrence, delivered in arrival order.
type Event struct {
	Kind  EventKind
	Frame transcript.Frame
	// ClientInitiated is set on EventClosed when the close followed
	// RequestStop or Close.
	ClientInitiated bool
	Err             error
}

// Options tunes Dial.
type Options struct {
	Logger  *logrus.Logger
	Metrics *metrics.Metrics
}

// Conn is an open backend socket. Send, RequestStop and Close may be called
// from any goroutine; Events must be drained until it is closed.
type Conn struct {
	url     string
	ws      *websocket.Conn
	logger  *logrus.Logger
	metrics *metrics.Metrics
	events  chan Event

	mu          sync.Mutex
	state       State
	userClosing bool

	closeOnce sync.Once
	readDone  chan struct{}
}

// Dial opens the socket and returns once the handshake completed.
func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}
	ws.SetReadLimit(readLimit)

	c := &Conn{
		url:      url,
		ws:       ws,
		logger:   logger,
		metrics:  opts.Metrics,
		events:   make(chan Event, 64),
		state:    Open,
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	logger.Infof("connected to %s", url)
	return c, nil
}

// URL returns the endpoint this socket was opened against.
func (c *Conn) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns inbound events. The channel is closed after EventClosed.
func (c *Conn) Events() <-chan Event { return c.events }

// Send writes one audio chunk. Callers check State first; outside the open
// state the chunk is rejected with ErrNotOpen.
func (c *Conn) Send(ctx context.Context, chunk []byte) error {
	if c.State() != Open {
		return ErrNotOpen
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("send chunk: %w", err)
	}
	c.metrics.ChunkSent(len(chunk))
	return nil
}

// RequestStop sends the zero-length stop sentinel. The backend answers with a
// ready_to_stop frame or by closing the socket.
func (c *Conn) RequestStop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return ErrNotOpen
	}
	c.userClosing = true
	c.mu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageBinary, []byte{}); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}
	c.logger.Debug("stop sentinel sent")
	return nil
}

// Close performs a client-initiated close and waits for the reader to exit.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.userClosing = true
		if c.state == Open || c.state == Connecting {
			c.state = Closing
		}
		c.mu.Unlock()
		err = c.ws.Close(websocket.StatusNormalClosure, "client closing")
		<-c.readDone
		if err != nil && isNormalClose(err) {
			err = nil
		}
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.events)
	ctx := context.Background()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.state = Disconnected
			clientInitiated := c.userClosing
			c.mu.Unlock()
			c.metrics.Disconnected(clientInitiated)
			if !clientInitiated && !isNormalClose(err) {
				c.logger.Warnf("socket closed: %v", err)
			} else {
				c.logger.Debugf("socket closed: %v", err)
			}
			c.events <- Event{Kind: EventClosed, ClientInitiated: clientInitiated, Err: err}
			return
		}
		if typ != websocket.MessageText {
			c.logger.Debugf("ignoring %d-byte binary message", len(data))
			continue
		}
		frame, err := transcript.Parse(data)
		if err != nil {
			c.metrics.FrameMalformed()
			c.logger.Warnf("drop message: %v", err)
			continue
		}
		if frame.ReadyToStop() {
			c.events <- Event{Kind: EventReadyToStop, Frame: frame}
			continue
		}
		c.metrics.FrameReceived()
		c.events <- Event{Kind: EventFrame, Frame: frame}
	}
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

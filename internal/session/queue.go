package session

import (
	"sync"
	"time"

	"livescribe/internal/asrconn"
	"livescribe/internal/capture"
	"livescribe/internal/transcript"
)

// Events posted to the loop. gen ties socket events to the connection that
// produced them; rec ties capture events to one recording.
type (
	toggleEvent   struct{}
	quitEvent     struct{}
	noteEvent     struct{ msg string }
	settingsEvent struct {
		toggle   bool
		chunkMS  int
		url      string
		hasChunk bool
		hasURL   bool
	}
	dialedEvent struct {
		gen  int
		conn Conn
		err  error
	}
	frameEvent struct {
		gen   int
		frame transcript.Frame
	}
	readyEvent  struct{ gen int }
	closedEvent struct {
		gen             int
		clientInitiated bool
		err             error
	}
	chunkEvent struct {
		rec  int
		data []byte
	}
	levelEvent struct {
		rec    int
		levels capture.Levels
	}
	tickEvent struct {
		rec     int
		elapsed time.Duration
	}
	sourceEndEvent struct {
		rec int
		err error
	}
	finalizeTimeoutEvent struct{ gen int }
)

type event any

// queue is an unbounded FIFO. push never blocks, so producers on socket and
// capture goroutines cannot stall behind the loop.
type queue struct {
	mu    sync.Mutex
	items []event
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(ev event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true
}

// take removes and returns queued events matching match, preserving order.
func (q *queue) take(match func(event) bool) []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []event
	rest := q.items[:0]
	for _, ev := range q.items {
		if match(ev) {
			out = append(out, ev)
			continue
		}
		rest = append(rest, ev)
	}
	clear(q.items[len(rest):])
	q.items = rest
	return out
}

// pump forwards socket events into the queue until the socket's channel
// closes.
func pump(q *queue, gen int, events <-chan asrconn.Event) {
	for ev := range events {
		switch ev.Kind {
		case asrconn.EventFrame:
			q.push(frameEvent{gen: gen, frame: ev.Frame})
		case asrconn.EventReadyToStop:
			q.push(readyEvent{gen: gen})
		case asrconn.EventClosed:
			q.push(closedEvent{gen: gen, clientInitiated: ev.ClientInitiated, err: ev.Err})
		}
	}
}

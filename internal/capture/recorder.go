package capture

import "sync"

// recorder buffers processed samples between chunk boundaries.
type recorder struct {
	mu      sync.Mutex
	format  Format
	enc     Encoding
	pending []int16
	stopped bool
}

func newRecorder(f Format, enc Encoding) *recorder {
	return &recorder{format: f, enc: enc}
}

func (r *recorder) write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.pending = append(r.pending, samples...)
}

// flush encodes and clears the pending samples; nil when there are none.
func (r *recorder) flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *recorder) flushLocked() ([]byte, error) {
	if len(r.pending) == 0 {
		return nil, nil
	}
	out, err := Encode(r.enc, r.format, r.pending)
	r.pending = r.pending[:0]
	return out, err
}

// stop returns the trailing partial chunk; later writes are dropped.
func (r *recorder) stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, nil
	}
	r.stopped = true
	return r.flushLocked()
}

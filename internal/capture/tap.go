package capture

import (
	"math"
	"sync"
)

const (
	tapWindow = 256 // samples kept for visualization
	tapPoints = 32
)

// tap keeps the most recent window of the signal for level and waveform
// sampling.
type tap struct {
	mu       sync.Mutex
	window   []int16
	voice    bool
	detached bool
}

func newTap() *tap {
	return &tap{window: make([]int16, 0, tapWindow)}
}

func (t *tap) push(frame []int16, voice bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		return
	}
	t.window = append(t.window, frame...)
	if over := len(t.window) - tapWindow; over > 0 {
		t.window = append(t.window[:0], t.window[over:]...)
	}
	t.voice = voice
}

func (t *tap) sample() Levels {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Levels{
		Level:    levelOf(t.window),
		Waveform: downsample(t.window, tapPoints),
		Voice:    t.voice,
	}
}

func (t *tap) detach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detached = true
	t.window = t.window[:0]
	t.voice = false
	return nil
}

// levelOf maps RMS loudness from -60..0 dBFS onto 0..1.
func levelOf(samples []int16) float64 {
	rms := rmsOf(samples)
	if rms <= 0 {
		return 0
	}
	db := 20 * math.Log10(rms)
	return math.Max(0, math.Min(1, (db+60)/60))
}

func downsample(samples []int16, points int) []float64 {
	out := make([]float64, points)
	if len(samples) == 0 {
		return out
	}
	step := float64(len(samples)) / float64(points)
	for i := range out {
		idx := int(float64(i) * step)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		out[i] = float64(samples[idx]) / 32768
	}
	return out
}

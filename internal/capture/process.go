package capture

import (
	"math"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
	"github.com/sirupsen/logrus"
)

const (
	agcTargetRMS = 0.1 // about -20 dBFS
	agcMinGain   = 0.5
	agcMaxGain   = 8.0
	agcFloorRMS  = 1e-4
	agcSmoothing = 0.1
	// noiseAttenuation scales frames the VAD classifies as non-speech.
	noiseAttenuation = 0.1
)

// processor applies the software side of the capture constraints. It is the
// pipeline's "audio processing context".
type processor struct {
	mu      sync.Mutex
	c       Constraints
	rate    int
	vad     *webrtcvad.VAD
	gain    float64
	enabled bool
	closed  bool
}

func newProcessor(c Constraints, f Format, vadMode int, logger *logrus.Logger) *processor {
	p := &processor{c: c, rate: f.SampleRate, gain: 1, enabled: true}
	if c.EchoCancellation {
		logger.Debug("echo cancellation requested; no playback reference, relying on the input device")
	}
	if !vadRate(f.SampleRate) || f.Channels != 1 {
		logger.Infof("voice detection disabled for %d Hz/%d ch input", f.SampleRate, f.Channels)
		return p
	}
	v, err := webrtcvad.New()
	if err != nil {
		logger.Warnf("vad init: %v", err)
		return p
	}
	if err := v.SetMode(vadMode); err != nil {
		logger.Warnf("vad mode %d: %v", vadMode, err)
		return p
	}
	p.vad = v
	return p
}

func vadRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

func vadFrame(rate, n int) bool {
	for _, ms := range []int{10, 20, 30} {
		if n == rate*ms/1000 {
			return true
		}
	}
	return false
}

// setEnabled gates the signal; a disabled processor yields silence.
func (p *processor) setEnabled(on bool) {
	p.mu.Lock()
	p.enabled = on
	p.mu.Unlock()
}

// process rewrites frame in place and reports whether it holds speech.
func (p *processor) process(frame []int16) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if !p.enabled {
		clear(frame)
		return false
	}

	voice := true
	if p.vad != nil && vadFrame(p.rate, len(frame)) {
		active, err := p.vad.Process(p.rate, EncodePCM(frame))
		if err == nil {
			voice = active
		}
	}

	scale := 1.0
	if p.c.AutoGainControl {
		if rms := rmsOf(frame); rms > agcFloorRMS {
			want := math.Min(agcMaxGain, math.Max(agcMinGain, agcTargetRMS/rms))
			p.gain += (want - p.gain) * agcSmoothing
		}
		scale = p.gain
	}
	if p.c.NoiseSuppression && p.vad != nil && !voice {
		scale *= noiseAttenuation
	}
	if scale != 1 {
		for i, s := range frame {
			frame[i] = clamp16(float64(s) * scale)
		}
	}
	return voice
}

func (p *processor) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.vad = nil
	return nil
}

func rmsOf(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

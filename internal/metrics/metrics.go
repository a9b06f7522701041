// Package metrics provides Prometheus counters for the transcription client.
// All methods are safe on a nil *Metrics so components can run unobserved.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livescribe"

// Metrics holds the client's Prometheus collectors.
type Metrics struct {
	FramesReceived   prometheus.Counter
	FramesMalformed  prometheus.Counter
	ChunksSent       prometheus.Counter
	AudioBytesSent   prometheus.Counter
	ChunksDropped    prometheus.Counter
	Sessions         prometheus.Counter
	Finalizations    prometheus.Counter
	Disconnects      *prometheus.CounterVec
	RecordingSeconds prometheus.Histogram
	Hooks            *prometheus.CounterVec
	Calls            prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Transcript frames received from the backend",
		}),
		FramesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Inbound messages dropped because they did not parse",
		}),
		ChunksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Audio chunks written to the socket",
		}),
		AudioBytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Audio bytes written to the socket",
		}),
		ChunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Audio chunks produced while the socket was not open",
		}),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Recordings started",
		}),
		Finalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "Transcripts rendered as final",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Socket closes by initiator",
		}, []string{"initiator"}),
		RecordingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Length of recordings",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		Hooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hooks_total",
			Help:      "Hook dispatches by result",
		}, []string{"result"}),
		Calls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Voice calls completed",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesReceived, m.FramesMalformed, m.ChunksSent, m.AudioBytesSent,
			m.ChunksDropped, m.Sessions, m.Finalizations, m.Disconnects, m.RecordingSeconds,
			m.Hooks, m.Calls,
		)
	}
	return m
}

func (m *Metrics) FrameReceived() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

func (m *Metrics) FrameMalformed() {
	if m != nil {
		m.FramesMalformed.Inc()
	}
}

func (m *Metrics) ChunkSent(n int) {
	if m != nil {
		m.ChunksSent.Inc()
		m.AudioBytesSent.Add(float64(n))
	}
}

func (m *Metrics) ChunkDropped() {
	if m != nil {
		m.ChunksDropped.Inc()
	}
}

func (m *Metrics) RecordingStarted() {
	if m != nil {
		m.Sessions.Inc()
	}
}

func (m *Metrics) RecordingStopped(seconds float64) {
	if m != nil {
		m.RecordingSeconds.Observe(seconds)
	}
}

func (m *Metrics) Finalized() {
	if m != nil {
		m.Finalizations.Inc()
	}
}

func (m *Metrics) Disconnected(clientInitiated bool) {
	if m == nil {
		return
	}
	initiator := "server"
	if clientInitiated {
		initiator = "client"
	}
	m.Disconnects.WithLabelValues(initiator).Inc()
}

// Hook counts one dispatch outcome: sent, failed, skipped or dropped.
func (m *Metrics) Hook(result string) {
	if m != nil {
		m.Hooks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) CallEnded() {
	if m != nil {
		m.Calls.Inc()
	}
}

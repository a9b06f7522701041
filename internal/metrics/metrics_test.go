package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.FrameReceived()
	m.FrameMalformed()
	m.ChunkSent(10)
	m.ChunkDropped()
	m.RecordingStarted()
	m.RecordingStopped(1)
	m.Finalized()
	m.Disconnected(true)
	m.Hook("sent")
	m.CallEnded()
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChunkSent(320)
	m.ChunkSent(160)
	m.FrameReceived()
	m.Disconnected(false)
	m.Disconnected(true)
	m.Disconnected(true)

	if got := testutil.ToFloat64(m.ChunksSent); got != 2 {
		t.Fatalf("chunks sent = %v", got)
	}
	if got := testutil.ToFloat64(m.AudioBytesSent); got != 480 {
		t.Fatalf("bytes sent = %v", got)
	}
	if got := testutil.ToFloat64(m.Disconnects.WithLabelValues("client")); got != 2 {
		t.Fatalf("client disconnects = %v", got)
	}
	if got := testutil.ToFloat64(m.Disconnects.WithLabelValues("server")); got != 1 {
		t.Fatalf("server disconnects = %v", got)
	}
	m.Hook("dropped")
	if got := testutil.ToFloat64(m.Hooks.WithLabelValues("dropped")); got != 1 {
		t.Fatalf("dropped hooks = %v", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("nothing registered")
	}
}

// Package run wires configuration, capture, the transcription session and
// the terminal into the listen, stream and call commands.
package run

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"livescribe/internal/capture"
	"livescribe/internal/config"
	"livescribe/internal/hook"
	"livescribe/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const hookQueueSize = 16

// runtime holds the pieces shared by every command: metrics, the hook worker
// and the transcript log.
type runtime struct {
	cfg     *config.Config
	logger  *logrus.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	hook    *hook.Runner
	hookCh  chan hook.Job

	transcriptsMu sync.Mutex
}

func newRuntime(cfg *config.Config, logger *logrus.Logger) (*runtime, error) {
	if err := config.MustStatePaths(cfg); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	return &runtime{
		cfg:     cfg,
		logger:  logger,
		reg:     reg,
		metrics: metrics.New(reg),
		hook:    hook.NewRunner(cfg, logger),
		hookCh:  make(chan hook.Job, hookQueueSize),
	}, nil
}

// background starts the hook worker and, when enabled, the metrics server.
// Both stop when ctx is done.
func (rt *runtime) background(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		rt.hookWorker(ctx)
		return nil
	})
	if rt.cfg.Metrics.Enabled {
		g.Go(func() error {
			rt.metricsServe(ctx, rt.cfg.Metrics.Addr)
			return nil
		})
	}
}

func (rt *runtime) captureOptions(encoding string) capture.Options {
	a := rt.cfg.Audio
	return capture.Options{
		Constraints: capture.Constraints{
			DeviceName:       a.DeviceName,
			Format:           capture.Format{SampleRate: a.SampleRate, Channels: a.Channels},
			FrameMS:          a.FrameMS,
			EchoCancellation: a.EchoCancellation,
			NoiseSuppression: a.NoiseSuppression,
			AutoGainControl:  a.AutoGain,
		},
		Encoding: capture.Encoding(encoding),
		VADMode:  rt.cfg.VAD.Aggressiveness,
	}
}

// dispatchHook queues job for the hook worker without blocking.
func (rt *runtime) dispatchHook(job hook.Job) {
	if !rt.hook.Enabled() {
		return
	}
	if !rt.hook.ShouldRun() {
		rt.logger.Debug("hook skipped (cooldown)")
		rt.metrics.Hook("skipped")
		return
	}
	select {
	case rt.hookCh <- job:
	default:
		rt.metrics.Hook("dropped")
		rt.logger.Warn("hook queue full, dropping job")
	}
}

// recordTranscript appends one line per transcript line to the transcript
// log: timestamp, source, speaker and text separated by tabs.
func (rt *runtime) recordTranscript(source string, lines []string) {
	if !rt.cfg.Transcripts.Enabled || len(lines) == 0 {
		return
	}
	rt.transcriptsMu.Lock()
	defer rt.transcriptsMu.Unlock()
	f, err := os.OpenFile(rt.cfg.Paths.TranscriptPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		rt.logger.Warnf("open transcript log: %v", err)
		return
	}
	defer f.Close()
	ts := time.Now().Format(time.RFC3339)
	for _, l := range lines {
		if _, err := fmt.Fprintf(f, "%s\t%s\t%s\n", ts, source, l); err != nil {
			rt.logger.Warnf("write transcript: %v", err)
			return
		}
	}
}

// signals turns the first SIGINT/SIGTERM into a graceful stop and a second
// one into cancel.
func (rt *runtime) signals(ctx context.Context, graceful func(), cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	hits := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-sigCh:
			hits++
			if hits == 1 {
				rt.logger.Infof("received signal %s, finishing", s)
				graceful()
				continue
			}
			rt.logger.Warnf("received signal %s again, exiting", s)
			cancel()
			return nil
		}
	}
}

// readLines delivers input lines until EOF closes the channel. A blocked
// terminal read cannot be interrupted, so the reader is left to exit with the
// process.
func readLines(in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

// quietCancel maps a cancellation the caller asked for to a clean exit.
func quietCancel(parent context.Context, err error) error {
	if errors.Is(err, context.Canceled) && parent.Err() == nil {
		return nil
	}
	return err
}

package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"livescribe/internal/call"
	"livescribe/internal/capture"
	"livescribe/internal/config"
	"livescribe/internal/hook"
	"livescribe/internal/mic"
	"livescribe/internal/ui"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CallOptions configures Call.
type CallOptions struct {
	Source capture.Source
	In     io.Reader
	Out    io.Writer
	Live   bool
	// Save writes each recording to call.output_dir.
	Save bool
}

// Call runs the voice-call widget: Enter starts and ends a call, m toggles
// mute, q quits.
func Call(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts CallOptions) error {
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	src := opts.Source
	if src == nil {
		src = mic.NewSource(logger)
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Save {
		if err := os.MkdirAll(cfg.Call.OutputDir, 0o755); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	rt.background(gctx, g)

	term := ui.NewTerminal(opts.Out, cfg.UI.Color && opts.Live, opts.Live, cfg.UI.StatusTail)
	w := &callWidget{term: term}
	copts := rt.captureOptions(string(capture.EncodingPCM))
	c := call.New(capture.New(src, copts, logger), call.Options{
		Format:        copts.Constraints.Format,
		ChunkInterval: time.Duration(cfg.Call.ChunkMS) * time.Millisecond,
		Logger:        logger,
		OnStart:       func() { w.note("call in progress") },
		OnEnd: func() {
			rt.metrics.CallEnded()
		},
		OnAudio: func(data []byte) {
			path := ""
			if opts.Save {
				path = rt.saveCall(data)
			}
			if path == "" {
				w.note(fmt.Sprintf("call ended (%d bytes of audio)", len(data)))
				return
			}
			w.note("call ended, recording saved to " + path)
			rt.dispatchHook(hook.Job{Source: "call", AudioPath: path, Timestamp: time.Now()})
		},
		OnLevel: func(float64) { w.draw() },
		OnTick:  func(time.Duration) { w.draw() },
	})
	w.call = c
	w.draw()

	lines := readLines(opts.In)
	quit := make(chan struct{})
	var quitOnce sync.Once
	stop := func() { quitOnce.Do(func() { close(quit) }) }

	g.Go(func() error { return rt.signals(gctx, stop, cancel) })
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				endCall(c, logger)
				return nil
			case <-quit:
				endCall(c, logger)
				return nil
			case line, ok := <-lines:
				if !ok {
					endCall(c, logger)
					return nil
				}
				if done := w.command(gctx, line, logger); done {
					endCall(c, logger)
					return nil
				}
			}
		}
	})
	return g.Wait()
}

func endCall(c *call.Call, logger *logrus.Logger) {
	if !c.Active() {
		return
	}
	if _, err := c.End(); err != nil && !errors.Is(err, call.ErrBusy) {
		logger.Errorf("end call: %v", err)
	}
}

func (rt *runtime) saveCall(data []byte) string {
	name := fmt.Sprintf("call-%s.wav", time.Now().Format("20060102-150405"))
	path := filepath.Join(rt.cfg.Call.OutputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		rt.logger.Errorf("save call: %v", err)
		return ""
	}
	rt.logger.Infof("call saved to %s", path)
	return path
}

// callWidget redraws the call screen from the call's own state.
type callWidget struct {
	term *ui.Terminal
	call *call.Call

	mu  sync.Mutex
	msg string
}

func (w *callWidget) note(msg string) {
	w.mu.Lock()
	w.msg = msg
	w.mu.Unlock()
	w.draw()
}

func (w *callWidget) draw() {
	if w.call == nil {
		return
	}
	w.mu.Lock()
	msg := w.msg
	w.mu.Unlock()
	w.term.RenderCall(ui.CallView{
		Active:  w.call.Active(),
		Muted:   w.call.Muted(),
		Level:   w.call.Level(),
		Elapsed: ui.FormatElapsed(w.call.Elapsed()),
		Message: msg,
	})
}

// command applies one input line and reports whether the user quit.
func (w *callWidget) command(ctx context.Context, line string, logger *logrus.Logger) bool {
	cmd, err := ui.ParseCommand(line, ui.ModeCall)
	if err != nil {
		w.note(err.Error())
		return false
	}
	switch cmd.Kind {
	case ui.CmdQuit:
		return true
	case ui.CmdHelp:
		w.note(ui.Keys(ui.ModeCall))
	case ui.CmdMute:
		if !w.call.Active() {
			w.note("no active call")
			return false
		}
		if w.call.ToggleMute() {
			w.note("muted")
		} else {
			w.note("unmuted")
		}
	case ui.CmdToggle:
		if w.call.Active() {
			endCall(w.call, logger)
			return false
		}
		if err := w.call.Start(ctx); err != nil {
			logger.Errorf("start call: %v", err)
			w.note("cannot access the microphone, check permissions")
		}
	}
	return false
}

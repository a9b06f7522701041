package run

import (
	"context"
	"io"
	"time"

	"livescribe/internal/capture"
	"livescribe/internal/config"
	"livescribe/internal/hook"
	"livescribe/internal/mic"
	"livescribe/internal/session"
	"livescribe/internal/transcript"
	"livescribe/internal/ui"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ListenOptions configures Listen.
type ListenOptions struct {
	// Source defaults to the configured microphone.
	Source capture.Source
	// In carries interactive commands; nil disables them.
	In  io.Reader
	Out io.Writer
	// Live redraws the screen; otherwise status changes and final
	// transcripts are appended.
	Live bool
	// AutoStart begins recording immediately.
	AutoStart bool
	// OneShot exits after the first recording is finalized.
	OneShot bool
	// Label tags transcript log entries and hook jobs.
	Label string
}

// Listen runs a live transcription session until the user quits, a signal
// arrives or, in OneShot mode, the first recording is finalized.
func Listen(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ListenOptions) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	if opts.Label == "" {
		opts.Label = "listen"
	}
	src := opts.Source
	if src == nil {
		src = mic.NewSource(logger)
	}

	sessCtx, hardCancel := context.WithCancel(ctx)
	defer hardCancel()
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	g, bgCtx := errgroup.WithContext(bgCtx)
	rt.background(bgCtx, g)

	term := ui.NewTerminal(opts.Out, cfg.UI.Color && opts.Live, opts.Live, cfg.UI.StatusTail)
	sess := session.New(session.Options{
		URL:             cfg.Server.URL,
		ChunkInterval:   cfg.ChunkInterval(),
		FinalizeTimeout: cfg.FinalizeTimeout(),
		DialTimeout:     cfg.DialTimeout(),
		Dial:            session.AsrDialer(logger, rt.metrics),
		Capture:         capture.New(src, rt.captureOptions(cfg.Server.Encoding), logger),
		Renderer:        term,
		Logger:          logger,
		Metrics:         rt.metrics,
		OneShot:         opts.OneShot,
		OnFinal:         func(v transcript.View) { rt.finished(opts.Label, v) },
		OnConnection: func(connected bool) {
			logger.Debugf("connected=%v", connected)
		},
	})

	var runErr error
	g.Go(func() error {
		defer stopBackground()
		runErr = quietCancel(ctx, sess.Run(sessCtx))
		return nil
	})
	g.Go(func() error { return rt.signals(bgCtx, sess.Quit, hardCancel) })
	if opts.In != nil {
		lines := readLines(opts.In)
		g.Go(func() error {
			for {
				select {
				case <-bgCtx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						sess.Quit()
						return nil
					}
					listenCommand(sess, line)
				}
			}
		})
	}
	if opts.AutoStart {
		sess.Toggle()
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

func listenCommand(sess *session.Session, line string) {
	cmd, err := ui.ParseCommand(line, ui.ModeListen)
	if err != nil {
		sess.Notify(err.Error())
		return
	}
	switch cmd.Kind {
	case ui.CmdToggle:
		sess.Toggle()
	case ui.CmdSettings:
		sess.ToggleSettings()
	case ui.CmdQuit:
		sess.Quit()
	case ui.CmdHelp:
		sess.Notify(ui.Keys(ui.ModeListen))
	case ui.CmdChunk:
		if err := sess.SetChunkInterval(cmd.ChunkMS); err != nil {
			sess.Notify(err.Error())
		}
	case ui.CmdURL:
		if err := sess.SetURL(cmd.URL); err != nil {
			sess.Notify(err.Error())
		}
	}
}

// finished logs a finalized transcript and hands it to the hook.
func (rt *runtime) finished(label string, v transcript.View) {
	text := v.Text()
	if text == "" {
		return
	}
	rt.logger.Infof("final transcript (%d lines)", len(v.Lines))
	entries := make([]string, 0, len(v.Lines))
	for _, l := range v.Lines {
		if l.Text == "" {
			continue
		}
		entries = append(entries, ui.SpeakerBadge(l)+"\t"+l.Text)
	}
	rt.recordTranscript(label, entries)
	rt.dispatchHook(hook.Job{Text: text, Source: label, Timestamp: time.Now()})
}

// Stream transcribes a WAV file at real-time pace and exits once the
// backend finalizes it.
func Stream(ctx context.Context, cfg *config.Config, logger *logrus.Logger, path string, fast bool, out io.Writer) error {
	return Listen(ctx, cfg, logger, ListenOptions{
		Source:    capture.FileSource{Path: path, Realtime: !fast},
		Out:       out,
		AutoStart: true,
		OneShot:   true,
		Label:     "stream",
	})
}

package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"livescribe/internal/asrconn"
	"livescribe/internal/config"
	"livescribe/internal/session"
	"livescribe/internal/transcript"
)

const (
	boldBlue = "\033[1;34m"
	green    = "\033[32m"
	red      = "\033[31m"
	yellow   = "\033[33m"
	blue     = "\033[34m"
	orange   = "\033[38;5;208m"
	gray     = "\033[90m"
	bold     = "\033[1m"
	dim      = "\033[2m"
	reset    = "\033[0m"
	clearScr = "\033[H\033[2J"
)

// Palette applies ANSI styles when enabled.
type Palette struct{ Enabled bool }

func (p Palette) paint(code, s string) string {
	if !p.Enabled || s == "" {
		return s
	}
	return code + s + reset
}

// Terminal renders session snapshots. In live mode it redraws the whole
// screen; otherwise it appends status changes and final transcripts only,
// which keeps piped output readable.
type Terminal struct {
	out     io.Writer
	palette Palette
	live    bool
	tail    int

	mu       sync.Mutex
	lastMsg  string
	lastText string
}

// NewTerminal returns a renderer writing to out. tail limits the transcript
// lines shown on a live screen; 0 shows all.
func NewTerminal(out io.Writer, color, live bool, tail int) *Terminal {
	return &Terminal{out: out, palette: Palette{Enabled: color}, live: live, tail: tail}
}

// Render implements session.Renderer.
func (t *Terminal) Render(s session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live {
		_, _ = io.WriteString(t.out, clearScr+t.Screen(s))
		return
	}
	if s.Message != t.lastMsg {
		t.lastMsg = s.Message
		_, _ = fmt.Fprintf(t.out, "%s %s\n", t.palette.paint(dim, "»"), s.Message)
	}
	if s.View.Final {
		if text := s.View.Text(); text != "" && text != t.lastText {
			t.lastText = text
			_, _ = fmt.Fprintln(t.out, text)
		}
	}
}

// Screen draws a full live transcription screen.
func (t *Terminal) Screen(s session.Snapshot) string {
	p := t.palette
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format, args...) }

	w("%s %s\n", p.paint(boldBlue, "livescribe"), p.paint(dim, "live transcription"))
	w("%s\n", s.Message)
	w("%s\n\n", t.connection(s.Conn))

	if s.Recording {
		w("%s %s %s\n\n", p.paint(red, "■"), p.paint(bold, FormatElapsed(s.Elapsed)), p.paint(green, Sparkline(s.Level.Waveform)))
	} else if s.AwaitingFinal {
		w("%s\n\n", p.paint(yellow, "finalizing..."))
	}

	if s.SettingsOpen {
		w("%s\n", p.paint(bold, "Settings"))
		w("  chunk interval  %s\n", chunkChoices(p, int(s.ChunkInterval.Milliseconds())))
		w("  server url      %s\n\n", s.URL)
	}

	w("%s\n", p.paint(bold, "Transcript"))
	lines := s.View.Lines
	if len(lines) == 0 {
		hint := "press Enter to start recording"
		if s.Recording {
			hint = "waiting for speech..."
		}
		w("  %s\n", p.paint(gray, hint))
	}
	if t.tail > 0 && len(lines) > t.tail {
		w("  %s\n", p.paint(dim, fmt.Sprintf("(%d earlier lines)", len(lines)-t.tail)))
		lines = lines[len(lines)-t.tail:]
	}
	for _, l := range lines {
		if badge := t.badge(l); badge != "" {
			w("  %s\n", badge)
		}
		w("  %s\n", LineText(l))
	}
	if s.View.Placeholder != "" {
		w("  %s\n", p.paint(yellow, s.View.Placeholder))
	}
	if s.View.Latency != "" {
		w("  %s\n", p.paint(yellow, "⟳ "+s.View.Latency))
	}
	w("\n%s\n", p.paint(dim, Keys(ModeListen)))
	return b.String()
}

func (t *Terminal) connection(st asrconn.State) string {
	switch st {
	case asrconn.Open:
		return t.palette.paint(green, "● connected")
	case asrconn.Connecting:
		return t.palette.paint(yellow, "◌ connecting")
	case asrconn.Closing:
		return t.palette.paint(yellow, "◌ closing")
	}
	return t.palette.paint(red, "○ disconnected")
}

func (t *Terminal) badge(l transcript.Line) string {
	label := SpeakerBadge(l)
	switch {
	case label == "":
		return ""
	case l.Speaker == transcript.SpeakerSilence:
		return t.palette.paint(gray, "["+label+"]")
	case l.Speaker == transcript.SpeakerPending:
		return t.palette.paint(orange, "["+label+"]")
	case l.Speaker == transcript.SpeakerUnknown:
		return t.palette.paint(blue, "["+label+"]")
	}
	return t.palette.paint(green, "["+label+"]")
}

func chunkChoices(p Palette, current int) string {
	parts := make([]string, 0, len(config.ChunkOptions))
	for _, ms := range config.ChunkOptions {
		label := fmt.Sprintf("%d ms", ms)
		if ms == current {
			label = p.paint(bold, "["+label+"]")
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "  ")
}

// CallView is the state of the voice-call widget.
type CallView struct {
	Active  bool
	Muted   bool
	Level   float64
	Elapsed string
	Message string
}

// CallScreen draws the call widget.
func (t *Terminal) CallScreen(v CallView) string {
	p := t.palette
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format, args...) }

	w("%s %s\n", p.paint(boldBlue, "livescribe"), p.paint(dim, "voice call"))
	if !v.Active {
		w("press Enter to start a call\n")
		w("%s\n", p.paint(gray, "○ not connected"))
	} else {
		w("call in progress... %s\n", v.Elapsed)
		meter := Meter(v.Level)
		state := "recording"
		if v.Muted {
			meter = p.paint(gray, meter)
			state = "paused"
		} else {
			meter = p.paint(green, meter)
		}
		w("%s %s\n", meter, state)
		vol := p.paint(blue, "♪ normal")
		if v.Muted {
			vol = p.paint(red, "✕ muted")
		}
		w("%s  %s\n", p.paint(green, "● connected"), vol)
	}
	if v.Message != "" {
		w("%s\n", v.Message)
	}
	w("\n%s\n", p.paint(dim, Keys(ModeCall)))
	return b.String()
}

// RenderCall draws the call widget.
func (t *Terminal) RenderCall(v CallView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live {
		_, _ = io.WriteString(t.out, clearScr+t.CallScreen(v))
		return
	}
	if v.Message != "" && v.Message != t.lastMsg {
		t.lastMsg = v.Message
		_, _ = fmt.Fprintf(t.out, "%s %s\n", t.palette.paint(dim, "»"), v.Message)
	}
}

// Package ui draws sessions and calls on a terminal and parses the commands
// typed at it.
package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"livescribe/internal/transcript"
)

// LevelSegments is the number of bars in the call level meter.
const LevelSegments = 10

// SpeakerBadge labels a line by its speaker sentinel. Pending speakers are
// shown as still being identified; unknown single speakers as "Speaker 1".
func SpeakerBadge(l transcript.Line) string {
	info := TimeInfo(l)
	switch {
	case l.Speaker == transcript.SpeakerSilence:
		return join("silence", info)
	case l.Speaker == transcript.SpeakerPending:
		return "identifying speaker..."
	case l.Speaker == transcript.SpeakerUnknown:
		return join("Speaker 1", info)
	case l.Speaker.Identified():
		return join(fmt.Sprintf("Speaker %d", l.Speaker), info)
	}
	return ""
}

// TimeInfo formats "{beg}s - {end}s" when both timestamps are present.
func TimeInfo(l transcript.Line) string {
	if !l.HasTiming() {
		return ""
	}
	return seconds(*l.Beg) + " - " + seconds(*l.End)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "s"
}

func join(label, info string) string {
	if info == "" {
		return label
	}
	return label + " " + info
}

// LineText is the body shown for a line; empty text renders as "...".
func LineText(l transcript.Line) string {
	if l.Text == "" {
		return "..."
	}
	return l.Text
}

// FormatElapsed renders whole elapsed seconds as mm:ss.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// LevelBars reports which of n segments are lit for level in [0, 1]:
// segment i is lit when level*n > i.
func LevelBars(level float64, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = level*float64(n) > float64(i)
	}
	return out
}

// Meter draws LevelBars as a text bar.
func Meter(level float64) string {
	var b strings.Builder
	for _, on := range LevelBars(level, LevelSegments) {
		if on {
			b.WriteString("█")
		} else {
			b.WriteString("░")
		}
	}
	return b.String()
}

var sparks = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws a waveform in [-1, 1] by amplitude.
func Sparkline(wave []float64) string {
	if len(wave) == 0 {
		return ""
	}
	out := make([]rune, len(wave))
	for i, v := range wave {
		a := math.Min(1, math.Abs(v))
		out[i] = sparks[int(a*float64(len(sparks)-1)+0.5)]
	}
	return string(out)
}

// Package transcript models the frames a transcription backend streams back
// and reconciles them into the lines shown to the user.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Speaker identifies who spoke a line. Values <= 0 are sentinels.
type Speaker int

const (
	SpeakerSilence Speaker = -2
	SpeakerUnknown Speaker = -1
	SpeakerPending Speaker = 0
)

// Identified reports whether s is a real speaker index.
func (s Speaker) Identified() bool { return s > 0 }

const (
	StatusNoAudio   = "no_audio_detected"
	TypeReadyToStop = "ready_to_stop"
)

// NoAudioPlaceholder replaces the transcript when the backend hears nothing.
const NoAudioPlaceholder = "No audio detected..."

// Line is one transcript line as reported by the backend.
type Line struct {
	Speaker Speaker  `json:"speaker"`
	Text    string   `json:"text"`
	Beg     *float64 `json:"beg,omitempty"`
	End     *float64 `json:"end,omitempty"`
}

// HasTiming reports whether both timestamps are present.
func (l Line) HasTiming() bool { return l.Beg != nil && l.End != nil }

// Frame is one JSON message from the backend. Each frame replaces the
// previous one wholesale.
type Frame struct {
	Type                       string  `json:"type,omitempty"`
	Lines                      []Line  `json:"lines"`
	BufferTranscription        string  `json:"buffer_transcription"`
	BufferDiarization          string  `json:"buffer_diarization"`
	RemainingTimeTranscription float64 `json:"remaining_time_transcription"`
	RemainingTimeDiarization   float64 `json:"remaining_time_diarization"`
	Status                     string  `json:"status"`
}

// ReadyToStop reports whether f is the backend's finalization sentinel.
func (f Frame) ReadyToStop() bool { return f.Type == TypeReadyToStop }

// NoAudio reports whether the backend detected no audio.
func (f Frame) NoAudio() bool { return f.Status == StatusNoAudio }

// MalformedFrameError is returned by Parse for payloads that are not frames.
type MalformedFrameError struct {
	Size int
	Err  error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame (%d bytes): %v", e.Size, e.Err)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// Parse decodes a backend message.
func Parse(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &MalformedFrameError{Size: len(data), Err: err}
	}
	return f, nil
}

// View is what the presentation layer draws for one frame.
type View struct {
	Lines       []Line
	Placeholder string
	// Latency is the backend lag indicator; empty for final views.
	Latency string
	Final   bool
}

// Empty reports whether there is nothing to draw.
func (v View) Empty() bool { return len(v.Lines) == 0 && v.Placeholder == "" }

// Text joins the line texts, one per line.
func (v View) Text() string {
	if len(v.Lines) == 0 {
		return v.Placeholder
	}
	parts := make([]string, 0, len(v.Lines))
	for _, l := range v.Lines {
		if t := strings.TrimSpace(l.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// Reconcile merges the frame's buffers into its last line. final marks the
// result as permanent; interim results also carry the latency indicator.
func Reconcile(f Frame, final bool) View {
	if f.NoAudio() {
		return View{Placeholder: NoAudioPlaceholder, Final: final}
	}

	lines := make([]Line, len(f.Lines))
	copy(lines, f.Lines)
	if n := len(lines); n > 0 {
		lines[n-1].Text = joinNonEmpty(lines[n-1].Text, f.BufferDiarization, f.BufferTranscription)
	}

	v := View{Lines: lines, Final: final}
	if !final {
		v.Latency = latency(f)
	}
	return v
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func latency(f Frame) string {
	var parts []string
	if f.RemainingTimeTranscription > 0 {
		parts = append(parts, fmt.Sprintf("transcription lag: %gs", f.RemainingTimeTranscription))
	}
	if f.RemainingTimeDiarization > 0 {
		parts = append(parts, fmt.Sprintf("diarization lag: %gs", f.RemainingTimeDiarization))
	}
	return strings.Join(parts, " ")
}

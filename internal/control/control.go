package control

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Transcript is one entry of the transcript log.
type Transcript struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
}

// parseTranscript reads one tab-separated log line: timestamp, source,
// speaker badge and text.
func parseTranscript(line string) (Transcript, error) {
	parts := strings.SplitN(line, "\t", 4)
	if len(parts) != 4 {
		return Transcript{}, fmt.Errorf("malformed transcript entry %q", line)
	}
	ts, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		return Transcript{}, fmt.Errorf("transcript timestamp: %w", err)
	}
	return Transcript{Timestamp: ts, Source: parts[1], Speaker: parts[2], Text: parts[3]}, nil
}

// readTranscripts returns the last n parseable entries of the log at path.
// A missing log yields no entries.
func readTranscripts(path string, n int) ([]Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []Transcript
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t, err := parseTranscript(sc.Text())
		if err != nil {
			continue
		}
		out = append(out, t)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
	}
	return out, sc.Err()
}

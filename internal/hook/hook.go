// Package hook runs a user command with each finalized transcript or call
// recording.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"livescribe/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// ErrNoCommand is returned by Run when no hook.command is configured.
var ErrNoCommand = errors.New("no hook.command configured")

// Job represents a hook invocation request.
type Job struct {
	Text string
	// Source is "listen", "stream" or "call".
	Source string
	// AudioPath points at a saved call recording, if any.
	AudioPath string
	Timestamp time.Time
}

// Runner executes hooks with cooldown and prefix handling.
type Runner struct {
	cfg      *config.Config
	logger   *logrus.Logger
	lastRun  time.Time
	mu       sync.Mutex
	hostname string
}

func NewRunner(cfg *config.Config, logger *logrus.Logger) *Runner {
	host, _ := os.Hostname()
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		hostname: host,
	}
}

// Enabled reports whether a hook command is configured.
func (r *Runner) Enabled() bool {
	return strings.TrimSpace(r.cfg.Hook.Command) != ""
}

// ShouldRun returns whether cooldown allows a new hook.
func (r *Runner) ShouldRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Hook.CooldownSec <= 0 {
		return true
	}
	return time.Since(r.lastRun).Seconds() >= r.cfg.Hook.CooldownSec
}

// Run executes the configured command with the transcript as its last
// argument. Text is also exported as LIVESCRIBE_TEXT.
func (r *Runner) Run(ctx context.Context, job Job) error {
	if !r.Enabled() {
		return ErrNoCommand
	}
	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	prefix := strings.ReplaceAll(r.cfg.Hook.Prefix, "${hostname}", r.hostname)
	text := job.Text
	if r.cfg.Hook.RedactPII {
		text = redactPII(text)
	}
	args := append([]string{}, r.cfg.Hook.Args...)
	args = append(args, strings.TrimSpace(prefix+text))

	runCtx := ctx
	if r.cfg.Hook.TimeoutSec > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(float64(time.Second)*r.cfg.Hook.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, r.cfg.Hook.Command, args...)
	cmd.Env = os.Environ()
	for k, v := range r.cfg.Hook.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		"LIVESCRIBE_TEXT="+text,
		"LIVESCRIBE_PREFIX="+prefix,
		"LIVESCRIBE_SOURCE="+job.Source,
		"LIVESCRIBE_AUDIO="+job.AudioPath,
		"LIVESCRIBE_TIMESTAMP="+job.Timestamp.Format(time.RFC3339),
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("hook output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}

// ParseArgs allows Hook.Args to be configured as a single string.
func ParseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return shlex.Split(raw)
}

// ApplyCommandLine replaces the hook command and args with a shell-style
// command line such as `notify-send -a livescribe`.
func ApplyCommandLine(cfg *config.Config, line string) error {
	parts, err := ParseArgs(line)
	if err != nil {
		return fmt.Errorf("parse hook command: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("empty hook command")
	}
	cfg.Hook.Command = parts[0]
	cfg.Hook.Args = parts[1:]
	return nil
}

var (
	emailRE = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{6,}\d`)
)

func redactPII(s string) string {
	s = emailRE.ReplaceAllString(s, "[redacted-email]")
	s = phoneRE.ReplaceAllString(s, "[redacted-phone]")
	return s
}

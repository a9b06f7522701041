package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultURL           = "ws://localhost:8000/asr"
	DefaultChunkMS       = 1000
	defaultCallChunkMS   = 100
	defaultFinalizeSec   = 10.0
	defaultDialSec       = 5.0
	defaultStatusTail    = 10
	defaultStateDirLinux = ".local/state/livescribe"
	defaultConfigDir     = ".config/livescribe"
)

// ChunkOptions lists the recorder intervals offered in the settings panel.
var ChunkOptions = []int{500, 1000, 2000, 3000, 4000, 5000}

// Config holds user configuration loaded from TOML.
type Config struct {
	Server struct {
		URL            string  `toml:"url"`
		ChunkMS        int     `toml:"chunk_ms"`
		Encoding       string  `toml:"encoding"` // pcm, wav
		FinalizeSec    float64 `toml:"finalize_timeout_sec"`
		DialTimeoutSec float64 `toml:"dial_timeout_sec"`
	} `toml:"server"`

	Audio struct {
		DeviceName       string `toml:"device_name"`
		SampleRate       int    `toml:"sample_rate"`
		Channels         int    `toml:"channels"`
		FrameMS          int    `toml:"frame_ms"`
		EchoCancellation bool   `toml:"echo_cancellation"`
		NoiseSuppression bool   `toml:"noise_suppression"`
		AutoGain         bool   `toml:"auto_gain"`
	} `toml:"audio"`

	VAD struct {
		Aggressiveness int `toml:"aggressiveness"`
	} `toml:"vad"`

	Call struct {
		ChunkMS   int    `toml:"chunk_ms"`
		OutputDir string `toml:"output_dir"`
	} `toml:"call"`

	Hook struct {
		Command     string            `toml:"command"`
		Args        []string          `toml:"args"`
		Prefix      string            `toml:"prefix"`
		CooldownSec float64           `toml:"cooldown_sec"`
		TimeoutSec  float64           `toml:"timeout_sec"`
		Env         map[string]string `toml:"env"`
		RedactPII   bool              `toml:"redact_pii"`
	} `toml:"hook"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"` // mirror to stderr; stdout belongs to the UI
	} `toml:"logging"`

	Paths struct {
		StateDir       string `toml:"state_dir"`
		LogPath        string `toml:"log_path"`
		TranscriptPath string `toml:"transcript_path"`
		ConfigPath     string `toml:"-"`
	} `toml:"paths"`

	UI struct {
		Color      bool `toml:"color"`
		StatusTail int  `toml:"status_tail"`
	} `toml:"ui"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Transcripts struct {
		Enabled bool `toml:"enabled"`
	} `toml:"transcripts"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	// macOS prefers ~/Library/Application Support/livescribe for state/logs
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "livescribe")
	}

	cfg := &Config{}

	cfg.Server.URL = DefaultURL
	cfg.Server.ChunkMS = DefaultChunkMS
	cfg.Server.Encoding = "pcm"
	cfg.Server.FinalizeSec = defaultFinalizeSec
	cfg.Server.DialTimeoutSec = defaultDialSec

	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1
	cfg.Audio.FrameMS = 20
	cfg.Audio.EchoCancellation = true
	cfg.Audio.NoiseSuppression = true
	cfg.Audio.AutoGain = true

	cfg.VAD.Aggressiveness = 2

	cfg.Call.ChunkMS = defaultCallChunkMS
	cfg.Call.OutputDir = filepath.Join(stateDir, "calls")

	cfg.Hook.Prefix = ""
	cfg.Hook.CooldownSec = 0
	cfg.Hook.TimeoutSec = 5
	cfg.Hook.Env = map[string]string{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "livescribe.log")
	cfg.Paths.TranscriptPath = filepath.Join(stateDir, "transcripts.log")

	cfg.UI.Color = true
	cfg.UI.StatusTail = defaultStatusTail

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9318"

	cfg.Transcripts.Enabled = true

	return cfg, nil
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultPath()
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultConfigDir, "config.toml")
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// Validate reports settings the client cannot run with.
func (c *Config) Validate() error {
	if err := ValidateURL(c.Server.URL); err != nil {
		return err
	}
	if err := ValidateChunkMS(c.Server.ChunkMS); err != nil {
		return err
	}
	switch c.Server.Encoding {
	case "pcm", "wav":
	default:
		return fmt.Errorf("server.encoding must be pcm or wav (got %q)", c.Server.Encoding)
	}
	if c.Audio.Channels != 1 {
		return fmt.Errorf("only mono input supported; set audio.channels = 1")
	}
	if c.Audio.FrameMS != 10 && c.Audio.FrameMS != 20 && c.Audio.FrameMS != 30 {
		return fmt.Errorf("audio.frame_ms must be 10, 20, or 30 (got %d)", c.Audio.FrameMS)
	}
	switch c.Audio.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("sample_rate must be 8k/16k/32k/48k for webrtc VAD (got %d)", c.Audio.SampleRate)
	}
	return nil
}

// ValidateURL accepts ws:// and wss:// endpoints only.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid websocket url %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid websocket url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid websocket url %q: missing host", raw)
	}
	return nil
}

// ValidateChunkMS accepts one of ChunkOptions.
func ValidateChunkMS(ms int) error {
	for _, o := range ChunkOptions {
		if ms == o {
			return nil
		}
	}
	return fmt.Errorf("chunk interval %dms not one of %v", ms, ChunkOptions)
}

// ChunkInterval returns the recorder interval for live transcription.
func (c *Config) ChunkInterval() time.Duration {
	return time.Duration(c.Server.ChunkMS) * time.Millisecond
}

// FinalizeTimeout bounds how long a stop waits for the backend.
func (c *Config) FinalizeTimeout() time.Duration {
	return time.Duration(float64(time.Second) * c.Server.FinalizeSec)
}

// DialTimeout bounds the WebSocket handshake.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(float64(time.Second) * c.Server.DialTimeoutSec)
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.TranscriptPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIVESCRIBE_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("LIVESCRIBE_CHUNK_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Server.ChunkMS = ms
		}
	}
	if v := os.Getenv("LIVESCRIBE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("LIVESCRIBE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LIVESCRIBE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LIVESCRIBE_TRANSCRIPTS_ENABLED"); v != "" {
		cfg.Transcripts.Enabled = envBool(v)
	}
	if v := os.Getenv("LIVESCRIBE_REDACT_PII"); v != "" {
		cfg.Hook.RedactPII = envBool(v)
	}
}

func envBool(v string) bool {
	return v != "0" && strings.ToLower(v) != "false"
}

package config

import (
	"os"
	"testing"
)

func TestEnvOverrides(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = "/tmp/config" // avoid creation

	t.Setenv("LIVESCRIBE_URL", "wss://asr.example.com/asr")
	t.Setenv("LIVESCRIBE_CHUNK_MS", "2000")
	t.Setenv("LIVESCRIBE_METRICS_ADDR", "1.2.3.4:9999")
	t.Setenv("LIVESCRIBE_LOG_LEVEL", "debug")
	t.Setenv("LIVESCRIBE_LOG_FORMAT", "json")
	t.Setenv("LIVESCRIBE_TRANSCRIPTS_ENABLED", "false")

	applyEnvOverrides(cfg)

	if cfg.Server.URL != "wss://asr.example.com/asr" {
		t.Fatalf("url override failed: %q", cfg.Server.URL)
	}
	if cfg.Server.ChunkMS != 2000 {
		t.Fatalf("chunk override failed: %d", cfg.Server.ChunkMS)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "1.2.3.4:9999" {
		t.Fatalf("metrics override failed: %+v", cfg.Metrics)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging overrides failed: %+v", cfg.Logging)
	}
	if cfg.Transcripts.Enabled {
		t.Fatalf("transcripts should be disabled via env")
	}
}

func TestBadChunkEnvIgnored(t *testing.T) {
	cfg, _ := Default()
	t.Setenv("LIVESCRIBE_CHUNK_MS", "soon")
	applyEnvOverrides(cfg)
	if cfg.Server.ChunkMS != DefaultChunkMS {
		t.Fatalf("expected default chunk, got %d", cfg.Server.ChunkMS)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.toml"

	cfg, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cfg.Paths.ConfigPath = path
	cfg.Server.URL = "ws://10.0.0.2:8000/asr"
	cfg.Hook.Command = "/bin/echo"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.URL != "ws://10.0.0.2:8000/asr" {
		t.Fatalf("expected url to persist, got %q", loaded.Server.URL)
	}
	if loaded.Hook.Command != "/bin/echo" {
		t.Fatalf("expected hook command to persist")
	}
	if loaded.Paths.ConfigPath != path {
		t.Fatalf("config path not recorded: %q", loaded.Paths.ConfigPath)
	}

	_ = os.Remove(path)
}

func TestLoadWritesTemplate(t *testing.T) {
	path := t.TempDir() + "/nested/config.toml"
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.URL != DefaultURL {
		t.Fatalf("expected default url, got %q", cfg.Server.URL)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("template not written: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http scheme", func(c *Config) { c.Server.URL = "http://localhost:8000/asr" }},
		{"no host", func(c *Config) { c.Server.URL = "ws:///asr" }},
		{"odd chunk", func(c *Config) { c.Server.ChunkMS = 750 }},
		{"encoding", func(c *Config) { c.Server.Encoding = "webm" }},
		{"stereo", func(c *Config) { c.Audio.Channels = 2 }},
		{"frame", func(c *Config) { c.Audio.FrameMS = 25 }},
		{"rate", func(c *Config) { c.Audio.SampleRate = 44100 }},
	}
	for _, tc := range cases {
		c, _ := Default()
		tc.mutate(c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestChunkOptions(t *testing.T) {
	for _, ms := range ChunkOptions {
		if err := ValidateChunkMS(ms); err != nil {
			t.Fatalf("option %d rejected: %v", ms, err)
		}
	}
	cfg, _ := Default()
	if cfg.ChunkInterval().Milliseconds() != DefaultChunkMS {
		t.Fatalf("chunk interval mismatch: %v", cfg.ChunkInterval())
	}
}

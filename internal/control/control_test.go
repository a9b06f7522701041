package control

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"livescribe/internal/config"
	"livescribe/internal/mic"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadTranscriptsKeepsLastN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.log")
	writeFile(t, path, strings.Join([]string{
		"2026-01-02T10:00:00Z\tlisten\tSpeaker 1 0s - 1s\tfirst",
		"garbage line",
		"2026-01-02T10:00:05Z\tstream\tSpeaker 2 1s - 2s\tsecond\twith tab",
		"2026-01-02T10:00:09Z\tcall\t\tthird",
		"",
	}, "\n"))

	got, err := readTranscripts(path, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d", len(got))
	}
	if got[0].Source != "stream" || got[0].Text != "second\twith tab" || got[0].Speaker != "Speaker 2 1s - 2s" {
		t.Fatalf("first kept entry = %+v", got[0])
	}
	if got[1].Text != "third" || got[1].Timestamp.Second() != 9 {
		t.Fatalf("last entry = %+v", got[1])
	}
}

func TestReadTranscriptsMissingFile(t *testing.T) {
	got, err := readTranscripts(filepath.Join(t.TempDir(), "none.log"), 5)
	if err != nil || got != nil {
		t.Fatalf("missing log: %v %v", got, err)
	}
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "a\nb\n\nc\nd\n")
	var out bytes.Buffer
	if err := tailFile(&out, path, 2); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if out.String() != "c\nd\n" {
		t.Fatalf("tail = %q", out.String())
	}
}

func TestDeviceByIndex(t *testing.T) {
	devs := []mic.Device{{Index: 0, Name: "Built-in"}, {Index: 3, Name: "USB"}}
	if name, err := deviceByIndex(devs, 3); err != nil || name != "USB" {
		t.Fatalf("index 3: %q %v", name, err)
	}
	if _, err := deviceByIndex(devs, 1); err == nil {
		t.Fatalf("expected error for unknown index")
	}
}

func TestSetMicPersists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := setMic(path, "USB Audio"); err != nil {
		t.Fatalf("set: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audio.DeviceName != "USB Audio" {
		t.Fatalf("device = %q", cfg.Audio.DeviceName)
	}
}

func TestSessionFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	cmd := NewListenCmd(new(string))
	if err := cmd.Flags().Parse([]string{"--url", "wss://asr.example/asr", "--chunk", "2000", "--hook", "notify-send -a livescribe", "--metrics-addr", "127.0.0.1:9999"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := applySessionFlags(cmd, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Server.URL != "wss://asr.example/asr" || cfg.Server.ChunkMS != 2000 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Hook.Command != "notify-send" || strings.Join(cfg.Hook.Args, " ") != "-a livescribe" {
		t.Fatalf("hook = %q %v", cfg.Hook.Command, cfg.Hook.Args)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != "127.0.0.1:9999" {
		t.Fatalf("metrics = %+v", cfg.Metrics)
	}

	bad := NewStreamCmd(new(string))
	if err := bad.Flags().Parse([]string{"--chunk", "750"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := applySessionFlags(bad, cfg); err == nil {
		t.Fatalf("expected --chunk validation error")
	}
	bad = NewStreamCmd(new(string))
	_ = bad.Flags().Parse([]string{"--url", "http://x"})
	if err := applySessionFlags(bad, cfg); err == nil {
		t.Fatalf("expected --url validation error")
	}
}

func TestTranscriptsCmdJSON(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Paths.TranscriptPath = filepath.Join(dir, "transcripts.log")
	if err := config.Save(cfg, cfgPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	writeFile(t, cfg.Paths.TranscriptPath, "2026-01-02T10:00:00Z\tlisten\tSpeaker 1 0s - 1s\thello\n")

	cmd := NewTranscriptsCmd(&cfgPath)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	var got []Transcript
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("transcripts = %+v", got)
	}
}

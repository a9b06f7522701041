package doctor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"livescribe/internal/config"
	"livescribe/internal/logging"
	"livescribe/internal/mic"

	"github.com/coder/websocket"
)

func TestCheckHookExecutable(t *testing.T) {
	if r := checkHookExecutable(""); !r.Pass {
		t.Fatalf("empty hook should pass: %+v", r)
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "hook.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r := checkHookExecutable(script); r.Pass || !strings.Contains(r.Detail, "not executable") {
		t.Fatalf("non-executable script: %+v", r)
	}
	if err := os.Chmod(script, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if r := checkHookExecutable(script); !r.Pass {
		t.Fatalf("executable script: %+v", r)
	}
	if r := checkHookExecutable(dir + "/"); r.Pass {
		t.Fatalf("directory should fail: %+v", r)
	}
}

func TestCheckConfig(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if r := checkConfig(cfg); !r.Pass {
		t.Fatalf("default config: %+v", r)
	}
	cfg.Server.URL = "http://example.com"
	if r := checkConfig(cfg); r.Pass {
		t.Fatalf("http url should fail")
	}
}

func TestCheckStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	if r := checkStateDir(dir); !r.Pass {
		t.Fatalf("state dir: %+v", r)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("probe file left behind: %v", entries)
	}
}

func TestCheckInputDevices(t *testing.T) {
	r := checkInputDevices(func() ([]mic.Device, error) { return nil, errors.New("portaudio init: boom") })
	if r.Pass {
		t.Fatalf("error should fail")
	}
	r = checkInputDevices(func() ([]mic.Device, error) { return []mic.Device{}, nil })
	if r.Pass {
		t.Fatalf("no devices should fail")
	}
	r = checkInputDevices(func() ([]mic.Device, error) {
		return []mic.Device{{Name: "USB"}, {Name: "Built-in", Default: true}}, nil
	})
	if !r.Pass || !strings.Contains(r.Detail, `"Built-in"`) {
		t.Fatalf("devices: %+v", r)
	}
}

func TestCheckBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	logger := logging.NewTestLogger()
	if r := checkBackend(context.Background(), url, time.Second, logger); !r.Pass {
		t.Fatalf("reachable backend: %+v", r)
	}
	if r := checkBackend(context.Background(), "ws://127.0.0.1:1/asr", time.Second, logger); r.Pass {
		t.Fatalf("unreachable backend should fail")
	}
	if r := checkBackend(context.Background(), "not a url", time.Second, logger); r.Pass {
		t.Fatalf("invalid url should fail")
	}
}

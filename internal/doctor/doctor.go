package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"livescribe/internal/asrconn"
	"livescribe/internal/config"
	"livescribe/internal/mic"

	"github.com/sirupsen/logrus"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) []Result {
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
		checkConfig(cfg),
		checkStateDir(cfg.Paths.StateDir),
		checkHookExecutable(cfg.Hook.Command),
		checkPortAudioPkgConfig(),
		checkInputDevices(mic.List),
	}
	results = append(results, checkBackend(ctx, cfg.Server.URL, cfg.DialTimeout(), logger))
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkConfig(cfg *config.Config) Result {
	if err := cfg.Validate(); err != nil {
		return Result{Name: "config", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "config", Pass: true, Detail: fmt.Sprintf("%s, %dms chunks", cfg.Server.Encoding, cfg.Server.ChunkMS)}
}

func checkStateDir(dir string) Result {
	label := "state dir"
	if dir == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Result{Name: label, Pass: false, Detail: "not writable: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return Result{Name: label, Pass: true, Detail: filepath.Clean(dir)}
}

func checkHookExecutable(cmd string) Result {
	label := "hook.command"
	if cmd == "" {
		// The hook is optional for a transcription client.
		return Result{Name: label, Pass: true, Detail: "not set (hooks disabled)"}
	}
	path := os.ExpandEnv(cmd)
	// If contains a path separator, treat as explicit path.
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; set hook.command to an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkPortAudioPkgConfig() Result {
	pkg, err := exec.LookPath("pkg-config")
	if err != nil {
		return Result{Name: "pkg-config", Pass: false, Detail: "pkg-config not found (brew install pkg-config)"}
	}
	cmd := exec.Command(pkg, "--exists", "portaudio-2.0")
	if err := cmd.Run(); err != nil {
		return Result{Name: "portaudio", Pass: false, Detail: "portaudio-2.0 not found (brew install portaudio)"}
	}
	versionCmd := exec.Command(pkg, "--modversion", "portaudio-2.0")
	if out, err := versionCmd.Output(); err == nil {
		return Result{Name: "portaudio", Pass: true, Detail: strings.TrimSpace(string(out))}
	}
	return Result{Name: "portaudio", Pass: true, Detail: "found via pkg-config"}
}

func checkInputDevices(list func() ([]mic.Device, error)) Result {
	devs, err := list()
	if err != nil {
		return Result{Name: "microphone", Pass: false, Detail: err.Error()}
	}
	if len(devs) == 0 {
		return Result{Name: "microphone", Pass: false, Detail: "no input devices found"}
	}
	for _, d := range devs {
		if d.Default {
			return Result{Name: "microphone", Pass: true, Detail: fmt.Sprintf("%d input(s), default %q", len(devs), d.Name)}
		}
	}
	return Result{Name: "microphone", Pass: true, Detail: fmt.Sprintf("%d input(s)", len(devs))}
}

func checkBackend(ctx context.Context, url string, timeout time.Duration, logger *logrus.Logger) Result {
	label := "backend"
	if err := config.ValidateURL(url); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	c, err := asrconn.Dial(ctx, url, asrconn.Options{Logger: logger})
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	_ = c.Close()
	return Result{Name: label, Pass: true, Detail: url}
}

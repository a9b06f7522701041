package main

import (
	"fmt"
	"os"

	"livescribe/internal/control"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "livescribe",
		Short: "livescribe: live transcription client and voice-call widget",
		Long: `livescribe captures your microphone, streams it over a WebSocket to a speech
recognition backend (default ws://localhost:8000/asr) and renders the transcript
with speaker labels as it arrives. Finalized transcripts can be sent to a hook.

Key commands:
  listen [--url --chunk]    Live transcription (Enter toggles, s settings, q quits)
  stream <wav> [--fast]     Transcribe a WAV file through the backend
  call [--no-save]          Voice call widget (Enter start/end, m mute)
  mic list|set              Select microphone (alias: microphone, mics)
  doctor                    Check audio, backend, hook and config
  transcripts|tail-log      Recent transcripts, log tail
  test-hook|config          Manual hook, config path/show

Notable flags/env:
  --metrics-addr <addr>     Enable /metrics (Prometheus text)
  --hook "<cmd args>"       Run a command with each finalized transcript
  Env overrides: LIVESCRIBE_URL, LIVESCRIBE_CHUNK_MS, LIVESCRIBE_METRICS_ADDR,
                 LIVESCRIBE_LOG_LEVEL/FORMAT, LIVESCRIBE_TRANSCRIPTS_ENABLED,
                 LIVESCRIBE_REDACT_PII`,
		Example: `  livescribe listen --url ws://localhost:8000/asr --chunk 1000
  livescribe stream meeting.wav --fast
  livescribe call --output-dir ~/calls
  livescribe mic set --index 1
  livescribe listen --hook "notify-send livescribe" --metrics-addr 127.0.0.1:9318
  livescribe test-hook "hello world"`,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("livescribe v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/livescribe/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(control.NewListenCmd(cfgPath))
	root.AddCommand(control.NewStreamCmd(cfgPath))
	root.AddCommand(control.NewCallCmd(cfgPath))
	root.AddCommand(control.NewMicCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewTranscriptsCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewTestHookCmd(cfgPath))
	root.AddCommand(control.NewConfigCmd(cfgPath))

	applyColorHelp(root)

	return root.Execute()
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		// Subcommands keep cobra's help so their flags are listed.
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%slivescribe%s live transcription client %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sStreams your mic to a WebSocket ASR backend and renders speaker-labelled transcripts.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  livescribe [command] [flags]\n\n")

		write("%sKey commands%s\n", bold, reset)
		writeln("  listen                      live transcription (Enter toggles, s settings, q quits)")
		writeln("  stream <wav> [--fast]       transcribe a WAV file through the backend")
		writeln("  call [--no-save]            voice call widget (Enter start/end, m mute)")
		writeln("  mic list|set                select input device (alias: microphone, mics)")
		writeln("  doctor                      check audio/backend/hook/config")
		writeln("  transcripts [--json]        recent finalized transcripts")
		writeln("  tail-log                    show last log lines")
		writeln("  test-hook \"text\"            invoke hook manually")
		writeln("  config path|show            config location / effective values")
		writeln("")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --url <ws-url>          backend endpoint (default ws://localhost:8000/asr)")
		writeln("  --chunk <ms>            recorder interval: 500, 1000, 2000, 3000, 4000, 5000")
		writeln("  --hook \"<cmd args>\"     run a command with each finalized transcript")
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus)")
		writeln("  -c, --config <path>     config file (default ~/.config/livescribe/config.toml)")
		writeln("  Env: LIVESCRIBE_URL=wss://host/asr, LIVESCRIBE_CHUNK_MS=2000,")
		writeln("       LIVESCRIBE_METRICS_ADDR=host:port, LIVESCRIBE_LOG_LEVEL=debug,")
		writeln("       LIVESCRIBE_LOG_FORMAT=json, LIVESCRIBE_TRANSCRIPTS_ENABLED=0, LIVESCRIBE_REDACT_PII=1")
		writeln("")

		write("%sExamples%s\n", bold, reset)
		writeln("  livescribe listen --url ws://localhost:8000/asr --chunk 1000")
		writeln("  livescribe stream meeting.wav --fast")
		writeln("  livescribe call --output-dir ~/calls")
		writeln("  livescribe mic list")
		writeln("  livescribe mic set --index 1")
		writeln("  livescribe listen --hook \"notify-send livescribe\" --metrics-addr 127.0.0.1:9318")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}

package control

import (
	"fmt"
	"os"

	"livescribe/internal/config"
	"livescribe/internal/hook"
	"livescribe/internal/run"

	"github.com/spf13/cobra"
)

// NewListenCmd runs live transcription from the microphone.
func NewListenCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Live transcription from the microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*cfgPath)
			if err != nil {
				return err
			}
			if err := applySessionFlags(cmd, cfg); err != nil {
				return err
			}
			autoStart, _ := cmd.Flags().GetBool("start")
			return run.Listen(cmd.Context(), cfg, logger, run.ListenOptions{
				In:        os.Stdin,
				Out:       cmd.OutOrStdout(),
				Live:      liveOutput(cmd),
				AutoStart: autoStart,
			})
		},
	}
	addSessionFlags(cmd)
	cmd.Flags().Bool("start", false, "start recording immediately")
	return cmd
}

// NewStreamCmd transcribes a WAV file through the backend.
func NewStreamCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <wavfile>",
		Short: "Stream a WAV file to the backend and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*cfgPath)
			if err != nil {
				return err
			}
			if err := applySessionFlags(cmd, cfg); err != nil {
				return err
			}
			fast, _ := cmd.Flags().GetBool("fast")
			return run.Stream(cmd.Context(), cfg, logger, args[0], fast, cmd.OutOrStdout())
		},
	}
	addSessionFlags(cmd)
	cmd.Flags().Bool("fast", false, "send as fast as possible instead of real-time pace")
	return cmd
}

// NewCallCmd runs the voice-call widget.
func NewCallCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Voice call widget with mute and level meter",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*cfgPath)
			if err != nil {
				return err
			}
			if err := applyHookFlags(cmd, cfg); err != nil {
				return err
			}
			noSave, _ := cmd.Flags().GetBool("no-save")
			if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
				cfg.Call.OutputDir = dir
			}
			return run.Call(cmd.Context(), cfg, logger, run.CallOptions{
				In:   os.Stdin,
				Out:  cmd.OutOrStdout(),
				Live: liveOutput(cmd),
				Save: !noSave,
			})
		},
	}
	addHookFlags(cmd)
	cmd.Flags().Bool("no-save", false, "do not write call recordings")
	cmd.Flags().String("output-dir", "", "directory for call recordings (overrides call.output_dir)")
	cmd.Flags().Bool("plain", false, "append status lines instead of redrawing the screen")
	return cmd
}

func addHookFlags(cmd *cobra.Command) {
	cmd.Flags().String("hook", "", "hook command line run with each transcript, e.g. \"notify-send livescribe\"")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus /metrics on this address")
}

func addSessionFlags(cmd *cobra.Command) {
	addHookFlags(cmd)
	cmd.Flags().String("url", "", "backend WebSocket URL (overrides server.url)")
	cmd.Flags().Int("chunk", 0, "recorder chunk interval in ms: "+fmt.Sprint(config.ChunkOptions))
	cmd.Flags().Bool("plain", false, "append status lines instead of redrawing the screen")
}

func applyHookFlags(cmd *cobra.Command, cfg *config.Config) error {
	if line, _ := cmd.Flags().GetString("hook"); line != "" {
		if err := hook.ApplyCommandLine(cfg, line); err != nil {
			return err
		}
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = addr
	}
	return nil
}

func applySessionFlags(cmd *cobra.Command, cfg *config.Config) error {
	if err := applyHookFlags(cmd, cfg); err != nil {
		return err
	}
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		if err := config.ValidateURL(u); err != nil {
			return err
		}
		cfg.Server.URL = u
	}
	if ms, _ := cmd.Flags().GetInt("chunk"); ms != 0 {
		if err := config.ValidateChunkMS(ms); err != nil {
			return fmt.Errorf("--chunk: %w", err)
		}
		cfg.Server.ChunkMS = ms
	}
	return nil
}

// liveOutput redraws only when stdout is a terminal and --plain is unset.
func liveOutput(cmd *cobra.Command) bool {
	if plain, _ := cmd.Flags().GetBool("plain"); plain {
		return false
	}
	if cmd.OutOrStdout() != os.Stdout {
		return false
	}
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

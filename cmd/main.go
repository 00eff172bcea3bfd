// Package main is the production entry point for the audio visualizer.
//
// The visualizer layers audio-reactive renderers (gradient, equalizer,
// spotlights, generated artwork) onto a single canvas:
// - Event-driven communication between the engine and the UI
// - Dependency injection for testability
// - MVP pattern for UI decoupling
// - Headless mode for rendering without a window
//
// Build:
//
//	go build -o build/audiovis ./cmd
//	go build -tags portaudio -o build/audiovis ./cmd
//
// Run:
//
//	./build/audiovis --mode combined
//	./build/audiovis --headless --duration 10s --snapshot frame.png
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tejashwikalptaru/audiovis/internal/app"
	"github.com/tejashwikalptaru/audiovis/internal/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	config := app.DefaultConfig()
	var (
		audio    string
		logLevel string
	)

	runE := func(cmd *cobra.Command, _ []string) error {
		if logLevel != "" {
			level, ok := logger.ParseLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			config.LogLevel = level
		}
		config.Audio = app.AudioInput(audio)
		return run(cmd.Context(), config)
	}

	// Without a subcommand the root behaves like "run"
	root := &cobra.Command{
		Use:           "audiovis",
		Short:         "Audio-reactive visualizer",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runE,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&config.Mode, "mode", "", "visualization mode (gradient, equalizer, spotlight, ai-image, combined)")
	flags.Float64Var(&config.TargetFPS, "fps", 0, "target frame rate")
	flags.Float64Var(&config.Sensitivity, "sensitivity", 0, "audio sensitivity multiplier")
	flags.StringVar(&config.Background, "background", "", "background image file or data URL")
	flags.StringVar(&config.AIConfigPath, "ai-config", "", "JSON file with palette and renderer tuning")
	flags.StringVar(&audio, "audio", string(app.AudioSynthetic), "audio input (synthetic, capture)")
	flags.Float64Var(&config.BPM, "bpm", config.BPM, "tempo of the synthetic source")
	flags.StringVar(&config.Device, "device", "", "capture device name (substring match)")
	flags.BoolVar(&config.NoGenerator, "no-generator", false, "disable generated artwork")
	flags.BoolVar(&config.Headless, "headless", false, "render without a window")
	flags.IntVar(&config.Width, "width", config.Width, "headless surface width")
	flags.IntVar(&config.Height, "height", config.Height, "headless surface height")
	flags.DurationVar(&config.Duration, "duration", 0, "stop a headless run after this long")
	flags.StringVar(&config.SnapshotPath, "snapshot", "", "write the last frame to this PNG on exit")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format (text, json)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the visualizer",
		Args:  cobra.NoArgs,
		RunE:  runE,
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.GetVersionInfo().FullString())
		},
	})
	return root
}

func run(ctx context.Context, config app.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create the application with dependency injection
	application, err := app.NewApplication(config)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Ensure a graceful shutdown
	defer func() {
		start := time.Now()
		if err := application.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "Shutdown complete in %s\n", time.Since(start).Round(time.Millisecond))
	}()

	// Blocks until the window closes or the headless run ends
	return application.Run(ctx)
}

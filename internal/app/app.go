// Package app provides application-level orchestration and dependency injection.
// This package wires together all components and manages the application lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/audio/analysis"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/audio/portaudio"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/audio/synthetic"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/imaging"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/raster"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/scheduler"
	fyneui "github.com/tejashwikalptaru/audiovis/internal/adapter/ui/fyne"
	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/logger"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
	"github.com/tejashwikalptaru/audiovis/internal/service"
)

// AudioInput selects where audio frames come from.
type AudioInput string

// Supported audio inputs.
const (
	AudioSynthetic AudioInput = "synthetic"
	AudioCapture   AudioInput = "capture"
)

// Application is the root application structure that holds all dependencies.
// It follows the Dependency Injection pattern with constructor-based injection.
//
// The Application struct is responsible for:
// - Creating and wiring all dependencies
// - Managing the application lifecycle (startup, shutdown)
// - Providing a clean entry point for main.go
type Application struct {
	config Config

	// Core dependencies
	logger  *slog.Logger
	fyneApp fyne.App

	// Infrastructure
	eventBus  *eventbus.SyncEventBus
	surface   *raster.Surface
	scheduler ports.FrameScheduler
	source    ports.AudioSource

	// Services
	engine   *service.VisualizationEngine
	settings *service.SettingsService

	// UI (nil when headless)
	presenter  *fyneui.Presenter
	mainWindow *fyneui.MainWindow

	// Audio pump
	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup

	mu           sync.Mutex
	shutdownErr  error
	shutdownOnce sync.Once
}

// Config holds application configuration.
type Config struct {
	// AppID is the unique application identifier (also keys the preferences store)
	AppID string

	// AppName is the display name
	AppName string

	// Mode overrides the saved visualization mode when set
	Mode string

	// TargetFPS and Sensitivity override the saved values when positive
	TargetFPS   float64
	Sensitivity float64

	// Background is loaded as the background image at startup when set
	Background string

	// AIConfigPath points at a JSON file of provider parameters applied at startup
	AIConfigPath string

	// Audio selects the frame source
	Audio AudioInput

	// BPM of the synthetic signal
	BPM float64

	// Device selects the capture input by name (empty picks the best one)
	Device string

	// NoGenerator disables the procedural image generator
	NoGenerator bool

	// Headless renders without a window, driven by a ticker
	Headless bool

	// Width and Height size the surface in headless mode
	Width  int
	Height int

	// Duration stops a headless run after this long (0 runs until cancelled)
	Duration time.Duration

	// SnapshotPath receives the last frame as PNG on shutdown when set
	SnapshotPath string

	// LogLevel and LogFormat control logging
	LogLevel  slog.Level
	LogFormat string

	// TestFyneApp allows injecting a test Fyne app for testing (nil for production)
	TestFyneApp fyne.App

	// AudioSource replaces the configured source (tests)
	AudioSource ports.AudioSource
}

// DefaultConfig returns the default application configuration.
func DefaultConfig() Config {
	loggerCfg := logger.DefaultConfig()
	return Config{
		AppID:     "com.audiovis.app",
		AppName:   "Audio Visualizer",
		Audio:     AudioSynthetic,
		BPM:       120,
		Width:     960,
		Height:    540,
		LogLevel:  loggerCfg.Level,
		LogFormat: loggerCfg.Format,
	}
}

// NewApplication creates a new application with all dependencies wired.
// This is the main dependency injection function.
func NewApplication(config Config) (*Application, error) {
	app := &Application{config: config}

	// Step 1: Create logger
	app.logger = logger.NewLogger(logger.Config{
		Level:  config.LogLevel,
		Format: config.LogFormat,
	})
	app.logger.Info("initializing application",
		slog.String("app_id", config.AppID),
		slog.String("version", GetVersionInfo().FullString()),
		slog.Bool("headless", config.Headless))

	// Step 2: Create Fyne application (preferences back the settings store)
	if config.TestFyneApp != nil {
		app.fyneApp = config.TestFyneApp
	} else {
		app.fyneApp = fyneapp.NewWithID(config.AppID)
	}

	// Step 3: Create an event bus
	app.eventBus = eventbus.NewSyncEventBus(app.logger)

	// Step 4: Create the surface and the frame scheduler
	width, height := config.Width, config.Height
	if !config.Headless {
		width, height = fyneui.WIDTH, fyneui.HEIGHT
	}
	app.surface = raster.NewSurface(app.logger, width, height)
	if config.Headless {
		app.scheduler = scheduler.NewTicker(app.logger, scheduler.DefaultTickRate)
	} else {
		app.scheduler = fyneui.NewAnimationScheduler()
	}

	// Step 5: Create the settings service
	app.settings = service.NewSettingsService(
		app.logger,
		memory.NewSettingsRepository(app.fyneApp.Preferences()),
		app.eventBus,
	)

	// Step 6: Create and initialize the engine
	opts := service.DefaultEngineOptions()
	opts.Scheduler = app.scheduler
	opts.Loader = imaging.NewLoader(app.logger)
	opts.Bus = app.eventBus
	if !config.NoGenerator {
		opts.AIImage.Generator = imaging.NewProceduralGenerator(app.logger)
	}
	app.engine = service.NewVisualizationEngine(app.logger, opts)

	if err := app.engine.Initialize(app.surface); err != nil {
		app.teardown()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Step 7: Restore saved settings, then apply overrides
	if err := app.settings.Restore(app.engine); err != nil {
		// Non-fatal - just log and continue
		app.logger.Warn("failed to restore settings", slog.Any("error", err))
	}
	if err := app.applyOverrides(); err != nil {
		app.teardown()
		return nil, err
	}

	// Step 8: Create the audio source
	source, err := app.openSource()
	if err != nil {
		app.teardown()
		return nil, fmt.Errorf("failed to open audio source: %w", err)
	}
	app.source = source

	// Step 9: Create UI and Presenter
	if !config.Headless {
		app.mainWindow = fyneui.NewMainWindow(app.fyneApp, app.surface, app.logger)
		app.presenter = fyneui.NewPresenter(
			app.logger,
			app.engine,
			app.settings,
			app.eventBus,
			app.mainWindow,
		)
		app.mainWindow.SetPresenter(app.presenter)
		app.surface.SetOnFlush(app.mainWindow.Visualizer().FrameReady)

		// Save before the window closes so settings survive Cmd+Q
		app.mainWindow.SetOnBeforeClose(func() {
			if err := app.settings.Save(); err != nil {
				app.logger.Warn("failed to save settings on close", slog.Any("error", err))
			}
		})
	}

	return app, nil
}

// applyOverrides applies the command-line values on top of the saved settings.
func (a *Application) applyOverrides() error {
	if a.config.Mode != "" {
		mode, err := domain.ParseMode(a.config.Mode)
		if err != nil {
			return err
		}
		if err := a.engine.SetMode(mode); err != nil {
			return err
		}
	}

	var patch domain.ConfigPatch
	if a.config.TargetFPS > 0 {
		patch.TargetFPS = &a.config.TargetFPS
	}
	if a.config.Sensitivity > 0 {
		patch.Sensitivity = &a.config.Sensitivity
	}
	if patch != (domain.ConfigPatch{}) {
		if err := a.engine.SetConfig(patch); err != nil {
			return err
		}
	}

	if a.config.AIConfigPath != "" {
		data, err := os.ReadFile(a.config.AIConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read ai config: %w", err)
		}
		cfg, err := domain.ParseAIConfig(data)
		if err != nil {
			return fmt.Errorf("failed to parse ai config: %w", err)
		}
		if err := a.engine.ApplyAIConfig(cfg); err != nil {
			return err
		}
	}
	return nil
}

// openSource builds the configured audio source.
func (a *Application) openSource() (ports.AudioSource, error) {
	if a.config.AudioSource != nil {
		return a.config.AudioSource, nil
	}

	switch a.config.Audio {
	case AudioCapture:
		return portaudio.Open(a.logger, portaudio.Config{DeviceName: a.config.Device}, analysis.DefaultConfig())
	case AudioSynthetic, "":
		opts := synthetic.DefaultOptions()
		if a.config.BPM > 0 {
			opts.BPM = a.config.BPM
		}
		return synthetic.NewSource(a.logger, opts), nil
	default:
		return nil, fmt.Errorf("unknown audio input %q", a.config.Audio)
	}
}

// Start starts the frame loop, the audio pump and the startup background load.
func (a *Application) Start() error {
	if err := a.engine.StartRendering(); err != nil {
		return fmt.Errorf("failed to start rendering: %w", err)
	}
	a.startPump()

	if a.config.Background != "" {
		result := a.engine.SetBackgroundImageAsync(context.Background(), a.config.Background)
		go func() {
			if err := <-result; err != nil {
				a.logger.Warn("startup background failed", slog.Any("error", err))
			}
		}()
	}
	return nil
}

// Run starts the application and blocks until it should exit.
// Windowed runs end when the window closes; headless runs end when ctx is
// cancelled or the configured duration elapses.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	a.logger.Info("audio visualizer started")

	if a.mainWindow != nil {
		a.mainWindow.ShowAndRun()
		return nil
	}

	if a.config.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Duration)
		defer cancel()
	}
	<-ctx.Done()
	return nil
}

// startPump feeds audio frames to the engine at the target frame rate.
func (a *Application) startPump() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.pumpCancel = cancel
	a.mu.Unlock()

	interval := time.Duration(float64(time.Second) / a.engine.Config().TargetFPS)
	log := a.logger.With(slog.String("component", "audio_pump"))

	a.pumpWG.Add(1)
	go func() {
		defer a.pumpWG.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case ts := <-ticker.C:
				frame, err := a.source.Next(ts.Sub(last))
				last = ts
				if errors.Is(err, domain.ErrSourceClosed) {
					log.Debug("audio source closed")
					return
				}
				if err != nil {
					log.Warn("audio frame failed", slog.Any("error", err))
					continue
				}
				if err := a.engine.UpdateAudioData(frame); err != nil {
					log.Debug("engine rejected frame", slog.Any("error", err))
					return
				}
			}
		}
	}()
}

// stopPump stops the audio pump and waits for it to exit.
func (a *Application) stopPump() {
	a.mu.Lock()
	cancel := a.pumpCancel
	a.pumpCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.pumpWG.Wait()
}

// Shutdown gracefully shuts down the application.
// It's safe to call multiple times; later calls return the first result.
func (a *Application) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down application")

		var errs []error
		a.stopPump()
		if err := a.engine.StopRendering(); err != nil && !errors.Is(err, domain.ErrNotInitialized) {
			errs = append(errs, err)
		}
		if a.config.SnapshotPath != "" {
			if err := a.writeSnapshot(a.config.SnapshotPath); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.settings.Save(); err != nil {
			errs = append(errs, fmt.Errorf("failed to save settings: %w", err))
		}
		if a.source != nil {
			if err := a.source.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close audio source: %w", err))
			}
		}
		a.teardown()

		a.mu.Lock()
		a.shutdownErr = errors.Join(errs...)
		a.mu.Unlock()
		a.logger.Info("application shutdown complete")
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdownErr
}

// teardown releases everything NewApplication created, in reverse order.
func (a *Application) teardown() {
	if a.presenter != nil {
		a.presenter.Shutdown()
	}
	if a.settings != nil {
		a.settings.Shutdown()
	}
	if a.engine != nil {
		a.engine.Cleanup()
	}
	if a.surface != nil {
		a.surface.Close()
	}
	if a.eventBus != nil {
		_ = a.eventBus.Close()
	}
	if a.config.Audio == AudioCapture && a.config.AudioSource == nil {
		portaudio.Terminate()
	}
}

// writeSnapshot stores the last flushed frame as a PNG file.
func (a *Application) writeSnapshot(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	if err := png.Encode(f, a.surface.Snapshot()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	a.logger.Info("snapshot written", slog.String("path", path), slog.Uint64("frames", a.surface.Frames()))
	return f.Close()
}

// Engine returns the visualization engine.
func (a *Application) Engine() *service.VisualizationEngine {
	return a.engine
}

// Settings returns the settings service.
func (a *Application) Settings() *service.SettingsService {
	return a.settings
}

// GetEventBus returns the event bus.
func (a *Application) GetEventBus() ports.EventBus {
	return a.eventBus
}

// GetFyneApp returns the Fyne application.
func (a *Application) GetFyneApp() fyne.App {
	return a.fyneApp
}

// Surface returns the raster surface the engine draws into.
func (a *Application) Surface() *raster.Surface {
	return a.surface
}

// Package fyne provides Fyne UI adapter implementations.
// This package implements the visualizer window, the surface widget and an
// animation-driven frame scheduler using the Fyne toolkit.
package fyne

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
	"github.com/tejashwikalptaru/audiovis/internal/service"
)

// Presenter implements the Presenter pattern (MVP architecture).
// It coordinates between the engine and the view, handling all event-driven updates.
//
// Responsibilities:
// - Subscribe to engine events on the event bus
// - Map domain events to view updates
// - Translate view commands to engine calls
//
// Thread-safety: All operations are thread-safe via sync.Mutex.
type Presenter struct {
	// Dependencies
	logger *slog.Logger

	// Services (injected)
	engine   *service.VisualizationEngine
	settings *service.SettingsService

	// EventBus for subscriptions
	EventBus ports.EventBus

	// View
	view ports.VisualizerView

	// ctx bounds background loads started from the view
	ctx    context.Context
	cancel context.CancelFunc

	// Presentation state
	mu       sync.Mutex
	subs     []domain.SubscriptionID
	failures int

	shutdownOnce sync.Once
}

// NewPresenter creates a new presenter. settings may be nil.
func NewPresenter(
	logger *slog.Logger,
	engine *service.VisualizationEngine,
	settings *service.SettingsService,
	eventBus ports.EventBus,
	view ports.VisualizerView,
) *Presenter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Presenter{
		logger:   logger.With(slog.String("component", "presenter")),
		engine:   engine,
		settings: settings,
		EventBus: eventBus,
		view:     view,
		ctx:      ctx,
		cancel:   cancel,
	}

	p.subscribeToEvents()
	p.syncInitialState()
	return p
}

// subscribeToEvents subscribes to all relevant events from the event bus.
func (p *Presenter) subscribeToEvents() {
	if p.EventBus == nil {
		return
	}
	subscriptions := map[domain.EventType]domain.EventHandler{
		domain.EventModeChanged:       p.onModeChanged,
		domain.EventLayerEnabled:      p.onLayerToggled,
		domain.EventLayerDisabled:     p.onLayerToggled,
		domain.EventConfigChanged:     p.onConfigChanged,
		domain.EventBackgroundLoaded:  p.onBackgroundLoaded,
		domain.EventBackgroundFailed:  p.onBackgroundFailed,
		domain.EventBackgroundCleared: p.onBackgroundCleared,
		domain.EventRenderingStarted:  p.onRenderingStarted,
		domain.EventRenderingStopped:  p.onRenderingStopped,
		domain.EventLayerRenderFailed: p.onLayerRenderFailed,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for eventType, handler := range subscriptions {
		p.subs = append(p.subs, p.EventBus.Subscribe(eventType, handler))
	}
}

// syncInitialState brings the view in line with the engine.
func (p *Presenter) syncInitialState() {
	cfg := p.engine.Config()
	p.view.SetMode(p.engine.CurrentMode())
	p.view.SetLayers(p.engine.EnabledLayers())
	p.view.SetSensitivity(cfg.Sensitivity)
	p.view.SetBackground(p.engine.BackgroundSource())
	rendering := p.engine.IsRendering()
	p.view.SetRendering(rendering)
	if rendering {
		p.view.SetStatus(fmt.Sprintf("Rendering at %.0f fps", cfg.TargetFPS))
	} else {
		p.view.SetStatus("Stopped")
	}
}

// Event handlers

func (p *Presenter) onModeChanged(event domain.Event) {
	e, ok := event.(domain.ModeChangedEvent)
	if !ok {
		return
	}
	p.view.SetMode(e.Current)
	p.view.SetLayers(e.Layers)
}

func (p *Presenter) onLayerToggled(event domain.Event) {
	if _, ok := event.(domain.LayerToggledEvent); !ok {
		return
	}
	p.view.SetLayers(p.engine.EnabledLayers())
}

func (p *Presenter) onConfigChanged(event domain.Event) {
	e, ok := event.(domain.ConfigChangedEvent)
	if !ok {
		return
	}
	p.view.SetSensitivity(e.Config.Sensitivity)
}

func (p *Presenter) onBackgroundLoaded(event domain.Event) {
	e, ok := event.(domain.BackgroundLoadedEvent)
	if !ok {
		return
	}
	p.view.SetBackground(e.Source)
	p.view.SetStatus(fmt.Sprintf("Background %dx%d loaded", e.Width, e.Height))
}

func (p *Presenter) onBackgroundFailed(event domain.Event) {
	e, ok := event.(domain.BackgroundFailedEvent)
	if !ok {
		return
	}
	p.view.ShowError("Background Image", e.Error)
}

func (p *Presenter) onBackgroundCleared(domain.Event) {
	p.view.SetBackground("")
}

func (p *Presenter) onRenderingStarted(event domain.Event) {
	e, ok := event.(domain.RenderingStartedEvent)
	if !ok {
		return
	}
	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()
	p.view.SetRendering(true)
	p.view.SetStatus(fmt.Sprintf("Rendering at %.0f fps", e.TargetFPS))
}

func (p *Presenter) onRenderingStopped(event domain.Event) {
	e, ok := event.(domain.RenderingStoppedEvent)
	if !ok {
		return
	}
	p.view.SetRendering(false)
	p.view.SetStatus(fmt.Sprintf("Stopped after %d frames", e.FramesRendered))
}

func (p *Presenter) onLayerRenderFailed(event domain.Event) {
	e, ok := event.(domain.LayerRenderFailedEvent)
	if !ok {
		return
	}
	p.mu.Lock()
	p.failures++
	n := p.failures
	p.mu.Unlock()

	// the engine already logged the failure; only the first one is surfaced
	if n == 1 {
		p.view.SetStatus(fmt.Sprintf("Render error: %v", e.Error))
	}
}

// View command handlers (called by the view)

// OnModeSelected switches the visualization mode.
func (p *Presenter) OnModeSelected(mode domain.Mode) {
	if mode == p.engine.CurrentMode() {
		return
	}
	if err := p.engine.SetMode(mode); err != nil {
		p.logger.Error("mode change failed", slog.String("mode", string(mode)), slog.Any("error", err))
		p.view.ShowError("Mode", err)
	}
}

// OnNextMode cycles to the mode after the current one.
func (p *Presenter) OnNextMode() {
	modes := domain.Modes()
	i := slices.Index(modes, p.engine.CurrentMode())
	p.OnModeSelected(modes[(i+1)%len(modes)])
}

// OnLayerToggled enables or disables one layer.
func (p *Presenter) OnLayerToggled(layer domain.Layer, enabled bool) {
	var err error
	if enabled {
		err = p.engine.EnableLayer(layer)
	} else {
		err = p.engine.DisableLayer(layer)
	}
	if err != nil {
		p.logger.Error("layer toggle failed", slog.String("layer", string(layer)), slog.Any("error", err))
		p.view.ShowError("Layer", err)
	}
}

// OnSensitivityChanged handles sensitivity slider changes.
func (p *Presenter) OnSensitivityChanged(sensitivity float64) {
	if sensitivity == p.engine.Config().Sensitivity {
		return
	}
	if err := p.engine.SetConfig(domain.ConfigPatch{Sensitivity: &sensitivity}); err != nil {
		p.logger.Error("sensitivity change failed", slog.Any("error", err))
		p.view.ShowError("Sensitivity", err)
	}
}

// OnBackgroundChosen loads src as the background without blocking the caller.
// The outcome reaches the view through the background events.
func (p *Presenter) OnBackgroundChosen(src string) <-chan error {
	p.view.SetStatus("Loading background…")
	return p.engine.SetBackgroundImageAsync(p.ctx, src)
}

// OnClearBackground removes the background image.
func (p *Presenter) OnClearBackground() {
	if err := p.engine.ClearBackgroundImage(); err != nil {
		p.view.ShowError("Background Image", err)
	}
}

// OnGenerateImage asks the AI image layer for a new image.
func (p *Presenter) OnGenerateImage() {
	started, err := p.engine.RequestAIImage()
	if err != nil {
		p.view.ShowError("Image Generation", err)
		return
	}
	if !started {
		p.view.ShowNotification("Image Generation", "Image generation is unavailable right now")
		return
	}
	p.view.SetStatus("Generating image…")
}

// OnToggleRendering starts or stops the frame loop.
func (p *Presenter) OnToggleRendering() {
	var err error
	if p.engine.IsRendering() {
		err = p.engine.StopRendering()
	} else {
		err = p.engine.StartRendering()
	}
	if err != nil {
		p.logger.Error("toggle rendering failed", slog.Any("error", err))
		p.view.ShowError("Rendering", err)
	}
}

// OnResetSettings restores the default settings and applies them.
func (p *Presenter) OnResetSettings() {
	if p.settings == nil {
		return
	}
	err := p.settings.Reset()
	if err == nil {
		err = p.settings.Restore(p.engine)
	}
	if err != nil {
		p.logger.Error("reset settings failed", slog.Any("error", err))
		p.view.ShowError("Settings", err)
		return
	}
	p.view.ShowNotification("Settings", "Defaults restored")
}

// Shutdown cleans up resources.
// It's safe to call multiple times (idempotent).
func (p *Presenter) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.cancel()

		p.mu.Lock()
		subs := p.subs
		p.subs = nil
		p.mu.Unlock()

		for _, id := range subs {
			p.EventBus.Unsubscribe(id)
		}
	})
}

// Package service provides the visualization engine and its supporting services.
package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
	"github.com/tejashwikalptaru/audiovis/internal/renderer"
)

// backgroundOverlayAlpha darkens a loaded background so foreground layers stay legible.
const backgroundOverlayAlpha = 0.4

// Capabilities the engine forwards configuration to. Renderers that lack one
// simply do not receive the matching parameters.
type (
	speedMultiplierSetter interface {
		SetSpeedMultiplier(v float64) float64
	}
	barConfigurer interface {
		SetBarCount(n int) int
		SetSmoothing(s float64) float64
	}
	lightConfigurer interface {
		SetLightCount(n int) int
		SetSpeed(v float64) float64
		RadiusRange() (float64, float64)
		SetRadiusRange(minRadius, maxRadius float64) (float64, float64)
	}
	backdropReceiver interface {
		SetBackgroundImage(img image.Image)
	}
	imageConfigurer interface {
		SetOpacity(v float64) float64
		SetBlendMode(mode domain.BlendMode)
		SetUpdateInterval(d time.Duration) time.Duration
	}
	generationRequester interface {
		RequestGeneration(frame domain.AudioFrame) bool
	}
)

// EngineOptions configures a VisualizationEngine.
type EngineOptions struct {
	// Config is the initial engine configuration (default domain.DefaultEngineConfig)
	Config *domain.EngineConfig

	// Mode is the initial visualization mode (default gradient)
	Mode domain.Mode

	// Scheduler drives StartRendering; without one only Render can draw
	Scheduler ports.FrameScheduler

	// Loader resolves background image sources
	Loader ports.ImageLoader

	// Bus receives engine events; may be nil
	Bus ports.EventBus

	// Renderers replaces or adds layer renderers. Layers absent from the
	// map use the built-in renderer; the particles layer has none.
	Renderers map[domain.Layer]renderer.Renderer

	// Per-renderer options for the built-in renderers
	Gradient  renderer.GradientOptions
	Equalizer renderer.EqualizerOptions
	Spotlight renderer.SpotlightOptions
	AIImage   renderer.AIImageOptions
}

// DefaultEngineOptions returns options for the built-in renderers without a
// scheduler, loader or event bus.
func DefaultEngineOptions() EngineOptions {
	cfg := domain.DefaultEngineConfig()
	return EngineOptions{
		Config:    &cfg,
		Mode:      domain.ModeGradient,
		Gradient:  renderer.DefaultGradientOptions(),
		Equalizer: renderer.DefaultEqualizerOptions(),
		Spotlight: renderer.DefaultSpotlightOptions(),
		AIImage:   renderer.DefaultAIImageOptions(),
	}
}

// VisualizationEngine owns the drawing surface, the frame loop and the
// mode/layer bookkeeping, and delegates each enabled layer to its renderer.
//
// All methods are safe for concurrent use. Renderers run under the engine
// lock, so a frame never overlaps a configuration change. Events are
// published after the lock is released.
type VisualizationEngine struct {
	// Dependencies (injected)
	logger    *slog.Logger
	bus       ports.EventBus
	scheduler ports.FrameScheduler
	loader    ports.ImageLoader

	// renderers is fixed at construction
	renderers map[domain.Layer]renderer.Renderer

	mu sync.Mutex

	// Surface state
	initialized bool
	canvas      ports.Canvas2D

	// Mode and layer state
	mode    domain.Mode
	enabled map[domain.Layer]bool

	config domain.EngineConfig
	latest domain.AudioFrame

	// Background image state; bgSeq orders concurrent loads
	background    image.Image
	backgroundSrc string
	bgSeq         uint64

	// Frame loop state
	budget     *FrameBudget
	running    bool
	loopID     uint64
	cancelLoop func()
	frames     uint64

	// lifetime is cancelled by Cleanup and aborts background loads
	lifetime       context.Context
	cancelLifetime context.CancelFunc
	wg             sync.WaitGroup
}

// NewVisualizationEngine creates an engine. Call Initialize before anything else.
func NewVisualizationEngine(logger *slog.Logger, opts EngineOptions) *VisualizationEngine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("component", "engine"))

	cfg := domain.DefaultEngineConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	mode := opts.Mode
	if domain.LayersForMode(mode) == nil {
		mode = domain.ModeGradient
	}

	renderers := map[domain.Layer]renderer.Renderer{
		domain.LayerBackgroundGradient: renderer.NewGradientRenderer(logger, opts.Gradient),
		domain.LayerEqualizerBars:      renderer.NewEqualizerRenderer(logger, opts.Equalizer),
		domain.LayerSpotlightEffects:   renderer.NewSpotlightRenderer(logger, opts.Spotlight),
		domain.LayerAIGeneratedImage:   renderer.NewAIImageRenderer(logger, opts.AIImage),
	}
	for layer, r := range opts.Renderers {
		if r == nil {
			delete(renderers, layer)
			continue
		}
		renderers[layer] = r
	}

	e := &VisualizationEngine{
		logger:    logger,
		bus:       opts.Bus,
		scheduler: opts.Scheduler,
		loader:    opts.Loader,
		renderers: renderers,
		mode:      mode,
		enabled:   layerSet(domain.LayersForMode(mode)),
		config:    cfg,
		budget:    NewFrameBudget(cfg.TargetFPS),
	}
	e.configureRenderers(cfg)

	logger.Debug("visualization engine created",
		slog.String("mode", string(mode)),
		slog.Int("renderers", len(renderers)))
	return e
}

// Initialize acquires the surface's 2D context and initializes every renderer.
// A second call logs a warning and does nothing.
//
// Returns *domain.InitializationError if the context or a renderer is unavailable.
func (e *VisualizationEngine) Initialize(surface ports.Surface) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		e.logger.Warn("engine already initialized, ignoring")
		return nil
	}
	if surface == nil {
		return domain.NewInitializationError("surface", "no surface given", domain.ErrNilSurface)
	}

	canvas, err := surface.Context2D()
	if err != nil {
		return domain.NewInitializationError("surface", "cannot acquire 2d context", err)
	}
	if canvas == nil {
		return domain.NewInitializationError("surface", "cannot acquire 2d context", domain.ErrNoContext)
	}

	var done []renderer.Renderer
	for _, layer := range domain.LayerOrder {
		r, ok := e.renderers[layer]
		if !ok {
			continue
		}
		if err := r.Initialize(canvas); err != nil {
			for _, d := range done {
				d.Cleanup()
			}
			return domain.NewInitializationError(string(layer), "renderer failed to initialize", err)
		}
		done = append(done, r)
	}

	e.canvas = canvas
	e.initialized = true
	e.lifetime, e.cancelLifetime = context.WithCancel(context.Background())
	e.configureRenderers(e.config)

	w, h := canvas.Size()
	e.logger.Info("engine initialized",
		slog.Float64("width", w),
		slog.Float64("height", h),
		slog.String("mode", string(e.mode)))
	return nil
}

// IsInitialized reports whether Initialize succeeded and Cleanup has not run since.
func (e *VisualizationEngine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// SetMode replaces the enabled layers with the mode's layer set.
// Setting the current mode again does nothing.
func (e *VisualizationEngine) SetMode(mode domain.Mode) error {
	layers := domain.LayersForMode(mode)
	if layers == nil {
		return fmt.Errorf("%w: %q", domain.ErrUnknownMode, mode)
	}

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if mode == e.mode {
		e.mu.Unlock()
		return nil
	}
	previous := e.mode
	e.mode = mode
	e.enabled = layerSet(layers)
	e.mu.Unlock()

	e.logger.Info("mode changed",
		slog.String("from", string(previous)),
		slog.String("to", string(mode)))
	e.publish(domain.NewModeChangedEvent(previous, mode, layers))
	return nil
}

// CurrentMode returns the active mode.
func (e *VisualizationEngine) CurrentMode() domain.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// EnableLayer turns a layer on independently of the mode. It is idempotent.
func (e *VisualizationEngine) EnableLayer(layer domain.Layer) error {
	return e.toggleLayer(layer, true)
}

// DisableLayer turns a layer off independently of the mode. It is idempotent.
func (e *VisualizationEngine) DisableLayer(layer domain.Layer) error {
	return e.toggleLayer(layer, false)
}

func (e *VisualizationEngine) toggleLayer(layer domain.Layer, enabled bool) error {
	if _, err := domain.ParseLayer(string(layer)); err != nil {
		return err
	}

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if e.enabled[layer] == enabled {
		e.mu.Unlock()
		return nil
	}
	if enabled {
		e.enabled[layer] = true
	} else {
		delete(e.enabled, layer)
	}
	e.mu.Unlock()

	e.logger.Debug("layer toggled", slog.String("layer", string(layer)), slog.Bool("enabled", enabled))
	e.publish(domain.NewLayerToggledEvent(layer, enabled))
	return nil
}

// EnabledLayers returns the enabled layers in render order.
func (e *VisualizationEngine) EnabledLayers() []domain.Layer {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Layer, 0, len(e.enabled))
	for _, layer := range domain.LayerOrder {
		if e.enabled[layer] {
			out = append(out, layer)
		}
	}
	return out
}

// SetConfig merges a partial configuration. Colour changes reach every
// renderer, smoothing reaches the equalizer and the target FPS the frame budget.
//
// Returns *domain.ValidationError for an invalid colour scheme; numeric
// values are clamped instead of rejected.
func (e *VisualizationEngine) SetConfig(patch domain.ConfigPatch) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}

	merged, err := patch.Apply(e.config)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.config = merged

	if patch.Colors != nil {
		for _, r := range e.renderers {
			r.SetColorScheme(merged.Colors)
		}
	}
	if patch.Smoothing != nil {
		if bars, ok := e.renderers[domain.LayerEqualizerBars].(barConfigurer); ok {
			bars.SetSmoothing(merged.Smoothing)
		}
	}
	if patch.TargetFPS != nil {
		e.budget.SetFPS(merged.TargetFPS)
	}
	e.mu.Unlock()

	e.logger.Debug("config changed",
		slog.Float64("sensitivity", merged.Sensitivity),
		slog.Float64("smoothing", merged.Smoothing),
		slog.Float64("fps", merged.TargetFPS))
	e.publish(domain.NewConfigChangedEvent(merged))
	return nil
}

// Config returns the current engine configuration.
func (e *VisualizationEngine) Config() domain.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config
}

// ApplyAIConfig forwards provider-suggested parameters to the matching
// renderers. Absent fields are left alone and an unusable palette is ignored.
func (e *VisualizationEngine) ApplyAIConfig(cfg domain.AIConfig) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}

	if scheme, ok := domain.ColorSchemeFromPalette(cfg.Palette); ok {
		if err := scheme.Validate(); err != nil {
			e.logger.Warn("ignoring ai palette", slog.String("error", err.Error()))
		} else {
			e.config.Colors = scheme
			for _, r := range e.renderers {
				r.SetColorScheme(scheme)
			}
		}
	}

	if g, ok := e.renderers[domain.LayerBackgroundGradient].(speedMultiplierSetter); ok && cfg.GradientSpeed != nil {
		g.SetSpeedMultiplier(*cfg.GradientSpeed)
	}

	if bars, ok := e.renderers[domain.LayerEqualizerBars].(barConfigurer); ok {
		if cfg.BarCount != nil {
			bars.SetBarCount(*cfg.BarCount)
		}
		if cfg.BarSmoothing != nil {
			e.config.Smoothing = bars.SetSmoothing(*cfg.BarSmoothing)
		}
	}

	if lights, ok := e.renderers[domain.LayerSpotlightEffects].(lightConfigurer); ok {
		if cfg.LightCount != nil {
			lights.SetLightCount(*cfg.LightCount)
		}
		if cfg.LightSpeed != nil {
			lights.SetSpeed(*cfg.LightSpeed)
		}
		if cfg.LightMinRadius != nil || cfg.LightMaxRadius != nil {
			lo, hi := lights.RadiusRange()
			if cfg.LightMinRadius != nil {
				lo = *cfg.LightMinRadius
			}
			if cfg.LightMaxRadius != nil {
				hi = *cfg.LightMaxRadius
			}
			lights.SetRadiusRange(lo, hi)
		}
	}

	if img, ok := e.renderers[domain.LayerAIGeneratedImage].(imageConfigurer); ok {
		if cfg.ImageOpacity != nil {
			img.SetOpacity(*cfg.ImageOpacity)
		}
		if cfg.ImageBlendMode != nil {
			img.SetBlendMode(domain.ParseBlendMode(*cfg.ImageBlendMode))
		}
		if cfg.ImageIntervalMs != nil {
			img.SetUpdateInterval(time.Duration(*cfg.ImageIntervalMs) * time.Millisecond)
		}
	}
	e.mu.Unlock()

	e.logger.Debug("ai config applied")
	e.publish(domain.NewAIConfigAppliedEvent(cfg))
	return nil
}

// RequestAIImage asks the AI image layer for a generation from the latest
// audio frame. It returns false when a generation is already running, during
// the failure cooldown, or when the layer cannot generate.
func (e *VisualizationEngine) RequestAIImage() (bool, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return false, domain.ErrNotInitialized
	}
	req, ok := e.renderers[domain.LayerAIGeneratedImage].(generationRequester)
	frame := e.scaled(e.latest)
	e.mu.Unlock()

	if !ok {
		return false, nil
	}
	// RequestGeneration is safe without the engine lock and may launch a goroutine
	return req.RequestGeneration(frame), nil
}

// SetBackgroundImage loads src and installs it as the background. It blocks
// until the image is decoded or loading failed; run it off the frame goroutine.
// An empty src clears the background.
//
// On failure the previous background stays in place and the error (usually a
// *domain.ImageLoadError) is returned. When a newer request or a clear
// supersedes this one before it finishes, its result is discarded.
func (e *VisualizationEngine) SetBackgroundImage(ctx context.Context, src string) error {
	if src == "" {
		return e.ClearBackgroundImage()
	}

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	e.bgSeq++
	seq := e.bgSeq
	lifetime := e.lifetime
	loader := e.loader
	e.mu.Unlock()

	if loader == nil {
		return domain.NewImageLoadError(src, "no image loader configured", domain.ErrUnsupportedSource)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(lifetime, cancel)
	defer stop()

	img, err := loader.Load(ctx, src)
	if err == nil && img == nil {
		err = domain.NewImageLoadError(src, "loader returned no image", nil)
	}
	if err != nil {
		var loadErr *domain.ImageLoadError
		if !errors.As(err, &loadErr) {
			err = domain.NewImageLoadError(src, "cannot load image", err)
		}
		e.logger.Warn("background image failed",
			slog.String("source", truncateSource(src)),
			slog.String("error", err.Error()))
		e.publish(domain.NewBackgroundFailedEvent(src, err))
		return err
	}

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if seq != e.bgSeq {
		e.mu.Unlock()
		e.logger.Debug("background image superseded", slog.String("source", truncateSource(src)))
		return nil
	}
	e.background = img
	e.backgroundSrc = src
	if r, ok := e.renderers[domain.LayerSpotlightEffects].(backdropReceiver); ok {
		r.SetBackgroundImage(img)
	}
	e.mu.Unlock()

	b := img.Bounds()
	e.logger.Info("background image loaded",
		slog.String("source", truncateSource(src)),
		slog.Int("width", b.Dx()),
		slog.Int("height", b.Dy()))
	e.publish(domain.NewBackgroundLoadedEvent(src, b.Dx(), b.Dy()))
	return nil
}

// SetBackgroundImageAsync runs SetBackgroundImage in the background. The
// returned channel receives its result and is then closed. Cleanup waits for
// pending loads.
func (e *VisualizationEngine) SetBackgroundImageAsync(ctx context.Context, src string) <-chan error {
	result := make(chan error, 1)

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		result <- domain.ErrNotInitialized
		close(result)
		return result
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer close(result)
		result <- e.SetBackgroundImage(ctx, src)
	}()
	return result
}

// ClearBackgroundImage removes the background image. Clearing when none is
// loaded does nothing beyond cancelling pending loads.
func (e *VisualizationEngine) ClearBackgroundImage() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	e.bgSeq++
	had := e.background != nil
	e.background = nil
	e.backgroundSrc = ""
	if r, ok := e.renderers[domain.LayerSpotlightEffects].(backdropReceiver); ok {
		r.SetBackgroundImage(nil)
	}
	e.mu.Unlock()

	if had {
		e.logger.Info("background image cleared")
		e.publish(domain.NewBackgroundClearedEvent())
	}
	return nil
}

// BackgroundSource returns the source of the installed background, or "".
func (e *VisualizationEngine) BackgroundSource() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backgroundSrc
}

// UpdateAudioData stores the frame drawn by the next scheduled tick.
// The frame is copied, so the caller may reuse its buffers.
func (e *VisualizationEngine) UpdateAudioData(frame domain.AudioFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return domain.ErrNotInitialized
	}
	e.latest = frame.Clone()
	return nil
}

// StartRendering starts the scheduler-driven frame loop. Ticks render the
// latest audio frame whenever the frame budget allows. Starting twice logs a
// warning and does nothing.
func (e *VisualizationEngine) StartRendering() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("rendering already started, ignoring")
		return nil
	}
	sched := e.scheduler
	if sched == nil {
		e.mu.Unlock()
		return domain.ErrNoScheduler
	}
	e.running = true
	e.loopID++
	id := e.loopID
	e.frames = 0
	e.budget.Reset()
	fps := e.config.TargetFPS
	e.mu.Unlock()

	cancel := sched.Schedule(func(ts time.Time) {
		e.tick(id, ts)
	})

	e.mu.Lock()
	if e.running && e.loopID == id {
		e.cancelLoop = cancel
		e.mu.Unlock()
	} else {
		// stopped while scheduling
		e.mu.Unlock()
		cancel()
		return nil
	}

	e.logger.Info("rendering started", slog.Float64("fps", fps))
	e.publish(domain.NewRenderingStartedEvent(fps))
	return nil
}

// StopRendering cancels the frame loop. Once it returns no further frame is
// drawn. Stopping a stopped loop does nothing.
//
// StopRendering must not be called from a layer renderer.
func (e *VisualizationEngine) StopRendering() error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	cancel, frames, wasRunning := e.stopLocked()
	e.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	e.logger.Info("rendering stopped", slog.Uint64("frames", frames))
	e.publish(domain.NewRenderingStoppedEvent(frames))
	return nil
}

// IsRendering reports whether the frame loop is running.
func (e *VisualizationEngine) IsRendering() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// FramesRendered returns the frames drawn by the loop since it last started.
func (e *VisualizationEngine) FramesRendered() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// stopLocked marks the loop stopped and hands back its cancel function.
// The caller holds mu and must call cancel after releasing it.
func (e *VisualizationEngine) stopLocked() (cancel func(), frames uint64, wasRunning bool) {
	if !e.running {
		return nil, e.frames, false
	}
	e.running = false
	cancel = e.cancelLoop
	e.cancelLoop = nil
	return cancel, e.frames, true
}

func (e *VisualizationEngine) tick(id uint64, ts time.Time) {
	e.mu.Lock()
	if !e.initialized || !e.running || e.loopID != id || !e.budget.Advance(ts) {
		e.mu.Unlock()
		return
	}
	failures, _ := e.renderLocked(e.latest, ts)
	e.frames++
	e.mu.Unlock()

	e.publishFailures(failures)
}

// Render draws one frame: clear, background and overlay, then every enabled
// layer in fixed order, then flush. A failing or panicking layer is skipped
// for this frame without affecting the others.
//
// Returns the layer failures joined (each a *domain.RenderError) and any flush error.
func (e *VisualizationEngine) Render(frame domain.AudioFrame, ts time.Time) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return domain.ErrNotInitialized
	}
	failures, err := e.renderLocked(frame, ts)
	e.mu.Unlock()

	e.publishFailures(failures)
	return err
}

func (e *VisualizationEngine) renderLocked(frame domain.AudioFrame, ts time.Time) ([]*domain.RenderError, error) {
	frame = e.scaled(frame)
	canvas := e.canvas

	canvas.Clear()
	if e.background != nil {
		w, h := canvas.Size()
		canvas.DrawImage(e.background, 0, 0, w, h, ports.Opaque)
		canvas.FillRect(0, 0, w, h, color.NRGBA{A: 255}, ports.WithAlpha(backgroundOverlayAlpha))
	}

	var failures []*domain.RenderError
	for _, layer := range domain.LayerOrder {
		if !e.enabled[layer] {
			continue
		}
		r, ok := e.renderers[layer]
		if !ok {
			continue
		}
		if rerr := renderLayer(layer, r, frame, ts); rerr != nil {
			e.logger.Error("layer render failed",
				slog.String("layer", string(layer)),
				slog.String("error", rerr.Error()))
			failures = append(failures, rerr)
		}
	}

	errs := make([]error, 0, len(failures)+1)
	for _, f := range failures {
		errs = append(errs, f)
	}
	if err := canvas.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush frame: %w", err))
	}
	return failures, errors.Join(errs...)
}

// renderLayer runs one renderer, converting a panic into a RenderError.
func renderLayer(layer domain.Layer, r renderer.Renderer, frame domain.AudioFrame, ts time.Time) (rerr *domain.RenderError) {
	defer func() {
		if p := recover(); p != nil {
			rerr = domain.NewRenderError(layer, p, nil)
		}
	}()
	if err := r.Render(frame, ts); err != nil {
		return domain.NewRenderError(layer, nil, err)
	}
	return nil
}

// scaled applies the sensitivity to a frame. Bins saturate at 255 and
// energy at 1. Caller holds mu.
func (e *VisualizationEngine) scaled(frame domain.AudioFrame) domain.AudioFrame {
	s := e.config.Sensitivity
	if s == 1 {
		return frame
	}

	out := domain.AudioFrame{
		FrequencyBins: make([]byte, len(frame.FrequencyBins)),
		TimeDomain:    frame.TimeDomain,
		BPM:           frame.BPM,
		Energy:        domain.Clamp01(frame.Energy * s),
	}
	for i, b := range frame.FrequencyBins {
		out.FrequencyBins[i] = byte(math.Min(255, math.Round(float64(b)*s)))
	}
	return out
}

// Cleanup stops the loop, cancels pending background loads and releases every
// renderer and the surface. Afterwards mutating methods return
// domain.ErrNotInitialized until Initialize is called again. Cleaning up an
// engine that is not initialized does nothing.
func (e *VisualizationEngine) Cleanup() {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return
	}
	cancel, frames, wasRunning := e.stopLocked()
	e.initialized = false
	e.bgSeq++
	if e.cancelLifetime != nil {
		e.cancelLifetime()
	}
	e.mu.Unlock()

	// the loop must be gone before the renderers are released
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	for _, layer := range domain.LayerOrder {
		if r, ok := e.renderers[layer]; ok {
			r.Cleanup()
		}
	}
	e.canvas = nil
	e.background = nil
	e.backgroundSrc = ""
	e.latest = domain.AudioFrame{}
	e.mu.Unlock()

	e.logger.Info("engine cleaned up")
	if wasRunning {
		e.publish(domain.NewRenderingStoppedEvent(frames))
	}
}

// configureRenderers pushes the engine configuration into the renderers.
func (e *VisualizationEngine) configureRenderers(cfg domain.EngineConfig) {
	for _, r := range e.renderers {
		r.SetColorScheme(cfg.Colors)
	}
	if bars, ok := e.renderers[domain.LayerEqualizerBars].(barConfigurer); ok {
		bars.SetSmoothing(cfg.Smoothing)
	}
	e.budget.SetFPS(cfg.TargetFPS)
}

func (e *VisualizationEngine) publish(event domain.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event)
}

func (e *VisualizationEngine) publishFailures(failures []*domain.RenderError) {
	for _, f := range failures {
		e.publish(domain.NewLayerRenderFailedEvent(f.Layer, f))
	}
}

func layerSet(layers []domain.Layer) map[domain.Layer]bool {
	set := make(map[domain.Layer]bool, len(layers))
	for _, l := range layers {
		set[l] = true
	}
	return set
}

func truncateSource(src string) string {
	if len(src) > 64 {
		return src[:61] + "..."
	}
	return src
}

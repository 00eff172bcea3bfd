package renderer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// AI image timing and defaults.
const (
	MinUpdateInterval        = 5 * time.Second
	DefaultUpdateInterval    = 10 * time.Second
	DefaultFailureCooldown   = 30 * time.Second
	DefaultGenerationTimeout = 20 * time.Second
	DefaultImageOpacity      = 0.7

	failureCaption = "AI image unavailable"
	captionAlpha   = 0.35
)

// GenerationStatus is the AI image state machine position.
type GenerationStatus int

// Generation states.
const (
	StatusIdle GenerationStatus = iota
	StatusGenerating
	StatusLoaded
	StatusFailed
)

// String returns the lower-case state name.
func (s GenerationStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusGenerating:
		return "generating"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// AIImageState is a snapshot of the AI image layer.
type AIImageState struct {
	// ImageKey is the feature-bucket key of the displayed image ("" for the fallback)
	ImageKey         string
	Opacity          float64
	BlendMode        domain.BlendMode
	UpdateIntervalMs int64
	Status           GenerationStatus
	LastError        error
}

// AIImageOptions configures an AIImageRenderer.
type AIImageOptions struct {
	// Generator produces images; nil leaves the renderer on its fallback gradient
	Generator ports.ImageGenerator

	// Opacity of the generated image; zero uses DefaultImageOpacity
	Opacity           float64
	BlendMode         domain.BlendMode
	UpdateInterval    time.Duration
	FailureCooldown   time.Duration
	GenerationTimeout time.Duration
	CacheSize         int

	// ImageWidth and ImageHeight size generation requests; zero uses the surface size
	ImageWidth  int
	ImageHeight int
}

// DefaultAIImageOptions returns the default options without a generator.
func DefaultAIImageOptions() AIImageOptions {
	return AIImageOptions{
		Opacity:           DefaultImageOpacity,
		BlendMode:         domain.BlendNormal,
		UpdateInterval:    DefaultUpdateInterval,
		FailureCooldown:   DefaultFailureCooldown,
		GenerationTimeout: DefaultGenerationTimeout,
		CacheSize:         DefaultImageCacheSize,
	}
}

type generationResult struct {
	key   string
	img   image.Image
	err   error
	start time.Time
}

// AIImageRenderer draws an asynchronously generated background image and falls
// back to a palette gradient while none is available.
//
// Render and the setters run on the frame goroutine. RequestGeneration may be
// called from any goroutine; the in-flight flag keeps generation single-flight.
type AIImageRenderer struct {
	logger    *slog.Logger
	generator ports.ImageGenerator

	// mu guards state shared with RequestGeneration callers
	mu sync.Mutex

	canvas ports.Canvas2D

	scheme domain.ColorScheme
	colors [2]colorful.Color

	opacity  float64
	blend    domain.BlendMode
	interval time.Duration
	cooldown time.Duration
	timeout  time.Duration
	reqW     int
	reqH     int

	cache      *imageCache
	status     GenerationStatus
	current    image.Image
	currentKey string
	loadedAt   time.Time
	failedAt   time.Time
	lastFrame  time.Time
	lastErr    error
	inFlight   atomic.Bool
	results    chan generationResult
	attempts   atomic.Int64
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewAIImageRenderer creates an AI image renderer. Call Initialize before Render.
func NewAIImageRenderer(logger *slog.Logger, opts AIImageOptions) *AIImageRenderer {
	defaults := DefaultAIImageOptions()
	if opts.FailureCooldown <= 0 {
		opts.FailureCooldown = defaults.FailureCooldown
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaults.GenerationTimeout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = defaults.UpdateInterval
	}
	if opts.BlendMode == "" {
		opts.BlendMode = defaults.BlendMode
	}
	if opts.Opacity == 0 {
		opts.Opacity = defaults.Opacity
	}

	a := &AIImageRenderer{
		logger:    layerLogger(logger, "ai-image"),
		generator: opts.Generator,
		blend:     opts.BlendMode,
		cooldown:  opts.FailureCooldown,
		timeout:   opts.GenerationTimeout,
		reqW:      opts.ImageWidth,
		reqH:      opts.ImageHeight,
		cache:     newImageCache(opts.CacheSize),
		results:   make(chan generationResult, 1),
	}
	a.SetOpacity(opts.Opacity)
	a.SetUpdateInterval(opts.UpdateInterval)
	a.SetColorScheme(domain.DefaultColorScheme())
	return a
}

// Initialize binds the canvas and resets the state machine to idle.
func (a *AIImageRenderer) Initialize(canvas ports.Canvas2D) error {
	if canvas == nil {
		return domain.ErrNoContext
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.canvas = canvas
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.status = StatusIdle
	a.current = nil
	a.currentKey = ""
	a.lastErr = nil
	a.lastFrame = time.Time{}
	a.logger.Debug("ai image initialized", slog.Bool("generator", a.generator != nil))
	return nil
}

// SetColorScheme updates the fallback gradient and the palette sent with requests.
func (a *AIImageRenderer) SetColorScheme(scheme domain.ColorScheme) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scheme = scheme
	a.colors = [2]colorful.Color{parseColor(scheme.Primary), parseColor(scheme.Secondary)}
}

// SetOpacity clamps v to [0, 1] and returns the stored value.
func (a *AIImageRenderer) SetOpacity(v float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.opacity = domain.Clamp01(v)
	return a.opacity
}

// SetBlendMode sets the composite operation for the generated image.
func (a *AIImageRenderer) SetBlendMode(mode domain.BlendMode) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.blend = domain.ParseBlendMode(string(mode))
}

// SetUpdateInterval sets the minimum time between generations (at least 5s)
// and returns the stored value.
func (a *AIImageRenderer) SetUpdateInterval(d time.Duration) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if d < MinUpdateInterval {
		d = MinUpdateInterval
	}
	a.interval = d
	return d
}

// Render collects a finished generation, schedules the next one when due and
// draws either the image or the fallback gradient. Generation failures never
// surface here; they switch the layer to the fallback and start the cooldown.
func (a *AIImageRenderer) Render(frame domain.AudioFrame, ts time.Time) error {
	a.mu.Lock()
	if a.canvas == nil {
		a.mu.Unlock()
		return domain.ErrNotInitialized
	}

	a.lastFrame = ts
	a.collect(ts)
	start := a.advance(frame, ts)

	canvas := a.canvas
	img := a.current
	opts := ports.DrawOptions{Alpha: a.opacity, Blend: a.blend}
	colors := a.colors
	failed := a.status == StatusFailed
	a.mu.Unlock()

	if start != nil {
		a.launch(*start)
	}

	w, h := surfaceSize(canvas)
	if img != nil {
		canvas.DrawImage(img, 0, 0, w, h, opts)
		return nil
	}

	canvas.FillLinearGradient(0, 0, w, h, []ports.GradientStop{
		{Offset: 0, Color: toNRGBA(colors[0], 1)},
		{Offset: 1, Color: toNRGBA(colors[1], 1)},
	}, ports.Opaque)
	if failed {
		canvas.FillText(failureCaption, 12, h-12, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, ports.WithAlpha(captionAlpha))
	}
	return nil
}

// RequestGeneration asks for an image for the frame's feature bucket.
// It returns false without doing anything while another generation is in
// flight, during the failure cooldown or without a generator.
//
// The request is stamped with the timestamp of the last rendered frame, so
// the cooldown is measured on the host's frame clock.
func (a *AIImageRenderer) RequestGeneration(frame domain.AudioFrame) bool {
	if a.generator == nil {
		return false
	}
	if !a.inFlight.CompareAndSwap(false, true) {
		return false
	}

	a.mu.Lock()
	now := a.lastFrame
	if a.canvas == nil || (a.status == StatusFailed && now.Sub(a.failedAt) < a.cooldown) {
		a.mu.Unlock()
		a.inFlight.Store(false)
		return false
	}
	req := a.request(frame)
	a.status = StatusGenerating
	a.mu.Unlock()

	a.launch(pendingGeneration{req: req, start: now})
	return true
}

// Cleanup cancels any running generation, waits for it to exit and drops the cache.
func (a *AIImageRenderer) Cleanup() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.ctx = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	select {
	case <-a.results:
	default:
	}
	a.inFlight.Store(false)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.canvas = nil
	a.current = nil
	a.currentKey = ""
	a.status = StatusIdle
	a.cache.Clear()
}

// Status returns the state machine position.
func (a *AIImageRenderer) Status() GenerationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Attempts returns how many generations were started.
func (a *AIImageRenderer) Attempts() int64 {
	return a.attempts.Load()
}

// CachedKeys returns the cached bucket keys from oldest to newest.
func (a *AIImageRenderer) CachedKeys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache.Keys()
}

// State returns a snapshot of the layer.
func (a *AIImageRenderer) State() AIImageState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AIImageState{
		ImageKey:         a.currentKey,
		Opacity:          a.opacity,
		BlendMode:        a.blend,
		UpdateIntervalMs: a.interval.Milliseconds(),
		Status:           a.status,
		LastError:        a.lastErr,
	}
}

type pendingGeneration struct {
	req   domain.ImageRequest
	start time.Time
}

// collect applies a finished generation, if one is waiting. Caller holds mu.
func (a *AIImageRenderer) collect(ts time.Time) {
	var res generationResult
	select {
	case res = <-a.results:
	default:
		return
	}
	defer a.inFlight.Store(false)

	if res.err != nil {
		a.status = StatusFailed
		a.failedAt = ts
		a.lastErr = domain.NewGenerationError(res.key, "generator returned an error", res.err)
		a.logger.Warn("ai image generation failed",
			slog.String("key", res.key),
			slog.Duration("cooldown", a.cooldown),
			slog.String("error", res.err.Error()))
		return
	}

	if evicted, ok := a.cache.Put(res.key, res.img); ok {
		a.logger.Debug("ai image cache evicted", slog.String("key", evicted))
	}
	a.show(res.key, res.img, ts)
	a.logger.Info("ai image generated",
		slog.String("key", res.key),
		slog.Duration("took", ts.Sub(res.start)))
}

// advance runs the state machine for this frame and returns a generation to
// start, if one is due. Caller holds mu.
func (a *AIImageRenderer) advance(frame domain.AudioFrame, ts time.Time) *pendingGeneration {
	key := domain.BucketFor(frame.BPM, frame.Energy).Key()

	switch a.status {
	case StatusGenerating:
		return nil
	case StatusFailed:
		if ts.Sub(a.failedAt) < a.cooldown {
			return nil
		}
		a.status = StatusIdle
	case StatusLoaded:
		if ts.Sub(a.loadedAt) < a.interval || key == a.currentKey {
			return nil
		}
	}

	if img, ok := a.cache.Get(key); ok {
		a.show(key, img, ts)
		return nil
	}
	if a.generator == nil || !a.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	a.status = StatusGenerating
	return &pendingGeneration{req: a.request(frame), start: ts}
}

// show installs img as the displayed image. Caller holds mu.
func (a *AIImageRenderer) show(key string, img image.Image, ts time.Time) {
	a.current = img
	a.currentKey = key
	a.loadedAt = ts
	a.status = StatusLoaded
	a.lastErr = nil
}

// request builds the generation request for frame. Caller holds mu.
func (a *AIImageRenderer) request(frame domain.AudioFrame) domain.ImageRequest {
	bucket := domain.BucketFor(frame.BPM, frame.Energy)
	mood := domain.MoodFor(frame.BPM, frame.Energy)

	w, h := a.reqW, a.reqH
	if (w == 0 || h == 0) && a.canvas != nil {
		cw, ch := surfaceSize(a.canvas)
		w, h = int(cw), int(ch)
	}

	return domain.ImageRequest{
		Prompt: fmt.Sprintf("abstract %s visual, %d bpm, energy %.1f, palette %s %s %s",
			mood, bucket.BPM, float64(bucket.Energy)/10,
			a.scheme.Primary, a.scheme.Secondary, a.scheme.Accent),
		Bucket:  bucket,
		Mood:    mood,
		Palette: a.scheme,
		Width:   w,
		Height:  h,
	}
}

// launch runs one generation in the background. The caller must hold the in-flight flag.
func (a *AIImageRenderer) launch(p pendingGeneration) {
	a.mu.Lock()
	parent := a.ctx
	if parent == nil {
		a.mu.Unlock()
		a.inFlight.Store(false)
		return
	}
	// Add under mu so Cleanup's Wait observes every launched goroutine
	a.wg.Add(1)
	a.mu.Unlock()

	a.attempts.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(parent, a.timeout)
		defer cancel()

		key := p.req.Bucket.Key()
		img, err := a.generator.Generate(ctx, p.req)
		if err == nil && img == nil {
			err = fmt.Errorf("generator returned no image")
		}
		// results has room for exactly the one in-flight generation
		a.results <- generationResult{key: key, img: img, err: err, start: p.start}
	}()
}

var _ Renderer = (*AIImageRenderer)(nil)

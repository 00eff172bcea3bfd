package service

import (
	"bytes"
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/imaging/mock"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/scheduler"
	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/logger"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
	"github.com/tejashwikalptaru/audiovis/internal/renderer"
	"github.com/tejashwikalptaru/audiovis/internal/testutil"
)

// callLog records which layers rendered, in order.
type callLog struct {
	mu     sync.Mutex
	layers []domain.Layer
}

func (c *callLog) add(l domain.Layer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.layers = append(c.layers, l)
}

func (c *callLog) get() []domain.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Layer(nil), c.layers...)
}

// stubRenderer is a scriptable renderer.Renderer.
type stubRenderer struct {
	layer domain.Layer
	log   *callLog

	mu        sync.Mutex
	initErr   error
	renderErr error
	panicWith any
	scheme    domain.ColorScheme
	frames    []domain.AudioFrame
	inits     int
	cleanups  int
}

func newStub(layer domain.Layer, log *callLog) *stubRenderer {
	return &stubRenderer{layer: layer, log: log}
}

func (s *stubRenderer) Initialize(ports.Canvas2D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return s.initErr
	}
	s.inits++
	return nil
}

func (s *stubRenderer) SetColorScheme(scheme domain.ColorScheme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheme = scheme
}

func (s *stubRenderer) Render(frame domain.AudioFrame, _ time.Time) error {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	panicWith, err := s.panicWith, s.renderErr
	s.mu.Unlock()

	if s.log != nil {
		s.log.add(s.layer)
	}
	if panicWith != nil {
		panic(panicWith)
	}
	return err
}

func (s *stubRenderer) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
}

func (s *stubRenderer) lastFrame() domain.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

func (s *stubRenderer) colorScheme() domain.ColorScheme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheme
}

// eventRecorder collects every published event.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) handle(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *eventRecorder) count(t domain.EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(t domain.EventType) domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type() == t {
			return r.events[i]
		}
	}
	return nil
}

type fixture struct {
	engine *VisualizationEngine
	canvas *testutil.RecordingCanvas
	sched  *scheduler.Manual
	loader *mock.Loader
	events *eventRecorder
}

func newFixture(t *testing.T, configure func(*EngineOptions)) *fixture {
	t.Helper()

	f := &fixture{
		canvas: testutil.NewRecordingCanvas(640, 360),
		sched:  scheduler.NewManual(),
		loader: mock.NewLoader(),
		events: &eventRecorder{},
	}
	bus := eventbus.NewSyncEventBus(logger.NewTestLogger())
	bus.SubscribeAll(f.events.handle)
	t.Cleanup(func() { _ = bus.Close() })

	opts := DefaultEngineOptions()
	opts.Scheduler = f.sched
	opts.Loader = f.loader
	opts.Bus = bus
	opts.Gradient.Clock = func() time.Time { return epoch }
	if configure != nil {
		configure(&opts)
	}

	f.engine = NewVisualizationEngine(logger.NewTestLogger(), opts)
	require.NoError(t, f.engine.Initialize(&testutil.FakeSurface{Canvas: f.canvas}))
	t.Cleanup(f.engine.Cleanup)
	return f
}

// withStubs replaces all four built-in renderers with stubs sharing one call log.
func withStubs(log *callLog) (map[domain.Layer]*stubRenderer, func(*EngineOptions)) {
	stubs := map[domain.Layer]*stubRenderer{}
	for _, layer := range []domain.Layer{
		domain.LayerBackgroundGradient,
		domain.LayerEqualizerBars,
		domain.LayerSpotlightEffects,
		domain.LayerAIGeneratedImage,
	} {
		stubs[layer] = newStub(layer, log)
	}
	return stubs, func(o *EngineOptions) {
		o.Renderers = map[domain.Layer]renderer.Renderer{}
		for l, s := range stubs {
			o.Renderers[l] = s
		}
	}
}

func TestEngine_InitializeErrors(t *testing.T) {
	e := NewVisualizationEngine(logger.NewTestLogger(), DefaultEngineOptions())

	var initErr *domain.InitializationError

	err := e.Initialize(nil)
	require.ErrorAs(t, err, &initErr)
	assert.ErrorIs(t, err, domain.ErrNilSurface)

	err = e.Initialize(&testutil.FakeSurface{})
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "surface", initErr.Component)
	assert.ErrorIs(t, err, domain.ErrNoContext)
	assert.False(t, e.IsInitialized())

	// a runtime error is distinguishable from fatal initialization
	assert.NotErrorAs(t, domain.ErrNotInitialized, &initErr)
}

func TestEngine_RendererInitFailureRollsBack(t *testing.T) {
	log := &callLog{}
	stubs, withStub := withStubs(log)
	stubs[domain.LayerSpotlightEffects].initErr = testutil.ErrFakeBackend

	opts := DefaultEngineOptions()
	withStub(&opts)
	e := NewVisualizationEngine(logger.NewTestLogger(), opts)

	err := e.Initialize(&testutil.FakeSurface{Canvas: testutil.NewRecordingCanvas(10, 10)})
	var initErr *domain.InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, string(domain.LayerSpotlightEffects), initErr.Component)
	assert.ErrorIs(t, err, testutil.ErrFakeBackend)
	assert.False(t, e.IsInitialized())

	// renderers initialized before the failure are released
	assert.Equal(t, 1, stubs[domain.LayerBackgroundGradient].cleanups)
	assert.Equal(t, 1, stubs[domain.LayerEqualizerBars].cleanups)
	assert.Equal(t, 0, stubs[domain.LayerAIGeneratedImage].inits)
}

func TestEngine_SecondInitializeWarns(t *testing.T) {
	var buf bytes.Buffer
	e := NewVisualizationEngine(logger.NewCaptureLogger(&buf), DefaultEngineOptions())
	surface := &testutil.FakeSurface{Canvas: testutil.NewRecordingCanvas(10, 10)}

	require.NoError(t, e.Initialize(surface))
	require.NoError(t, e.Initialize(surface))
	defer e.Cleanup()

	assert.Contains(t, buf.String(), "already initialized")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.True(t, e.IsInitialized())
}

func TestEngine_RendererLogsCarryOneComponent(t *testing.T) {
	var buf bytes.Buffer
	e := NewVisualizationEngine(logger.NewCaptureLogger(&buf), DefaultEngineOptions())
	require.NoError(t, e.Initialize(&testutil.FakeSurface{Canvas: testutil.NewRecordingCanvas(10, 10)}))
	defer e.Cleanup()

	out := buf.String()
	assert.Contains(t, out, "component=engine layer=gradient")
	assert.NotContains(t, out, "component=gradient")
	assert.NotContains(t, out, "component=ai-image")
}

func TestEngine_MutatorsRequireInitialize(t *testing.T) {
	e := NewVisualizationEngine(nil, DefaultEngineOptions())
	ctx := context.Background()

	// read accessors work before Initialize
	assert.Equal(t, domain.ModeGradient, e.CurrentMode())
	assert.Equal(t, []domain.Layer{domain.LayerBackgroundGradient}, e.EnabledLayers())
	assert.Equal(t, domain.DefaultEngineConfig(), e.Config())
	assert.False(t, e.IsInitialized())

	checks := map[string]error{
		"SetMode":              e.SetMode(domain.ModeEqualizer),
		"EnableLayer":          e.EnableLayer(domain.LayerParticles),
		"DisableLayer":         e.DisableLayer(domain.LayerBackgroundGradient),
		"SetConfig":            e.SetConfig(domain.ConfigPatch{}),
		"ApplyAIConfig":        e.ApplyAIConfig(domain.AIConfig{}),
		"SetBackgroundImage":   e.SetBackgroundImage(ctx, "bg.png"),
		"ClearBackgroundImage": e.ClearBackgroundImage(),
		"Async":                <-e.SetBackgroundImageAsync(ctx, "bg.png"),
		"UpdateAudioData":      e.UpdateAudioData(domain.AudioFrame{}),
		"StartRendering":       e.StartRendering(),
		"StopRendering":        e.StopRendering(),
		"Render":               e.Render(domain.AudioFrame{}, epoch),
	}
	for name, err := range checks {
		assert.ErrorIs(t, err, domain.ErrNotInitialized, name)
	}
	_, err := e.RequestAIImage()
	assert.ErrorIs(t, err, domain.ErrNotInitialized)

	// cleanup of an engine that never started is a no-op
	e.Cleanup()
}

func TestEngine_ModeLayerTable(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		mode domain.Mode
		want []domain.Layer
	}{
		{domain.ModeEqualizer, []domain.Layer{domain.LayerBackgroundGradient, domain.LayerEqualizerBars}},
		{domain.ModeSpotlight, []domain.Layer{domain.LayerBackgroundGradient, domain.LayerSpotlightEffects}},
		{domain.ModeAIImage, []domain.Layer{domain.LayerAIGeneratedImage}},
		{domain.ModeCombined, []domain.Layer{
			domain.LayerBackgroundGradient,
			domain.LayerEqualizerBars,
			domain.LayerSpotlightEffects,
			domain.LayerParticles,
		}},
		{domain.ModeGradient, []domain.Layer{domain.LayerBackgroundGradient}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			require.NoError(t, f.engine.SetMode(tt.mode))
			assert.Equal(t, tt.mode, f.engine.CurrentMode())
			assert.Equal(t, tt.want, f.engine.EnabledLayers())
		})
	}

	assert.ErrorIs(t, f.engine.SetMode("strobe"), domain.ErrUnknownMode)
}

func TestEngine_SetModeIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.engine.SetMode(domain.ModeSpotlight))
	once := f.engine.EnabledLayers()
	require.NoError(t, f.engine.SetMode(domain.ModeSpotlight))

	assert.Equal(t, once, f.engine.EnabledLayers())
	assert.Equal(t, 1, f.events.count(domain.EventModeChanged))

	evt, ok := f.events.last(domain.EventModeChanged).(domain.ModeChangedEvent)
	require.True(t, ok)
	assert.Equal(t, domain.ModeGradient, evt.Previous)
	assert.Equal(t, domain.ModeSpotlight, evt.Current)
}

func TestEngine_EnableDisableLayers(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.engine.EnableLayer(domain.LayerAIGeneratedImage))
	require.NoError(t, f.engine.EnableLayer(domain.LayerAIGeneratedImage))
	assert.Equal(t, []domain.Layer{domain.LayerBackgroundGradient, domain.LayerAIGeneratedImage}, f.engine.EnabledLayers())

	require.NoError(t, f.engine.DisableLayer(domain.LayerBackgroundGradient))
	require.NoError(t, f.engine.DisableLayer(domain.LayerBackgroundGradient))
	assert.Equal(t, []domain.Layer{domain.LayerAIGeneratedImage}, f.engine.EnabledLayers())

	assert.Equal(t, 1, f.events.count(domain.EventLayerEnabled))
	assert.Equal(t, 1, f.events.count(domain.EventLayerDisabled))

	assert.ErrorIs(t, f.engine.EnableLayer("lasers"), domain.ErrUnknownLayer)

	// mode is independent bookkeeping
	assert.Equal(t, domain.ModeGradient, f.engine.CurrentMode())
}

func TestEngine_RenderOrder(t *testing.T) {
	log := &callLog{}
	_, withStub := withStubs(log)
	particles := newStub(domain.LayerParticles, log)

	f := newFixture(t, func(o *EngineOptions) {
		withStub(o)
		o.Renderers[domain.LayerParticles] = particles
	})

	require.NoError(t, f.engine.SetMode(domain.ModeCombined))
	require.NoError(t, f.engine.EnableLayer(domain.LayerAIGeneratedImage))
	require.NoError(t, f.engine.Render(domain.AudioFrame{}, epoch))

	assert.Equal(t, domain.LayerOrder, log.get())
	assert.Equal(t, []string{"clear", "flush"}, f.canvas.Ops())
}

func TestEngine_ParticlesWithoutRendererIsSkipped(t *testing.T) {
	log := &callLog{}
	_, withStub := withStubs(log)
	f := newFixture(t, withStub)

	require.NoError(t, f.engine.SetMode(domain.ModeCombined))
	require.NoError(t, f.engine.Render(domain.AudioFrame{}, epoch))

	assert.Equal(t, []domain.Layer{
		domain.LayerBackgroundGradient,
		domain.LayerEqualizerBars,
		domain.LayerSpotlightEffects,
	}, log.get())
}

func TestEngine_BuiltInRenderersDrawInOrder(t *testing.T) {
	f := newFixture(t, nil)
	bg := image.NewRGBA(image.Rect(0, 0, 32, 18))
	f.loader.Add("bg.png", bg)

	require.NoError(t, f.engine.SetBackgroundImage(context.Background(), "bg.png"))
	require.NoError(t, f.engine.SetMode(domain.ModeCombined))
	require.NoError(t, f.engine.Render(domain.AudioFrame{FrequencyBins: make([]byte, 128), BPM: 120, Energy: 0.5}, epoch))

	ops := f.canvas.Ops()
	require.GreaterOrEqual(t, len(ops), 5)
	assert.Equal(t, []string{"clear", "image", "rect", "linear"}, ops[:4])
	assert.Equal(t, "flush", ops[len(ops)-1])

	calls := f.canvas.Calls()
	assert.Same(t, bg, calls[1].Image)
	assert.Equal(t, 640.0, calls[1].W)
	assert.Equal(t, 360.0, calls[1].H)

	overlay := calls[2]
	assert.Equal(t, uint8(0), overlay.Color.R)
	assert.InDelta(t, backgroundOverlayAlpha, overlay.Opts.Alpha, 1e-9)

	// bars come before lights
	firstRadial := -1
	lastBar := -1
	for i, op := range ops {
		if op == "radial" && firstRadial < 0 {
			firstRadial = i
		}
		if op == "rect" && i > 2 {
			lastBar = i
		}
	}
	assert.Greater(t, firstRadial, lastBar)
	assert.Len(t, f.canvas.CallsOf("radial"), renderer.DefaultLightCount)
}

func TestEngine_LayerPanicDoesNotAbortFrame(t *testing.T) {
	log := &callLog{}
	stubs, withStub := withStubs(log)
	stubs[domain.LayerEqualizerBars].panicWith = "boom"
	stubs[domain.LayerSpotlightEffects].renderErr = testutil.ErrFakeBackend

	f := newFixture(t, withStub)
	require.NoError(t, f.engine.SetMode(domain.ModeCombined))
	require.NoError(t, f.engine.EnableLayer(domain.LayerAIGeneratedImage))

	err := f.engine.Render(domain.AudioFrame{}, epoch)
	require.Error(t, err)

	// every layer still ran and the frame was flushed
	assert.Equal(t, []domain.Layer{
		domain.LayerBackgroundGradient,
		domain.LayerEqualizerBars,
		domain.LayerSpotlightEffects,
		domain.LayerAIGeneratedImage,
	}, log.get())
	assert.Equal(t, "flush", f.canvas.Ops()[len(f.canvas.Ops())-1])

	var renderErr *domain.RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, domain.LayerEqualizerBars, renderErr.Layer)
	assert.Equal(t, "boom", renderErr.Panic)
	assert.ErrorIs(t, err, testutil.ErrFakeBackend)

	assert.Equal(t, 2, f.events.count(domain.EventLayerRenderFailed))

	// the next frame renders normally once the layer recovers
	stubs[domain.LayerEqualizerBars].mu.Lock()
	stubs[domain.LayerEqualizerBars].panicWith = nil
	stubs[domain.LayerEqualizerBars].mu.Unlock()
	stubs[domain.LayerSpotlightEffects].mu.Lock()
	stubs[domain.LayerSpotlightEffects].renderErr = nil
	stubs[domain.LayerSpotlightEffects].mu.Unlock()
	assert.NoError(t, f.engine.Render(domain.AudioFrame{}, epoch))
}

func TestEngine_FlushErrorIsReturned(t *testing.T) {
	f := newFixture(t, nil)
	f.canvas.SetFlushError(testutil.ErrFakeBackend)

	assert.ErrorIs(t, f.engine.Render(domain.AudioFrame{}, epoch), testutil.ErrFakeBackend)
}

func TestEngine_SetConfigPropagates(t *testing.T) {
	log := &callLog{}
	stubs, withStub := withStubs(log)
	f := newFixture(t, withStub)

	scheme := domain.ColorScheme{Primary: "#101010", Secondary: "#202020", Accent: "#303030"}
	sensitivity, fps := 9.0, 30.0
	require.NoError(t, f.engine.SetConfig(domain.ConfigPatch{
		Colors:      &scheme,
		Sensitivity: &sensitivity,
		TargetFPS:   &fps,
	}))

	for layer, s := range stubs {
		assert.Equal(t, scheme, s.colorScheme(), layer)
	}
	cfg := f.engine.Config()
	assert.Equal(t, domain.MaxSensitivity, cfg.Sensitivity)
	assert.Equal(t, 30.0, cfg.TargetFPS)
	assert.Equal(t, domain.DefaultEngineConfig().Smoothing, cfg.Smoothing, "untouched fields keep their value")
	assert.Equal(t, 1, f.events.count(domain.EventConfigChanged))

	bad := domain.ColorScheme{Primary: "#101010", Secondary: "", Accent: "#303030"}
	var vErr *domain.ValidationError
	require.ErrorAs(t, f.engine.SetConfig(domain.ConfigPatch{Colors: &bad}), &vErr)
	assert.Equal(t, "colors.secondary", vErr.Field)
	assert.Equal(t, scheme, f.engine.Config().Colors)
}

func TestEngine_SetConfigSmoothingReachesEqualizer(t *testing.T) {
	f := newFixture(t, nil)
	smoothing := 1.7
	require.NoError(t, f.engine.SetConfig(domain.ConfigPatch{Smoothing: &smoothing}))

	eq := f.engine.renderers[domain.LayerEqualizerBars].(*renderer.EqualizerRenderer)
	assert.Equal(t, 1.0, eq.State().Smoothing)
	assert.Equal(t, 1.0, f.engine.Config().Smoothing)
}

func TestEngine_SensitivityScalesFrame(t *testing.T) {
	log := &callLog{}
	stubs, withStub := withStubs(log)
	f := newFixture(t, withStub)

	s := 2.0
	require.NoError(t, f.engine.SetConfig(domain.ConfigPatch{Sensitivity: &s}))

	frame := domain.AudioFrame{FrequencyBins: []byte{0, 100, 200}, BPM: 128, Energy: 0.6}
	require.NoError(t, f.engine.Render(frame, epoch))

	got := stubs[domain.LayerBackgroundGradient].lastFrame()
	assert.Equal(t, []byte{0, 200, 255}, got.FrequencyBins)
	assert.Equal(t, 1.0, got.Energy)
	assert.Equal(t, 128.0, got.BPM)

	// the caller's frame is untouched
	assert.Equal(t, []byte{0, 100, 200}, frame.FrequencyBins)
}

func TestEngine_ApplyAIConfig(t *testing.T) {
	f := newFixture(t, nil)

	speed := 2.0
	bars, barSmoothing := 300, 0.25
	lights, lightSpeed, minR := 9, 1.5, 10.0
	opacity, blend, interval := 1.4, "screen", 1000

	require.NoError(t, f.engine.ApplyAIConfig(domain.AIConfig{
		Palette:         []string{"#ff0000", "#00ff00"},
		GradientSpeed:   &speed,
		BarCount:        &bars,
		BarSmoothing:    &barSmoothing,
		LightCount:      &lights,
		LightSpeed:      &lightSpeed,
		LightMinRadius:  &minR,
		ImageOpacity:    &opacity,
		ImageBlendMode:  &blend,
		ImageIntervalMs: &interval,
	}))

	assert.Equal(t, domain.ColorScheme{Primary: "#ff0000", Secondary: "#00ff00", Accent: "#00ff00"}, f.engine.Config().Colors)

	eq := f.engine.renderers[domain.LayerEqualizerBars].(*renderer.EqualizerRenderer)
	assert.Equal(t, renderer.MaxBarCount, eq.State().BarCount)
	assert.Equal(t, 0.25, eq.State().Smoothing)
	assert.Equal(t, 0.25, f.engine.Config().Smoothing)

	spot := f.engine.renderers[domain.LayerSpotlightEffects].(*renderer.SpotlightRenderer)
	assert.Len(t, spot.Lights(), 9)
	lo, hi := spot.RadiusRange()
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, renderer.DefaultMaxRadius, hi)

	ai := f.engine.renderers[domain.LayerAIGeneratedImage].(*renderer.AIImageRenderer).State()
	assert.Equal(t, 1.0, ai.Opacity)
	assert.Equal(t, domain.BlendScreen, ai.BlendMode)
	assert.Equal(t, renderer.MinUpdateInterval.Milliseconds(), ai.UpdateIntervalMs)

	// gradient at 60 BPM and double speed is half a cycle in after 250ms
	require.NoError(t, f.engine.Render(domain.AudioFrame{BPM: 60}, epoch.Add(250*time.Millisecond)))
	grad := f.engine.renderers[domain.LayerBackgroundGradient].(*renderer.GradientRenderer)
	assert.InDelta(t, 0.5, grad.Phase(), 1e-9)
	assert.Equal(t, [2]string{"#ff0000", "#00ff00"}, grad.State().Colors)

	assert.Equal(t, 1, f.events.count(domain.EventAIConfigApplied))
}

func TestEngine_ApplyAIConfigIgnoresBadPalette(t *testing.T) {
	f := newFixture(t, nil)
	before := f.engine.Config().Colors

	require.NoError(t, f.engine.ApplyAIConfig(domain.AIConfig{Palette: []string{"not-a-colour"}}))
	assert.Equal(t, before, f.engine.Config().Colors)

	// unknown fields are dropped by the decoder
	cfg, err := domain.ParseAIConfig([]byte(`{"barCount": 16, "mystery": true}`))
	require.NoError(t, err)
	require.NoError(t, f.engine.ApplyAIConfig(cfg))
	eq := f.engine.renderers[domain.LayerEqualizerBars].(*renderer.EqualizerRenderer)
	assert.Equal(t, 16, eq.State().BarCount)
}

func TestEngine_BackgroundImageLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	first := image.NewRGBA(image.Rect(0, 0, 4, 3))
	f.loader.Add("first.png", first)

	require.NoError(t, f.engine.SetBackgroundImage(ctx, "first.png"))
	assert.Equal(t, "first.png", f.engine.BackgroundSource())

	loaded, ok := f.events.last(domain.EventBackgroundLoaded).(domain.BackgroundLoadedEvent)
	require.True(t, ok)
	assert.Equal(t, 4, loaded.Width)
	assert.Equal(t, 3, loaded.Height)

	spot := f.engine.renderers[domain.LayerSpotlightEffects].(*renderer.SpotlightRenderer)
	assert.True(t, spot.State().HasBackground)

	// a failed load keeps the previous background
	err := f.engine.SetBackgroundImage(ctx, "missing.png")
	var loadErr *domain.ImageLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "missing.png", loadErr.Source)
	assert.Equal(t, "first.png", f.engine.BackgroundSource())
	assert.Equal(t, 1, f.events.count(domain.EventBackgroundFailed))

	require.NoError(t, f.engine.Render(domain.AudioFrame{}, epoch))
	assert.Same(t, first, f.canvas.CallsOf("image")[0].Image)

	// empty source clears
	require.NoError(t, f.engine.SetBackgroundImage(ctx, ""))
	assert.Empty(t, f.engine.BackgroundSource())
	assert.False(t, spot.State().HasBackground)
	assert.Equal(t, 1, f.events.count(domain.EventBackgroundCleared))

	f.canvas.Reset()
	require.NoError(t, f.engine.Render(domain.AudioFrame{}, epoch))
	assert.Empty(t, f.canvas.CallsOf("image"))

	// clearing again publishes nothing
	require.NoError(t, f.engine.ClearBackgroundImage())
	assert.Equal(t, 1, f.events.count(domain.EventBackgroundCleared))
}

func TestEngine_BackgroundWithoutLoader(t *testing.T) {
	f := newFixture(t, func(o *EngineOptions) { o.Loader = nil })
	assert.ErrorIs(t, f.engine.SetBackgroundImage(context.Background(), "x.png"), domain.ErrUnsupportedSource)
}

func TestEngine_SupersededBackgroundIsDiscarded(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	f := newFixture(t, nil)
	f.loader.Add("slow.png", image.NewRGBA(image.Rect(0, 0, 2, 2)))
	f.loader.SetBlock(true)

	result := f.engine.SetBackgroundImageAsync(context.Background(), "slow.png")
	<-f.loader.Started()

	require.NoError(t, f.engine.ClearBackgroundImage())
	f.loader.Release()

	assert.NoError(t, <-result)
	assert.Empty(t, f.engine.BackgroundSource())
	assert.Zero(t, f.events.count(domain.EventBackgroundLoaded))
	f.engine.Cleanup()
}

func TestEngine_CleanupCancelsPendingLoad(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	f := newFixture(t, nil)
	f.loader.Add("slow.png", image.NewRGBA(image.Rect(0, 0, 2, 2)))
	f.loader.SetBlock(true)

	result := f.engine.SetBackgroundImageAsync(context.Background(), "slow.png")
	<-f.loader.Started()

	f.engine.Cleanup()

	err := <-result
	var loadErr *domain.ImageLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, context.Canceled)
	_, open := <-result
	assert.False(t, open)
}

func TestEngine_CallerContextCancelsLoad(t *testing.T) {
	f := newFixture(t, nil)
	f.loader.Add("slow.png", image.NewRGBA(image.Rect(0, 0, 2, 2)))
	f.loader.SetBlock(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.engine.SetBackgroundImage(ctx, "slow.png")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.engine.BackgroundSource())
}

func TestEngine_FrameLoop(t *testing.T) {
	log := &callLog{}
	stubs, withStub := withStubs(log)
	f := newFixture(t, withStub)

	fps := 50.0 // 20ms budget
	require.NoError(t, f.engine.SetConfig(domain.ConfigPatch{TargetFPS: &fps}))

	require.NoError(t, f.engine.UpdateAudioData(domain.AudioFrame{BPM: 100, Energy: 0.3}))
	require.NoError(t, f.engine.StartRendering())
	assert.True(t, f.engine.IsRendering())
	assert.Equal(t, 1, f.sched.Active())

	started, ok := f.events.last(domain.EventRenderingStarted).(domain.RenderingStartedEvent)
	require.True(t, ok)
	assert.Equal(t, 50.0, started.TargetFPS)

	// starting twice is a no-op
	require.NoError(t, f.engine.StartRendering())
	assert.Equal(t, 1, f.sched.Active())
	assert.Equal(t, 1, f.events.count(domain.EventRenderingStarted))

	f.sched.Tick(epoch)                            // first tick renders
	f.sched.Tick(epoch.Add(10 * time.Millisecond)) // within budget
	f.sched.Tick(epoch.Add(25 * time.Millisecond)) // renders, keeps 5ms
	f.sched.Tick(epoch.Add(40 * time.Millisecond)) // renders thanks to the carried 5ms
	assert.Equal(t, uint64(3), f.engine.FramesRendered())
	assert.Len(t, log.get(), 3)

	got := stubs[domain.LayerBackgroundGradient].lastFrame()
	assert.Equal(t, 100.0, got.BPM)

	require.NoError(t, f.engine.StopRendering())
	assert.False(t, f.engine.IsRendering())
	assert.Zero(t, f.sched.Active())

	stopped, ok := f.events.last(domain.EventRenderingStopped).(domain.RenderingStoppedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(3), stopped.FramesRendered)

	f.sched.Tick(epoch.Add(time.Second))
	assert.Len(t, log.get(), 3)

	// stopping twice is a no-op
	require.NoError(t, f.engine.StopRendering())
	assert.Equal(t, 1, f.events.count(domain.EventRenderingStopped))
}

func TestEngine_UpdateAudioDataCopiesFrame(t *testing.T) {
	log := &callLog{}
	stubs, withStub := withStubs(log)
	f := newFixture(t, withStub)

	bins := []byte{1, 2, 3}
	require.NoError(t, f.engine.UpdateAudioData(domain.AudioFrame{FrequencyBins: bins}))
	bins[0] = 99

	require.NoError(t, f.engine.StartRendering())
	f.sched.Tick(epoch)
	assert.Equal(t, []byte{1, 2, 3}, stubs[domain.LayerBackgroundGradient].lastFrame().FrequencyBins)
}

func TestEngine_StartWithoutScheduler(t *testing.T) {
	f := newFixture(t, func(o *EngineOptions) { o.Scheduler = nil })
	assert.ErrorIs(t, f.engine.StartRendering(), domain.ErrNoScheduler)
	assert.False(t, f.engine.IsRendering())
}

func TestEngine_CleanupStopsLoopAndReleasesRenderers(t *testing.T) {
	log := &callLog{}
	stubs, withStub := withStubs(log)
	f := newFixture(t, withStub)

	require.NoError(t, f.engine.StartRendering())
	f.sched.Tick(epoch)

	f.engine.Cleanup()
	assert.False(t, f.engine.IsInitialized())
	assert.False(t, f.engine.IsRendering())
	assert.Zero(t, f.sched.Active())
	assert.Equal(t, 1, f.events.count(domain.EventRenderingStopped))
	for layer, s := range stubs {
		assert.Equal(t, 1, s.cleanups, layer)
	}

	assert.ErrorIs(t, f.engine.SetMode(domain.ModeEqualizer), domain.ErrNotInitialized)
	assert.ErrorIs(t, f.engine.Render(domain.AudioFrame{}, epoch), domain.ErrNotInitialized)

	// Cleanup twice is harmless, and the engine can be initialized again
	f.engine.Cleanup()
	require.NoError(t, f.engine.Initialize(&testutil.FakeSurface{Canvas: f.canvas}))
	assert.Equal(t, 2, stubs[domain.LayerEqualizerBars].inits)
	require.NoError(t, f.engine.Render(domain.AudioFrame{}, epoch))
}

func TestEngine_TickerDrivenLoopHasNoLeaks(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	canvas := testutil.NewRecordingCanvas(64, 64)
	opts := DefaultEngineOptions()
	opts.Scheduler = scheduler.NewTicker(nil, 500)
	e := NewVisualizationEngine(logger.NewTestLogger(), opts)
	require.NoError(t, e.Initialize(&testutil.FakeSurface{Canvas: canvas}))

	require.NoError(t, e.StartRendering())
	require.Eventually(t, func() bool { return e.FramesRendered() >= 2 }, 2*time.Second, time.Millisecond)

	e.Cleanup()
	n := len(canvas.CallsOf("flush"))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, len(canvas.CallsOf("flush")), "no frame after cleanup")
}

func TestEngine_RequestAIImage(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	gen := mock.NewGenerator()
	gen.SetBlock(true)
	f := newFixture(t, func(o *EngineOptions) {
		o.AIImage.Generator = gen
	})
	require.NoError(t, f.engine.UpdateAudioData(domain.AudioFrame{BPM: 150, Energy: 0.9}))

	ok, err := f.engine.RequestAIImage()
	require.NoError(t, err)
	assert.True(t, ok)
	<-gen.Started()

	ok, err = f.engine.RequestAIImage()
	require.NoError(t, err)
	assert.False(t, ok, "single flight")

	assert.Equal(t, "bpm150-energy9", gen.Requests()[0].Bucket.Key())

	// Cleanup cancels the running generation
	f.engine.Cleanup()
	assert.Equal(t, 1, gen.Calls())
}

func TestEngine_RequestAIImageHonoursCooldownOnHostClock(t *testing.T) {
	defer testutil.VerifyNoLeaks(t)

	gen := mock.NewGenerator()
	gen.SetFail(true)
	aiOpts := renderer.DefaultAIImageOptions()
	aiOpts.Generator = gen
	ai := renderer.NewAIImageRenderer(logger.NewTestLogger(), aiOpts)

	f := newFixture(t, func(o *EngineOptions) {
		o.Mode = domain.ModeAIImage
		o.Renderers = map[domain.Layer]renderer.Renderer{domain.LayerAIGeneratedImage: ai}
	})

	// timestamps counted from the host's own origin, far from wall-clock time
	host := time.Unix(0, 0).Add(5 * time.Second)
	frame := domain.AudioFrame{BPM: 120, Energy: 0.5}
	require.Eventually(t, func() bool {
		_ = f.engine.Render(frame, host)
		return ai.Status() == renderer.StatusFailed
	}, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, 1, gen.Calls())

	require.NoError(t, f.engine.Render(frame, host.Add(time.Second)))
	ok, err := f.engine.RequestAIImage()
	require.NoError(t, err)
	assert.False(t, ok, "explicit request during the failure cooldown")
	assert.Equal(t, 1, gen.Calls())

	f.engine.Cleanup()
}

func TestEngine_EventsArePublishedOutsideTheLock(t *testing.T) {
	bus := eventbus.NewSyncEventBus(nil)
	defer bus.Close()

	opts := DefaultEngineOptions()
	opts.Bus = bus
	e := NewVisualizationEngine(nil, opts)
	require.NoError(t, e.Initialize(&testutil.FakeSurface{Canvas: testutil.NewRecordingCanvas(8, 8)}))
	defer e.Cleanup()

	var seen []domain.Layer
	bus.Subscribe(domain.EventModeChanged, func(domain.Event) {
		// re-entering the engine from a handler must not deadlock
		seen = e.EnabledLayers()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.SetMode(domain.ModeEqualizer)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetMode deadlocked")
	}
	assert.Equal(t, domain.LayersForMode(domain.ModeEqualizer), seen)
}

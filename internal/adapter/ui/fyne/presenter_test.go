package fyne

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/imaging/mock"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/repository/memory"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/scheduler"
	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/logger"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
	"github.com/tejashwikalptaru/audiovis/internal/renderer"
	"github.com/tejashwikalptaru/audiovis/internal/service"
	"github.com/tejashwikalptaru/audiovis/internal/testutil"
)

// mockView records what the presenter shows.
type mockView struct {
	mu            sync.Mutex
	mode          domain.Mode
	layers        []domain.Layer
	sensitivity   float64
	background    string
	rendering     bool
	status        []string
	notifications []string
	errs          []error
}

func (v *mockView) SetMode(mode domain.Mode) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = mode
}

func (v *mockView) SetLayers(layers []domain.Layer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.layers = layers
}

func (v *mockView) SetSensitivity(sensitivity float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sensitivity = sensitivity
}

func (v *mockView) SetBackground(source string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.background = source
}

func (v *mockView) SetRendering(rendering bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rendering = rendering
}

func (v *mockView) SetStatus(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = append(v.status, text)
}

func (v *mockView) ShowNotification(title, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notifications = append(v.notifications, title+": "+message)
}

func (v *mockView) ShowError(_ string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errs = append(v.errs, err)
}

func (v *mockView) lastStatus() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.status) == 0 {
		return ""
	}
	return v.status[len(v.status)-1]
}

var _ ports.VisualizerView = (*mockView)(nil)

// failingRenderer fails every frame.
type failingRenderer struct{}

func (failingRenderer) Initialize(ports.Canvas2D) error { return nil }

func (failingRenderer) SetColorScheme(domain.ColorScheme) {}

func (failingRenderer) Render(domain.AudioFrame, time.Time) error { return errors.New("boom") }

func (failingRenderer) Cleanup() {}

type presenterFixture struct {
	engine    *service.VisualizationEngine
	bus       *eventbus.SyncEventBus
	sched     *scheduler.Manual
	loader    *mock.Loader
	settings  *service.SettingsService
	view      *mockView
	presenter *Presenter
}

func newPresenterFixture(t *testing.T, configure func(*service.EngineOptions)) *presenterFixture {
	t.Helper()

	f := &presenterFixture{
		bus:    eventbus.NewSyncEventBus(logger.NewTestLogger()),
		sched:  scheduler.NewManual(),
		loader: mock.NewLoader(),
		view:   &mockView{},
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	opts := service.DefaultEngineOptions()
	opts.Scheduler = f.sched
	opts.Loader = f.loader
	opts.Bus = f.bus
	if configure != nil {
		configure(&opts)
	}
	f.engine = service.NewVisualizationEngine(logger.NewTestLogger(), opts)
	require.NoError(t, f.engine.Initialize(&testutil.FakeSurface{Canvas: testutil.NewRecordingCanvas(320, 180)}))
	t.Cleanup(f.engine.Cleanup)

	repo := memory.NewSettingsRepository(test.NewApp().Preferences())
	f.settings = service.NewSettingsService(logger.NewTestLogger(), repo, f.bus)
	t.Cleanup(f.settings.Shutdown)

	f.presenter = NewPresenter(logger.NewTestLogger(), f.engine, f.settings, f.bus, f.view)
	t.Cleanup(f.presenter.Shutdown)
	return f
}

func TestPresenter_SyncsInitialState(t *testing.T) {
	f := newPresenterFixture(t, nil)

	assert.Equal(t, domain.ModeGradient, f.view.mode)
	assert.Equal(t, []domain.Layer{domain.LayerBackgroundGradient}, f.view.layers)
	assert.Equal(t, 1.0, f.view.sensitivity)
	assert.Empty(t, f.view.background)
	assert.False(t, f.view.rendering)
	assert.Equal(t, "Stopped", f.view.lastStatus())
}

func TestPresenter_ModeSelection(t *testing.T) {
	f := newPresenterFixture(t, nil)

	f.presenter.OnModeSelected(domain.ModeEqualizer)

	assert.Equal(t, domain.ModeEqualizer, f.engine.CurrentMode())
	assert.Equal(t, domain.ModeEqualizer, f.view.mode)
	assert.Equal(t, domain.LayersForMode(domain.ModeEqualizer), f.view.layers)
	assert.Equal(t, domain.ModeEqualizer, f.settings.Settings().Mode)

	f.presenter.OnModeSelected("bogus")
	require.Len(t, f.view.errs, 1)
	assert.ErrorIs(t, f.view.errs[0], domain.ErrUnknownMode)
}

func TestPresenter_NextModeWraps(t *testing.T) {
	f := newPresenterFixture(t, nil)

	for range domain.Modes() {
		f.presenter.OnNextMode()
	}
	assert.Equal(t, domain.ModeGradient, f.engine.CurrentMode())

	f.presenter.OnNextMode()
	assert.Equal(t, domain.ModeEqualizer, f.view.mode)
}

func TestPresenter_LayerToggle(t *testing.T) {
	f := newPresenterFixture(t, nil)

	f.presenter.OnLayerToggled(domain.LayerSpotlightEffects, true)
	assert.Equal(t, []domain.Layer{domain.LayerBackgroundGradient, domain.LayerSpotlightEffects}, f.view.layers)

	f.presenter.OnLayerToggled(domain.LayerBackgroundGradient, false)
	assert.Equal(t, []domain.Layer{domain.LayerSpotlightEffects}, f.view.layers)

	f.presenter.OnLayerToggled("nope", true)
	require.Len(t, f.view.errs, 1)
	assert.ErrorIs(t, f.view.errs[0], domain.ErrUnknownLayer)
}

func TestPresenter_Sensitivity(t *testing.T) {
	f := newPresenterFixture(t, nil)

	f.presenter.OnSensitivityChanged(2.5)

	assert.Equal(t, 2.5, f.engine.Config().Sensitivity)
	assert.Equal(t, 2.5, f.view.sensitivity)
	assert.Equal(t, 2.5, f.settings.Settings().Sensitivity)
}

func TestPresenter_Background(t *testing.T) {
	f := newPresenterFixture(t, nil)
	f.loader.Add("cover.png", image.NewRGBA(image.Rect(0, 0, 4, 3)))

	require.NoError(t, <-f.presenter.OnBackgroundChosen("cover.png"))
	assert.Equal(t, "cover.png", f.view.background)
	assert.Equal(t, "Background 4x3 loaded", f.view.lastStatus())

	var loadErr *domain.ImageLoadError
	require.ErrorAs(t, <-f.presenter.OnBackgroundChosen("missing.png"), &loadErr)
	require.Len(t, f.view.errs, 1)
	assert.ErrorAs(t, f.view.errs[0], &loadErr)
	assert.Equal(t, "cover.png", f.view.background, "failed load keeps the previous background")

	f.presenter.OnClearBackground()
	assert.Empty(t, f.view.background)
}

func TestPresenter_ToggleRendering(t *testing.T) {
	f := newPresenterFixture(t, nil)

	f.presenter.OnToggleRendering()
	assert.True(t, f.view.rendering)
	assert.Equal(t, "Rendering at 60 fps", f.view.lastStatus())

	f.sched.Advance(time.Unix(0, 0), time.Second/60, 3)

	f.presenter.OnToggleRendering()
	assert.False(t, f.view.rendering)
	assert.Equal(t, "Stopped after 3 frames", f.view.lastStatus())
}

func TestPresenter_SurfacesFirstLayerFailure(t *testing.T) {
	f := newPresenterFixture(t, func(o *service.EngineOptions) {
		o.Renderers = map[domain.Layer]renderer.Renderer{
			domain.LayerBackgroundGradient: failingRenderer{},
		}
	})

	ts := time.Unix(0, 0)
	_ = f.engine.Render(domain.AudioFrame{}, ts)
	_ = f.engine.Render(domain.AudioFrame{}, ts.Add(time.Second))

	failures := 0
	for _, s := range f.view.status {
		if s == "Render error: layer background-gradient failed: boom" {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestPresenter_ResetSettings(t *testing.T) {
	f := newPresenterFixture(t, nil)
	f.presenter.OnSensitivityChanged(4)
	f.presenter.OnModeSelected(domain.ModeSpotlight)

	f.presenter.OnResetSettings()

	assert.Equal(t, domain.ModeGradient, f.engine.CurrentMode())
	assert.Equal(t, 1.0, f.engine.Config().Sensitivity)
	assert.Contains(t, f.view.notifications, "Settings: Defaults restored")
}

func TestPresenter_GenerateWithoutAILayer(t *testing.T) {
	f := newPresenterFixture(t, nil)

	f.presenter.OnGenerateImage()

	assert.Len(t, f.view.notifications, 1)
	assert.Empty(t, f.view.errs)
}

func TestPresenter_ShutdownUnsubscribes(t *testing.T) {
	f := newPresenterFixture(t, nil)
	f.settings.Shutdown()

	f.presenter.Shutdown()
	f.presenter.Shutdown()

	assert.False(t, f.bus.HasSubscribers(domain.EventRenderingStarted))
	assert.False(t, f.bus.HasSubscribers(domain.EventModeChanged))
}

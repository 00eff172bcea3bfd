package fyne

import (
	"errors"
	"testing"
	"time"

	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/raster"
	"github.com/tejashwikalptaru/audiovis/internal/adapter/scheduler"
	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/logger"
	"github.com/tejashwikalptaru/audiovis/internal/service"
)

const eventually = time.Second

func newTestWindow(t *testing.T) (*MainWindow, *service.VisualizationEngine) {
	t.Helper()

	app := test.NewApp()
	bus := eventbus.NewSyncEventBus(logger.NewTestLogger())
	t.Cleanup(func() { _ = bus.Close() })

	surface := raster.NewSurface(logger.NewTestLogger(), 64, 36)
	t.Cleanup(surface.Close)

	opts := service.DefaultEngineOptions()
	opts.Scheduler = scheduler.NewManual()
	opts.Bus = bus
	engine := service.NewVisualizationEngine(logger.NewTestLogger(), opts)
	require.NoError(t, engine.Initialize(surface))
	t.Cleanup(engine.Cleanup)

	w := NewMainWindow(app, surface, logger.NewTestLogger())
	presenter := NewPresenter(logger.NewTestLogger(), engine, nil, bus, w)
	w.SetPresenter(presenter)
	t.Cleanup(presenter.Shutdown)
	return w, engine
}

func TestMainWindow_ReflectsEngineState(t *testing.T) {
	w, engine := newTestWindow(t)

	assert.Eventually(t, func() bool {
		return w.modeSelect.Selected == string(domain.ModeGradient)
	}, eventually, time.Millisecond)
	assert.True(t, w.layerChecks[domain.LayerBackgroundGradient].Checked)
	assert.False(t, w.layerChecks[domain.LayerEqualizerBars].Checked)

	require.NoError(t, engine.SetMode(domain.ModeCombined))

	assert.Eventually(t, func() bool {
		return w.modeSelect.Selected == string(domain.ModeCombined) &&
			w.layerChecks[domain.LayerParticles].Checked
	}, eventually, time.Millisecond)
	assert.Equal(t, domain.ModeCombined, engine.CurrentMode(), "syncing the picker does not feed back")
}

func TestMainWindow_ForwardsUserInput(t *testing.T) {
	w, engine := newTestWindow(t)

	w.modeSelect.SetSelected(string(domain.ModeSpotlight))
	assert.Equal(t, domain.ModeSpotlight, engine.CurrentMode())

	test.Tap(w.layerChecks[domain.LayerEqualizerBars])
	assert.Contains(t, engine.EnabledLayers(), domain.LayerEqualizerBars)

	w.sensitivity.SetValue(2)
	assert.Equal(t, 2.0, engine.Config().Sensitivity)
}

func TestMainWindow_RenderButtonTogglesLoop(t *testing.T) {
	w, engine := newTestWindow(t)

	test.Tap(w.renderButton)
	assert.True(t, engine.IsRendering())
	assert.Eventually(t, func() bool {
		return w.statusLabel.Text == "Rendering at 60 fps"
	}, eventually, time.Millisecond)

	test.Tap(w.renderButton)
	assert.False(t, engine.IsRendering())
}

func TestMainWindow_BackgroundLabel(t *testing.T) {
	w, _ := newTestWindow(t)

	w.SetBackground("/music/cover.png")
	assert.Eventually(t, func() bool {
		return w.backgroundLabel.Text == "/music/cover.png"
	}, eventually, time.Millisecond)

	w.SetBackground("")
	assert.Eventually(t, func() bool {
		return w.backgroundLabel.Text == "No background"
	}, eventually, time.Millisecond)
}

func TestMainWindow_ErrorAndCloseDoNotPanic(t *testing.T) {
	w, _ := newTestWindow(t)

	closed := false
	w.SetOnBeforeClose(func() { closed = true })

	assert.NotPanics(t, func() {
		w.ShowError("Background Image", errors.New("decode failed"))
		w.ShowNotification("Settings", "Defaults restored")
	})

	w.Close()
	w.Close()
	assert.False(t, closed, "programmatic close skips the intercept")
}

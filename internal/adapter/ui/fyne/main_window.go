package fyne

import (
	"fmt"
	"log/slog"
	"sync"

	fyneapp "fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/ui/fyne/widgets"
	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Window defaults.
const (
	APPNAME = "Audio Visualizer"
	WIDTH   = 960
	HEIGHT  = 640
)

const sensitivityStep = 0.1

// MainWindow is the visualizer window implementing ports.VisualizerView.
// It handles all UI rendering and user interactions.
//
// The MainWindow follows the MVP pattern:
// - It's a "dumb view" that just displays data
// - All business logic is in the Presenter
// - User interactions are forwarded to the Presenter
type MainWindow struct {
	app    fyneapp.App
	window fyneapp.Window
	logger *slog.Logger

	// UI components
	visualizer       *widgets.Visualizer
	modeSelect       *widget.Select
	layerChecks      map[domain.Layer]*widget.Check
	sensitivity      *widget.Slider
	sensitivityLabel *widget.Label
	renderButton     *widget.Button
	backgroundLabel  *widget.Label
	statusLabel      *widget.Label

	// syncing suppresses change callbacks while the presenter updates widgets.
	// Only touched on the UI thread.
	syncing bool

	onBeforeClose func()
	closeOnce     sync.Once

	// Presenter (set after construction)
	presenter *Presenter
}

// NewMainWindow creates a new main window around the surface the engine draws into.
func NewMainWindow(app fyneapp.App, source widgets.FrameSource, logger *slog.Logger) *MainWindow {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &MainWindow{
		app:         app,
		logger:      logger.With(slog.String("component", "main_window")),
		layerChecks: make(map[domain.Layer]*widget.Check, len(domain.LayerOrder)),
	}

	w.window = app.NewWindow(APPNAME)
	w.visualizer = widgets.NewVisualizer(source)
	w.buildUI()

	w.window.Resize(fyneapp.NewSize(WIDTH, HEIGHT))
	w.window.SetCloseIntercept(func() {
		if w.onBeforeClose != nil {
			w.onBeforeClose()
		}
		w.window.Close()
	})
	return w
}

// SetPresenter connects the presenter to this view.
// This must be called before showing the window.
func (w *MainWindow) SetPresenter(presenter *Presenter) {
	w.presenter = presenter
	w.addShortcuts()
}

// SetOnBeforeClose registers a callback run before the window closes.
func (w *MainWindow) SetOnBeforeClose(fn func()) {
	w.onBeforeClose = fn
}

// Visualizer returns the surface widget.
func (w *MainWindow) Visualizer() *widgets.Visualizer {
	return w.visualizer
}

// buildUI constructs the UI components.
func (w *MainWindow) buildUI() {
	modes := domain.Modes()
	options := make([]string, len(modes))
	for i, m := range modes {
		options[i] = string(m)
	}
	w.modeSelect = widget.NewSelect(options, func(value string) {
		if w.syncing || w.presenter == nil {
			return
		}
		mode, err := domain.ParseMode(value)
		if err != nil {
			w.ShowError("Mode", err)
			return
		}
		w.presenter.OnModeSelected(mode)
	})

	layerBox := container.NewHBox()
	for _, layer := range domain.LayerOrder {
		check := widget.NewCheck(string(layer), func(on bool) {
			if w.syncing || w.presenter == nil {
				return
			}
			w.presenter.OnLayerToggled(layer, on)
		})
		w.layerChecks[layer] = check
		layerBox.Add(check)
	}

	w.sensitivity = widget.NewSlider(0.1, 5)
	w.sensitivity.Step = sensitivityStep
	w.sensitivityLabel = widget.NewLabel("")
	w.sensitivity.OnChanged = func(value float64) {
		w.sensitivityLabel.SetText(fmt.Sprintf("%.1fx", value))
		if w.syncing || w.presenter == nil {
			return
		}
		w.presenter.OnSensitivityChanged(value)
	}

	w.renderButton = widget.NewButtonWithIcon("", theme.MediaPlayIcon(), func() {
		if w.presenter != nil {
			w.presenter.OnToggleRendering()
		}
	})
	backgroundButton := widget.NewButtonWithIcon("", theme.FileImageIcon(), w.handleOpenBackground)
	clearButton := widget.NewButtonWithIcon("", theme.ContentClearIcon(), func() {
		if w.presenter != nil {
			w.presenter.OnClearBackground()
		}
	})

	w.backgroundLabel = widget.NewLabel("No background")
	w.backgroundLabel.Truncation = fyneapp.TextTruncateEllipsis
	w.statusLabel = widget.NewLabel("")
	w.statusLabel.TextStyle = fyneapp.TextStyle{Italic: true}

	stage := widgets.NewTappableStack(w.visualizer, func() {
		if w.presenter != nil {
			w.presenter.OnNextMode()
		}
	}, w.showContextMenu)

	sensitivityHolder := container.NewBorder(nil, nil, widget.NewLabel("Sensitivity"), w.sensitivityLabel, w.sensitivity)
	buttons := container.NewHBox(w.renderButton, backgroundButton, clearButton, w.modeSelect)
	toolbar := container.NewBorder(nil, nil, buttons, nil, sensitivityHolder)
	footer := container.NewBorder(nil, nil, w.statusLabel, nil, w.backgroundLabel)

	controls := container.NewVBox(toolbar, layerBox, footer)
	w.window.SetContent(container.NewBorder(nil, controls, nil, nil, stage))
	w.window.SetMainMenu(fyneapp.NewMainMenu(w.createMenu()...))
}

// createMenu creates the application menu.
func (w *MainWindow) createMenu() []*fyneapp.Menu {
	separator := fyneapp.NewMenuItemSeparator()

	file := fyneapp.NewMenu("File",
		fyneapp.NewMenuItem("Open Background…", w.handleOpenBackground),
		fyneapp.NewMenuItem("Clear Background", func() {
			if w.presenter != nil {
				w.presenter.OnClearBackground()
			}
		}),
		separator,
		fyneapp.NewMenuItem("Reset Settings", func() {
			if w.presenter != nil {
				w.presenter.OnResetSettings()
			}
		}),
	)

	modeItems := make([]*fyneapp.MenuItem, 0, len(domain.Modes()))
	for _, mode := range domain.Modes() {
		modeItems = append(modeItems, fyneapp.NewMenuItem(string(mode), func() {
			if w.presenter != nil {
				w.presenter.OnModeSelected(mode)
			}
		}))
	}
	view := fyneapp.NewMenu("View", modeItems...)

	generate := fyneapp.NewMenu("Image",
		fyneapp.NewMenuItem("Generate Now", func() {
			if w.presenter != nil {
				w.presenter.OnGenerateImage()
			}
		}),
	)

	return []*fyneapp.Menu{file, view, generate}
}

// showContextMenu pops up the visualizer's context menu.
func (w *MainWindow) showContextMenu(pe *fyneapp.PointEvent) {
	menu := fyneapp.NewMenu("",
		fyneapp.NewMenuItem("Next Mode", func() {
			if w.presenter != nil {
				w.presenter.OnNextMode()
			}
		}),
		fyneapp.NewMenuItem("Generate Image", func() {
			if w.presenter != nil {
				w.presenter.OnGenerateImage()
			}
		}),
		fyneapp.NewMenuItem("Open Background…", w.handleOpenBackground),
	)
	widget.ShowPopUpMenuAtPosition(menu, w.window.Canvas(), pe.AbsolutePosition)
}

// handleOpenBackground handles the "Open Background" action.
func (w *MainWindow) handleOpenBackground() {
	if w.presenter == nil {
		return
	}
	NewFileDialog(w.window, func(path string) {
		w.presenter.OnBackgroundChosen(path)
	}, w.logger).Show()
}

// addShortcuts adds keyboard shortcuts.
func (w *MainWindow) addShortcuts() {
	c := w.window.Canvas()

	c.AddShortcut(&desktop.CustomShortcut{
		KeyName:  fyneapp.KeyUp,
		Modifier: fyneapp.KeyModifierAlt,
	}, func(fyneapp.Shortcut) {
		w.sensitivity.SetValue(min(w.sensitivity.Value+sensitivityStep, w.sensitivity.Max))
	})

	c.AddShortcut(&desktop.CustomShortcut{
		KeyName:  fyneapp.KeyDown,
		Modifier: fyneapp.KeyModifierAlt,
	}, func(fyneapp.Shortcut) {
		w.sensitivity.SetValue(max(w.sensitivity.Value-sensitivityStep, w.sensitivity.Min))
	})

	c.AddShortcut(&desktop.CustomShortcut{
		KeyName:  fyneapp.KeyRight,
		Modifier: fyneapp.KeyModifierAlt,
	}, func(fyneapp.Shortcut) {
		w.presenter.OnNextMode()
	})
}

// ShowAndRun shows the window and runs the application.
func (w *MainWindow) ShowAndRun() {
	w.window.ShowAndRun()
}

// Close closes the window.
// It's safe to call multiple times (idempotent).
func (w *MainWindow) Close() {
	w.closeOnce.Do(func() {
		fyneapp.Do(w.window.Close)
	})
}

// GetWindow returns the underlying Fyne window.
func (w *MainWindow) GetWindow() fyneapp.Window {
	return w.window
}

// VisualizerView interface implementation.
// Every method hops onto the UI thread with fyne.Do.

// SetMode selects the mode in the picker.
func (w *MainWindow) SetMode(mode domain.Mode) {
	fyneapp.Do(func() {
		w.syncing = true
		defer func() { w.syncing = false }()
		w.modeSelect.SetSelected(string(mode))
	})
}

// SetLayers ticks the enabled layers.
func (w *MainWindow) SetLayers(layers []domain.Layer) {
	enabled := make(map[domain.Layer]bool, len(layers))
	for _, l := range layers {
		enabled[l] = true
	}
	fyneapp.Do(func() {
		w.syncing = true
		defer func() { w.syncing = false }()
		for layer, check := range w.layerChecks {
			check.SetChecked(enabled[layer])
		}
	})
}

// SetSensitivity moves the sensitivity slider.
func (w *MainWindow) SetSensitivity(sensitivity float64) {
	fyneapp.Do(func() {
		w.syncing = true
		defer func() { w.syncing = false }()
		w.sensitivity.SetValue(sensitivity)
		w.sensitivityLabel.SetText(fmt.Sprintf("%.1fx", sensitivity))
	})
}

// SetBackground shows the background source.
func (w *MainWindow) SetBackground(source string) {
	text := source
	if text == "" {
		text = "No background"
	}
	fyneapp.Do(func() {
		w.backgroundLabel.SetText(text)
	})
}

// SetRendering switches the render button icon.
func (w *MainWindow) SetRendering(rendering bool) {
	icon := theme.MediaPlayIcon()
	if rendering {
		icon = theme.MediaPauseIcon()
	}
	fyneapp.Do(func() {
		w.renderButton.SetIcon(icon)
	})
}

// SetStatus updates the status line.
func (w *MainWindow) SetStatus(text string) {
	fyneapp.Do(func() {
		w.statusLabel.SetText(text)
	})
}

// ShowNotification displays a system notification.
func (w *MainWindow) ShowNotification(title, message string) {
	w.app.SendNotification(fyneapp.NewNotification(title, message))
}

// ShowError displays an error dialog.
func (w *MainWindow) ShowError(title string, err error) {
	w.logger.Warn("showing error", slog.String("title", title), slog.Any("error", err))
	fyneapp.Do(func() {
		dialog.ShowError(fmt.Errorf("%s: %w", title, err), w.window)
	})
}

// Verify VisualizerView implementation
var _ ports.VisualizerView = (*MainWindow)(nil)

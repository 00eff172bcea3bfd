// Package ports define the UI interface for view abstraction.
// This interface allows the presenter to update the UI without depending on Fyne directly.
package ports

import (
	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// VisualizerView is the interface for the visualizer window.
// This abstracts the Fyne window and allows the presenter to be tested without a real UI.
//
// The presenter receives events from the event bus and calls these methods to
// update the view. Implementations marshal the calls onto the UI thread
// themselves, since event handlers run on whichever goroutine published.
type VisualizerView interface {
	// SetMode selects the active visualization mode in the mode picker.
	SetMode(mode domain.Mode)

	// SetLayers shows which layers are currently enabled.
	SetLayers(layers []domain.Layer)

	// SetSensitivity updates the sensitivity slider (0.1 to 5.0).
	SetSensitivity(sensitivity float64)

	// SetBackground shows the loaded background source, or "" when none is set.
	SetBackground(source string)

	// SetRendering shows whether the frame loop is running.
	SetRendering(rendering bool)

	// SetStatus updates the status line below the visualizer.
	SetStatus(text string)

	// ShowNotification displays a temporary notification to the user.
	ShowNotification(title, message string)

	// ShowError displays an error dialog to the user.
	ShowError(title string, err error)
}

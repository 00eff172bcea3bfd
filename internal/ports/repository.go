// Package ports define repository interfaces for data persistence abstraction.
// These interfaces allow swapping persistence mechanisms.
package ports

import (
	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// SettingsRepository handles the persistence of visualizer settings.
// This abstracts the Fyne preferences storage.
//
// Thread-safety: Implementations must be thread-safe.
type SettingsRepository interface {
	// Save persists the settings, replacing any previous value.
	//
	// Returns an error if saving fails.
	Save(settings domain.Settings) error

	// Load retrieves the saved settings.
	// Fields that were never saved fall back to the engine defaults.
	//
	// Returns the settings or an error if loading fails.
	Load() (domain.Settings, error)

	// Clear removes all saved settings.
	//
	// Returns an error if clearing fails.
	Clear() error
}

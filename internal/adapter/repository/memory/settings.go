// Package memory provides repository implementations using Fyne preferences.
package memory

import (
	"encoding/json"
	"sync"

	"fyne.io/fyne/v2"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Preference keys.
const (
	keyMode        = "settings.mode"
	keyColors      = "settings.colors"
	keySensitivity = "settings.sensitivity"
	keyTargetFPS   = "settings.fps"
)

// SettingsRepository implements ports.SettingsRepository using Fyne preferences.
//
// Fyne preferences automatically use OS-specific app data directories:
// - macOS: ~/Library/Preferences/com.audiovis.app.plist
// - Linux: ~/.config/fyne/com.audiovis.app/
// - Windows: %APPDATA%\fyne\com.audiovis.app\
//
// Thread-safe: All operations protected by sync.RWMutex.
type SettingsRepository struct {
	prefs fyne.Preferences
	mu    sync.RWMutex
}

// NewSettingsRepository creates a new settings repository.
// The preferences parameter should be obtained from fyne.CurrentApp().Preferences().
func NewSettingsRepository(prefs fyne.Preferences) *SettingsRepository {
	return &SettingsRepository{
		prefs: prefs,
	}
}

// Save persists the settings.
func (r *SettingsRepository) Save(settings domain.Settings) error {
	// Serialize colours to JSON
	data, err := json.Marshal(settings.Colors)
	if err != nil {
		return domain.NewRepositoryError("save", "settings", "failed to marshal colors", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.prefs.SetString(keyMode, string(settings.Mode))
	r.prefs.SetString(keyColors, string(data))
	r.prefs.SetFloat(keySensitivity, settings.Sensitivity)
	r.prefs.SetFloat(keyTargetFPS, settings.TargetFPS)
	return nil
}

// Load retrieves the saved settings. Missing values fall back to domain.DefaultSettings.
func (r *SettingsRepository) Load() (domain.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defaults := domain.DefaultSettings()
	settings := domain.Settings{
		Mode:        domain.Mode(r.prefs.StringWithFallback(keyMode, string(defaults.Mode))),
		Colors:      defaults.Colors,
		Sensitivity: r.prefs.FloatWithFallback(keySensitivity, defaults.Sensitivity),
		TargetFPS:   r.prefs.FloatWithFallback(keyTargetFPS, defaults.TargetFPS),
	}

	data := r.prefs.String(keyColors)
	if data == "" {
		return settings, nil
	}

	// Deserialize
	var colors domain.ColorScheme
	if err := json.Unmarshal([]byte(data), &colors); err != nil {
		return settings, domain.NewRepositoryError("load", "settings", "failed to unmarshal colors", err)
	}
	settings.Colors = colors

	return settings, nil
}

// Clear removes all saved settings.
func (r *SettingsRepository) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prefs.RemoveValue(keyMode)
	r.prefs.RemoveValue(keyColors)
	r.prefs.RemoveValue(keySensitivity)
	r.prefs.RemoveValue(keyTargetFPS)

	return nil
}

// Verify interface implementation
var _ ports.SettingsRepository = (*SettingsRepository)(nil)

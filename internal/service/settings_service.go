package service

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// SettingsTarget is the part of the engine settings are restored into.
type SettingsTarget interface {
	SetMode(mode domain.Mode) error
	SetConfig(patch domain.ConfigPatch) error
}

// SettingsService persists the visualizer mode and configuration.
// It follows engine events so every change the host makes is saved without
// the host having to call Save itself.
type SettingsService struct {
	// Dependencies (injected)
	logger     *slog.Logger
	repository ports.SettingsRepository
	bus        ports.EventBus

	// Cached settings
	settings domain.Settings
	subs     []domain.SubscriptionID
	closed   bool

	// Concurrency control
	mu sync.RWMutex
}

// NewSettingsService creates a settings service, loads the saved settings and
// subscribes to engine mode and config events when a bus is given.
func NewSettingsService(
	logger *slog.Logger,
	repository ports.SettingsRepository,
	bus ports.EventBus,
) *SettingsService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &SettingsService{
		logger:     logger.With(slog.String("component", "settings")),
		repository: repository,
		bus:        bus,
		settings:   domain.DefaultSettings(),
	}

	s.loadSettings()

	if bus != nil {
		s.subs = append(s.subs,
			bus.Subscribe(domain.EventModeChanged, s.onModeChanged),
			bus.Subscribe(domain.EventConfigChanged, s.onConfigChanged),
		)
	}

	s.logger.Debug("settings service initialized", slog.String("mode", string(s.settings.Mode)))
	return s
}

// loadSettings loads the saved settings into the cache.
// Invalid saved values are replaced by defaults.
func (s *SettingsService) loadSettings() {
	loaded, err := s.repository.Load()
	if err != nil {
		s.logger.Warn("failed to load settings, using defaults", slog.Any("error", err))
		return
	}

	defaults := domain.DefaultSettings()
	if _, err := domain.ParseMode(string(loaded.Mode)); err != nil {
		loaded.Mode = defaults.Mode
	}
	if loaded.Colors.Validate() != nil {
		loaded.Colors = defaults.Colors
	}
	if loaded.Sensitivity == 0 {
		loaded.Sensitivity = defaults.Sensitivity
	}
	if loaded.TargetFPS == 0 {
		loaded.TargetFPS = defaults.TargetFPS
	}
	loaded.Sensitivity = domain.Clamp(loaded.Sensitivity, domain.MinSensitivity, domain.MaxSensitivity)
	loaded.TargetFPS = domain.Clamp(loaded.TargetFPS, domain.MinTargetFPS, domain.MaxTargetFPS)

	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()
}

// Settings returns the cached settings.
func (s *SettingsService) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Restore applies the cached settings to target.
// Both the mode and the config are applied even if one of them fails.
func (s *SettingsService) Restore(target SettingsTarget) error {
	settings := s.Settings()

	var errs []error
	if err := target.SetMode(settings.Mode); err != nil {
		errs = append(errs, err)
	}
	if err := target.SetConfig(settings.Patch()); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("failed to restore settings", slog.Any("error", err))
		return err
	}

	s.logger.Info("settings restored",
		slog.String("mode", string(settings.Mode)),
		slog.Float64("sensitivity", settings.Sensitivity),
		slog.Float64("fps", settings.TargetFPS))
	return nil
}

// Save persists the cached settings.
func (s *SettingsService) Save() error {
	return s.repository.Save(s.Settings())
}

// Reset clears the saved settings and returns the cache to defaults.
func (s *SettingsService) Reset() error {
	if err := s.repository.Clear(); err != nil {
		return err
	}

	s.mu.Lock()
	s.settings = domain.DefaultSettings()
	s.mu.Unlock()
	return nil
}

// Shutdown unsubscribes from the bus. Further events are ignored.
func (s *SettingsService) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, id := range subs {
		s.bus.Unsubscribe(id)
	}
	s.logger.Debug("settings service shut down")
}

func (s *SettingsService) onModeChanged(event domain.Event) {
	e, ok := event.(domain.ModeChangedEvent)
	if !ok {
		return
	}
	s.update(func(settings *domain.Settings) {
		settings.Mode = e.Current
	})
}

func (s *SettingsService) onConfigChanged(event domain.Event) {
	e, ok := event.(domain.ConfigChangedEvent)
	if !ok {
		return
	}
	s.update(func(settings *domain.Settings) {
		settings.Colors = e.Config.Colors
		settings.Sensitivity = e.Config.Sensitivity
		settings.TargetFPS = e.Config.TargetFPS
	})
}

// update mutates the cache and persists it when something changed.
func (s *SettingsService) update(fn func(settings *domain.Settings)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	before := s.settings
	fn(&s.settings)
	after := s.settings
	s.mu.Unlock()

	if before == after {
		return
	}
	if err := s.repository.Save(after); err != nil {
		s.logger.Error("failed to save settings", slog.Any("error", err))
	}
}

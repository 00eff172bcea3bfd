package ports

import (
	"time"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// AudioSource produces analysed audio frames for the engine.
// This abstracts live capture and synthetic signals so the app can run without a device.
//
// Implementations must be thread-safe; Next and Close may be called from different goroutines.
type AudioSource interface {
	// Next returns the analysis of the most recent audio window.
	// delta is the wall-clock time since the previous call; synthetic sources
	// advance their signal by it, live sources may ignore it.
	//
	// Returns domain.ErrSourceClosed after Close.
	Next(delta time.Duration) (domain.AudioFrame, error)

	// Close releases the source. It is safe to call more than once.
	Close() error
}

//go:build !portaudio

package portaudio

import (
	"log/slog"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/audio/analysis"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Available reports whether PortAudio support was compiled in.
func Available() bool { return false }

// Initialize is a no-op without PortAudio support.
func Initialize() error { return ErrUnavailable }

// Terminate is a no-op without PortAudio support.
func Terminate() {}

// Open always fails without PortAudio support.
func Open(_ *slog.Logger, _ Config, _ analysis.Config) (ports.AudioSource, error) {
	return nil, ErrUnavailable
}

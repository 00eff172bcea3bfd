// Package renderer contains the layer renderers of the visualization engine.
// Each renderer owns its animation state and draws through a ports.Canvas2D.
package renderer

import (
	"image/color"
	"log/slog"
	"math"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Renderer is the capability shared by every layer renderer.
//
// State is created in Initialize, mutated only inside Render and discarded in
// Cleanup. Renderers are not safe for concurrent use; the engine serializes calls.
type Renderer interface {
	// Initialize binds the renderer to a canvas and builds its initial state.
	Initialize(canvas ports.Canvas2D) error

	// SetColorScheme replaces the renderer's palette.
	SetColorScheme(scheme domain.ColorScheme)

	// Render draws one frame. ts is the host frame timestamp.
	Render(frame domain.AudioFrame, ts time.Time) error

	// Cleanup releases the renderer's state. The renderer may be initialized again.
	Cleanup()
}

// Clock returns the current instant. Renderers take it to fix their animation origin.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// layerLogger tags the caller's logger with the renderer name. The caller
// usually already carries a component attribute.
func layerLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return logger.With(slog.String("layer", name))
}

// parseColor parses a hex colour, falling back to white for invalid input.
func parseColor(hex string) colorful.Color {
	c, err := colorful.Hex(hex)
	if err != nil {
		return colorful.Color{R: 1, G: 1, B: 1}
	}
	return c
}

// toNRGBA converts a colour at the given alpha (0..1) to color.NRGBA.
func toNRGBA(c colorful.Color, alpha float64) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(domain.Clamp01(alpha) * 255))}
}

// lerpStops interpolates across evenly spaced colour stops.
// t is clamped to [0, 1]; the segment is selected first, then each RGB channel is lerped.
func lerpStops(stops []colorful.Color, t float64) colorful.Color {
	switch len(stops) {
	case 0:
		return colorful.Color{}
	case 1:
		return stops[0]
	}

	t = domain.Clamp01(t)
	segments := float64(len(stops) - 1)
	pos := t * segments
	i := int(pos)
	if i >= len(stops)-1 {
		i = len(stops) - 2
	}
	local := pos - float64(i)
	return stops[i].BlendRgb(stops[i+1], local)
}

// surfaceSize reads the canvas size, treating negative values as empty.
func surfaceSize(canvas ports.Canvas2D) (float64, float64) {
	w, h := canvas.Size()
	return math.Max(w, 0), math.Max(h, 0)
}

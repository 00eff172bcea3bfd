// Package ports define the drawing surface interfaces.
// Renderers draw only through Canvas2D so they stay independent of the host's raster backend.
package ports

import (
	"image"
	"image/color"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// Surface is a 2D raster target owned and resized by the host.
type Surface interface {
	// Context2D acquires the drawing context for the surface.
	// Returns domain.ErrNoContext (possibly wrapped) if the surface cannot provide one.
	Context2D() (Canvas2D, error)
}

// GradientStop is one colour stop of a linear or radial gradient.
// Offset is in [0, 1] along the gradient line or radius.
type GradientStop struct {
	Offset float64
	Color  color.NRGBA
}

// DrawOptions controls compositing of a single draw call.
type DrawOptions struct {
	// Alpha multiplies the source alpha (0.0 to 1.0)
	Alpha float64

	// Blend selects the composite operation
	Blend domain.BlendMode
}

// Opaque draws at full alpha with normal blending.
var Opaque = DrawOptions{Alpha: 1, Blend: domain.BlendNormal}

// WithAlpha returns normal-blended options at the given alpha.
func WithAlpha(alpha float64) DrawOptions {
	return DrawOptions{Alpha: alpha, Blend: domain.BlendNormal}
}

// Canvas2D is the immediate-mode 2D drawing context shared by all renderers.
//
// Thread-safety: a Canvas2D is used from one goroutine at a time. The engine
// serializes every draw call of a frame.
type Canvas2D interface {
	// Size returns the current surface size in pixels.
	// The size may change between frames when the host resizes the surface.
	Size() (width, height float64)

	// Clear resets every pixel to transparent black.
	Clear()

	// FillRect fills an axis-aligned rectangle with a solid colour.
	FillRect(x, y, w, h float64, c color.NRGBA, opts DrawOptions)

	// FillLinearGradient fills the whole surface with a gradient running from (x0, y0) to (x1, y1).
	FillLinearGradient(x0, y0, x1, y1 float64, stops []GradientStop, opts DrawOptions)

	// FillRadialGradient fills a disc of radius r centred on (cx, cy).
	FillRadialGradient(cx, cy, r float64, stops []GradientStop, opts DrawOptions)

	// DrawImage draws img scaled into the destination rectangle.
	DrawImage(img image.Image, x, y, w, h float64, opts DrawOptions)

	// FillText draws a single line of text with its baseline at (x, y).
	FillText(text string, x, y float64, c color.NRGBA, opts DrawOptions)

	// Flush publishes the frame drawn since the last Flush.
	Flush() error
}

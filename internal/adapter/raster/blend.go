package raster

import (
	"image"
	"image/color"
	"math"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// blendChannel applies the separable blend function for mode to one
// unpremultiplied channel pair in [0, 1].
func blendChannel(mode domain.BlendMode, d, s float64) float64 {
	switch mode {
	case domain.BlendMultiply:
		return d * s
	case domain.BlendScreen:
		return d + s - d*s
	case domain.BlendOverlay:
		if d <= 0.5 {
			return 2 * d * s
		}
		return 1 - 2*(1-d)*(1-s)
	case domain.BlendLighten:
		return math.Max(d, s)
	case domain.BlendDarken:
		return math.Min(d, s)
	default:
		return s
	}
}

// blendPixel composites the straight-alpha colour s onto the premultiplied
// pixel at (x, y), scaling the source alpha by alpha.
// The caller guarantees (x, y) lies inside img.
func blendPixel(img *image.RGBA, x, y int, s color.NRGBA, alpha float64, mode domain.BlendMode) {
	a := float64(s.A) / 255 * alpha
	if a <= 0 {
		return
	}

	i := img.PixOffset(x, y)
	pix := img.Pix[i : i+4 : i+4]

	da := float64(pix[3]) / 255
	src := [3]float64{float64(s.R) / 255, float64(s.G) / 255, float64(s.B) / 255}

	if mode == domain.BlendAdd {
		for c := 0; c < 3; c++ {
			pix[c] = toByte(float64(pix[c])/255 + src[c]*a)
		}
		pix[3] = toByte(da + a)
		return
	}

	for c := 0; c < 3; c++ {
		dp := float64(pix[c]) / 255
		d := 0.0
		if da > 0 {
			d = dp / da
		}
		cs := (1-da)*src[c] + da*blendChannel(mode, d, src[c])
		pix[c] = toByte(a*cs + (1-a)*dp)
	}
	pix[3] = toByte(a + da*(1-a))
}

// toByte converts a [0, 1] value to a byte, saturating at both ends.
func toByte(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// clip intersects the float rectangle with bounds.
func clip(x, y, w, h float64, bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math.Floor(x)),
		int(math.Floor(y)),
		int(math.Ceil(x+w)),
		int(math.Ceil(y+h)),
	)
	return r.Intersect(bounds)
}

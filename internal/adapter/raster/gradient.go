package raster

import (
	"image/color"
	"slices"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// lutSize is the number of precomputed colours per gradient.
const lutSize = 256

// gradientLUT samples the stops at lutSize evenly spaced offsets.
// Colours are interpolated in sRGB like a browser canvas; offsets outside
// the first and last stop take the nearest stop colour.
func gradientLUT(stops []ports.GradientStop) []color.NRGBA {
	lut := make([]color.NRGBA, lutSize)
	if len(stops) == 0 {
		return lut
	}

	sorted := slices.Clone(stops)
	slices.SortStableFunc(sorted, func(a, b ports.GradientStop) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})

	for i := range lut {
		lut[i] = sampleStops(sorted, float64(i)/(lutSize-1))
	}
	return lut
}

func sampleStops(stops []ports.GradientStop, t float64) color.NRGBA {
	if t <= stops[0].Offset {
		return stops[0].Color
	}
	last := stops[len(stops)-1]
	if t >= last.Offset {
		return last.Color
	}

	for i := 1; i < len(stops); i++ {
		b := stops[i]
		if t > b.Offset {
			continue
		}
		a := stops[i-1]
		span := b.Offset - a.Offset
		if span <= 0 {
			return b.Color
		}
		return lerpNRGBA(a.Color, b.Color, (t-a.Offset)/span)
	}
	return last.Color
}

func lerpNRGBA(a, b color.NRGBA, t float64) color.NRGBA {
	ca := colorful.Color{R: float64(a.R) / 255, G: float64(a.G) / 255, B: float64(a.B) / 255}
	cb := colorful.Color{R: float64(b.R) / 255, G: float64(b.G) / 255, B: float64(b.B) / 255}
	r, g, bl := ca.BlendRgb(cb, t).RGB255()
	alpha := float64(a.A) + (float64(b.A)-float64(a.A))*t
	return color.NRGBA{R: r, G: g, B: bl, A: toByte(alpha / 255)}
}

func lutAt(lut []color.NRGBA, t float64) color.NRGBA {
	t = domain.Clamp01(t)
	return lut[int(t*(lutSize-1)+0.5)]
}

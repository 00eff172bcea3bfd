package raster

import (
	"image"
	"image/color"
	"math"
	"reflect"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Canvas is the Canvas2D of a Surface.
// It is used from one goroutine at a time, like every Canvas2D.
type Canvas struct {
	surface *Surface
	face    font.Face

	// scaled caches the last DrawImage scale so a static background is resampled once
	scaled    *image.RGBA
	scaledSrc image.Image
	scaledKey uintptr
	scaledW   int
	scaledH   int
}

func newCanvas(s *Surface) *Canvas {
	return &Canvas{
		surface: s,
		face:    basicfont.Face7x13,
	}
}

// Size implements ports.Canvas2D.
func (c *Canvas) Size() (width, height float64) {
	b := c.surface.target().Bounds()
	return float64(b.Dx()), float64(b.Dy())
}

// Clear implements ports.Canvas2D. A pending resize takes effect here.
func (c *Canvas) Clear() {
	c.surface.beginFrame()
}

// FillRect implements ports.Canvas2D.
func (c *Canvas) FillRect(x, y, w, h float64, col color.NRGBA, opts ports.DrawOptions) {
	img := c.surface.target()
	r := clip(x, y, w, h, img.Bounds())
	if r.Empty() {
		return
	}
	alpha := domain.Clamp01(opts.Alpha)

	if opts.Blend == domain.BlendNormal || opts.Blend == "" {
		mask := image.NewUniform(color.Alpha{A: toByte(alpha)})
		draw.DrawMask(img, r, image.NewUniform(col), image.Point{}, mask, image.Point{}, draw.Over)
		return
	}

	for py := r.Min.Y; py < r.Max.Y; py++ {
		for px := r.Min.X; px < r.Max.X; px++ {
			blendPixel(img, px, py, col, alpha, opts.Blend)
		}
	}
}

// FillLinearGradient implements ports.Canvas2D.
func (c *Canvas) FillLinearGradient(x0, y0, x1, y1 float64, stops []ports.GradientStop, opts ports.DrawOptions) {
	if len(stops) == 0 {
		return
	}
	img := c.surface.target()
	lut := gradientLUT(stops)
	alpha := domain.Clamp01(opts.Alpha)

	dx, dy := x1-x0, y1-y0
	lenSq := dx*dx + dy*dy
	b := img.Bounds()

	for py := b.Min.Y; py < b.Max.Y; py++ {
		fy := float64(py) + 0.5
		for px := b.Min.X; px < b.Max.X; px++ {
			t := 0.0
			if lenSq > 0 {
				t = ((float64(px)+0.5-x0)*dx + (fy-y0)*dy) / lenSq
			}
			blendPixel(img, px, py, lutAt(lut, t), alpha, opts.Blend)
		}
	}
}

// FillRadialGradient implements ports.Canvas2D.
func (c *Canvas) FillRadialGradient(cx, cy, r float64, stops []ports.GradientStop, opts ports.DrawOptions) {
	if len(stops) == 0 || r <= 0 {
		return
	}
	img := c.surface.target()
	area := clip(cx-r, cy-r, 2*r, 2*r, img.Bounds())
	if area.Empty() {
		return
	}
	lut := gradientLUT(stops)
	alpha := domain.Clamp01(opts.Alpha)

	for py := area.Min.Y; py < area.Max.Y; py++ {
		fy := float64(py) + 0.5 - cy
		for px := area.Min.X; px < area.Max.X; px++ {
			fx := float64(px) + 0.5 - cx
			d := math.Sqrt(fx*fx + fy*fy)
			if d > r {
				continue
			}
			blendPixel(img, px, py, lutAt(lut, d/r), alpha, opts.Blend)
		}
	}
}

// DrawImage implements ports.Canvas2D.
func (c *Canvas) DrawImage(src image.Image, x, y, w, h float64, opts ports.DrawOptions) {
	if src == nil || w <= 0 || h <= 0 || src.Bounds().Empty() {
		return
	}
	img := c.surface.target()

	dst := image.Rect(int(math.Round(x)), int(math.Round(y)), int(math.Round(x+w)), int(math.Round(y+h)))
	visible := dst.Intersect(img.Bounds())
	if visible.Empty() {
		return
	}
	scaled := c.scale(src, dst.Dx(), dst.Dy())
	alpha := domain.Clamp01(opts.Alpha)

	if opts.Blend == domain.BlendNormal || opts.Blend == "" {
		mask := image.NewUniform(color.Alpha{A: toByte(alpha)})
		sp := visible.Min.Sub(dst.Min)
		draw.DrawMask(img, visible, scaled, sp, mask, image.Point{}, draw.Over)
		return
	}

	for py := visible.Min.Y; py < visible.Max.Y; py++ {
		for px := visible.Min.X; px < visible.Max.X; px++ {
			s := color.NRGBAModel.Convert(scaled.At(px-dst.Min.X, py-dst.Min.Y)).(color.NRGBA)
			blendPixel(img, px, py, s, alpha, opts.Blend)
		}
	}
}

// scale resamples src to w x h, reusing the previous result for the same image and size.
func (c *Canvas) scale(src image.Image, w, h int) *image.RGBA {
	key := imageKey(src)
	if key != 0 && key == c.scaledKey && w == c.scaledW && h == c.scaledH {
		return c.scaled
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), src, src.Bounds(), draw.Src, nil)

	// holding src keeps its address from being reused while cached
	c.scaled, c.scaledSrc, c.scaledKey, c.scaledW, c.scaledH = out, src, key, w, h
	return out
}

// imageKey identifies pointer-backed images; other images are never cached.
func imageKey(img image.Image) uintptr {
	v := reflect.ValueOf(img)
	if v.Kind() != reflect.Pointer {
		return 0
	}
	return v.Pointer()
}

// FillText implements ports.Canvas2D using a fixed 7x13 bitmap face.
// Text is always composited with normal blending.
func (c *Canvas) FillText(text string, x, y float64, col color.NRGBA, opts ports.DrawOptions) {
	if text == "" {
		return
	}
	col.A = toByte(float64(col.A) / 255 * domain.Clamp01(opts.Alpha))
	if col.A == 0 {
		return
	}

	d := font.Drawer{
		Dst:  c.surface.target(),
		Src:  image.NewUniform(col),
		Face: c.face,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(text)
}

// Flush implements ports.Canvas2D.
func (c *Canvas) Flush() error {
	return c.surface.flush()
}

var _ ports.Canvas2D = (*Canvas)(nil)

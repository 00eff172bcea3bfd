package testutil

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// DrawCall is one recorded Canvas2D call.
type DrawCall struct {
	Op    string // "clear", "rect", "linear", "radial", "image", "text", "flush"
	X, Y  float64
	W, H  float64
	R     float64
	Stops []ports.GradientStop
	Color color.NRGBA
	Image image.Image
	Text  string
	Opts  ports.DrawOptions
}

// RecordingCanvas is a Canvas2D that records calls instead of drawing.
// It is safe for concurrent use.
type RecordingCanvas struct {
	mu       sync.Mutex
	width    float64
	height   float64
	calls    []DrawCall
	flushErr error
}

// NewRecordingCanvas creates a recording canvas of the given size.
func NewRecordingCanvas(width, height float64) *RecordingCanvas {
	return &RecordingCanvas{width: width, height: height}
}

// Resize changes the reported size, as a host resize would.
func (c *RecordingCanvas) Resize(width, height float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = width, height
}

// SetFlushError makes Flush return err.
func (c *RecordingCanvas) SetFlushError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushErr = err
}

// Calls returns a copy of the recorded calls.
func (c *RecordingCanvas) Calls() []DrawCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DrawCall(nil), c.calls...)
}

// Ops returns the recorded operation names in order.
func (c *RecordingCanvas) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]string, len(c.calls))
	for i, call := range c.calls {
		ops[i] = call.Op
	}
	return ops
}

// CallsOf returns the recorded calls of one operation.
func (c *RecordingCanvas) CallsOf(op string) []DrawCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []DrawCall
	for _, call := range c.calls {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (c *RecordingCanvas) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *RecordingCanvas) record(call DrawCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

// Size implements ports.Canvas2D.
func (c *RecordingCanvas) Size() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Clear implements ports.Canvas2D.
func (c *RecordingCanvas) Clear() {
	c.record(DrawCall{Op: "clear"})
}

// FillRect implements ports.Canvas2D.
func (c *RecordingCanvas) FillRect(x, y, w, h float64, col color.NRGBA, opts ports.DrawOptions) {
	c.record(DrawCall{Op: "rect", X: x, Y: y, W: w, H: h, Color: col, Opts: opts})
}

// FillLinearGradient implements ports.Canvas2D. The end point is stored in W and H.
func (c *RecordingCanvas) FillLinearGradient(x0, y0, x1, y1 float64, stops []ports.GradientStop, opts ports.DrawOptions) {
	c.record(DrawCall{Op: "linear", X: x0, Y: y0, W: x1, H: y1, Stops: append([]ports.GradientStop(nil), stops...), Opts: opts})
}

// FillRadialGradient implements ports.Canvas2D.
func (c *RecordingCanvas) FillRadialGradient(cx, cy, r float64, stops []ports.GradientStop, opts ports.DrawOptions) {
	c.record(DrawCall{Op: "radial", X: cx, Y: cy, R: r, Stops: append([]ports.GradientStop(nil), stops...), Opts: opts})
}

// DrawImage implements ports.Canvas2D.
func (c *RecordingCanvas) DrawImage(img image.Image, x, y, w, h float64, opts ports.DrawOptions) {
	c.record(DrawCall{Op: "image", X: x, Y: y, W: w, H: h, Image: img, Opts: opts})
}

// FillText implements ports.Canvas2D.
func (c *RecordingCanvas) FillText(text string, x, y float64, col color.NRGBA, opts ports.DrawOptions) {
	c.record(DrawCall{Op: "text", X: x, Y: y, Text: text, Color: col, Opts: opts})
}

// Flush implements ports.Canvas2D.
func (c *RecordingCanvas) Flush() error {
	c.record(DrawCall{Op: "flush"})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushErr
}

// FakeSurface hands out a fixed canvas, or fails like a surface without a 2D context.
type FakeSurface struct {
	Canvas ports.Canvas2D
	Err    error
}

// Context2D implements ports.Surface.
func (s *FakeSurface) Context2D() (ports.Canvas2D, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Canvas == nil {
		return nil, domain.ErrNoContext
	}
	return s.Canvas, nil
}

// ErrFakeBackend is a generic failure for fakes.
var ErrFakeBackend = errors.New("fake backend failure")

var (
	_ ports.Canvas2D = (*RecordingCanvas)(nil)
	_ ports.Surface  = (*FakeSurface)(nil)
)

// Package raster provides a software Canvas2D backed by image.RGBA.
// The Surface is double-buffered: renderers draw into a back buffer and
// Flush copies it to the front buffer the host displays.
package raster

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// ErrSurfaceClosed is returned by Flush after Close.
var ErrSurfaceClosed = errors.New("raster surface closed")

// Surface is a resizable double-buffered raster target.
//
// Thread-safety: Resize, Snapshot and Close may be called from any goroutine.
// Drawing happens on the goroutine that owns the Canvas2D.
type Surface struct {
	logger *slog.Logger

	mu sync.Mutex

	// back is drawn into; front holds the last flushed frame
	back  *image.RGBA
	front *image.RGBA

	// pending size applied at the next Clear
	width, height int

	frames  uint64
	closed  bool
	onFlush func()

	canvas *Canvas
}

// NewSurface creates a surface of the given size. Sizes below one pixel are raised to one.
func NewSurface(logger *slog.Logger, width, height int) *Surface {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	width, height = max(width, 1), max(height, 1)

	s := &Surface{
		logger: logger.With(slog.String("component", "raster")),
		back:   image.NewRGBA(image.Rect(0, 0, width, height)),
		front:  image.NewRGBA(image.Rect(0, 0, width, height)),
		width:  width,
		height: height,
	}
	s.canvas = newCanvas(s)
	return s
}

// Context2D implements ports.Surface. The same Canvas is returned on every call.
func (s *Surface) Context2D() (ports.Canvas2D, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %w", domain.ErrNoContext, ErrSurfaceClosed)
	}
	return s.canvas, nil
}

// Resize requests a new size. The back buffer is reallocated at the next Clear,
// so a frame in progress keeps its size.
func (s *Surface) Resize(width, height int) {
	width, height = max(width, 1), max(height, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.width == width && s.height == height {
		return
	}
	s.width, s.height = width, height
	s.logger.Debug("surface resize requested", slog.Int("width", width), slog.Int("height", height))
}

// SetOnFlush registers fn to be called after every Flush, outside the surface lock.
// Hosts use it to schedule a repaint.
func (s *Surface) SetOnFlush(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFlush = fn
}

// Snapshot returns a copy of the last flushed frame.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := image.NewRGBA(s.front.Bounds())
	copy(out.Pix, s.front.Pix)
	return out
}

// Frames returns the number of flushed frames.
func (s *Surface) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close releases the surface. Later Context2D calls fail and Flush returns ErrSurfaceClosed.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// target returns the back buffer.
func (s *Surface) target() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.back
}

// beginFrame applies a pending resize and returns the cleared back buffer.
func (s *Surface) beginFrame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.back.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		s.back = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
		return s.back
	}
	clear(s.back.Pix)
	return s.back
}

func (s *Surface) flush() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSurfaceClosed
	}
	if s.front.Bounds() != s.back.Bounds() {
		s.front = image.NewRGBA(s.back.Bounds())
	}
	copy(s.front.Pix, s.back.Pix)
	s.frames++
	onFlush := s.onFlush
	s.mu.Unlock()

	if onFlush != nil {
		onFlush()
	}
	return nil
}

var _ ports.Surface = (*Surface)(nil)

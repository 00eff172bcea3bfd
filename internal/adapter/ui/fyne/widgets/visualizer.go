// Package widgets provides custom Fyne widgets for the visualizer window.
package widgets

import (
	"image"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
)

// FrameSource is the raster the engine draws into.
// raster.Surface implements it.
type FrameSource interface {
	// Snapshot returns a copy of the last flushed frame.
	Snapshot() *image.RGBA

	// Resize changes the surface size; applied at the next frame.
	Resize(width, height int)
}

// Visualizer is a widget that displays the frames drawn by the engine.
// The surface follows the widget's pixel size, so renderers always draw at
// the resolution that ends up on screen.
type Visualizer struct {
	widget.BaseWidget

	raster *canvas.Raster
	source FrameSource

	mu         sync.Mutex
	lastWidth  int
	lastHeight int
}

// NewVisualizer creates a visualizer showing source.
func NewVisualizer(source FrameSource) *Visualizer {
	v := &Visualizer{source: source}
	v.raster = canvas.NewRaster(v.draw)
	v.ExtendBaseWidget(v)
	return v
}

// CreateRenderer implements fyne.Widget.
func (v *Visualizer) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(v.raster)
}

// MinSize returns the minimum size of the visualizer.
// It is small so the widget expands to fill the available space.
func (v *Visualizer) MinSize() fyne.Size {
	return fyne.NewSize(160, 90)
}

// FrameReady requests a redraw. It may be called from any goroutine,
// typically as the surface's flush callback.
func (v *Visualizer) FrameReady() {
	fyne.Do(v.raster.Refresh)
}

// draw is the raster generator function; w and h are in pixels.
func (v *Visualizer) draw(w, h int) image.Image {
	if w <= 0 || h <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}

	v.mu.Lock()
	resized := w != v.lastWidth || h != v.lastHeight
	v.lastWidth, v.lastHeight = w, h
	v.mu.Unlock()

	if resized {
		v.source.Resize(w, h)
	}
	return v.source.Snapshot()
}

// PixelSize returns the last size the raster was drawn at.
func (v *Visualizer) PixelSize() (width, height int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastWidth, v.lastHeight
}

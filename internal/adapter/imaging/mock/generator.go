// Package mock provides mock implementations of the imaging ports.
// These are used for testing the engine without a real image provider.
package mock

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Generator is a mock implementation of the ImageGenerator interface.
// It returns solid images and can be told to fail or to block until released.
//
// Thread-safety: This implementation is thread-safe.
type Generator struct {
	mu sync.Mutex

	calls    int
	requests []domain.ImageRequest

	// Behavior configuration (for testing error scenarios)
	fail    bool
	block   bool
	release chan struct{}
	started chan struct{}

	fill color.NRGBA
}

// NewGenerator creates a new mock generator that succeeds immediately.
func NewGenerator() *Generator {
	return &Generator{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
		fill:    color.NRGBA{R: 40, G: 80, B: 160, A: 255},
	}
}

// SetFail configures the mock to return an error from Generate.
func (g *Generator) SetFail(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fail
}

// SetBlock configures Generate to wait for Release (or ctx cancellation) before returning.
func (g *Generator) SetBlock(block bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.block = block
	if block {
		g.release = make(chan struct{})
	}
}

// Release unblocks every Generate call waiting on SetBlock(true).
func (g *Generator) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.release:
	default:
		close(g.release)
	}
}

// Started receives once per Generate call, after the call was counted.
func (g *Generator) Started() <-chan struct{} {
	return g.started
}

// Calls returns how many times Generate was invoked.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Requests returns a copy of every request received.
func (g *Generator) Requests() []domain.ImageRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.ImageRequest(nil), g.requests...)
}

// Generate implements ports.ImageGenerator.
func (g *Generator) Generate(ctx context.Context, req domain.ImageRequest) (image.Image, error) {
	g.mu.Lock()
	g.calls++
	g.requests = append(g.requests, req)
	fail, block, release, fill := g.fail, g.block, g.release, g.fill
	g.mu.Unlock()

	select {
	case g.started <- struct{}{}:
	default:
	}

	if block {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, fmt.Errorf("mock generation failed for %s", req.Bucket.Key())
	}

	w, h := req.Width, req.Height
	if w <= 0 || h <= 0 {
		w, h = 8, 8
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}
	return img, nil
}

var _ ports.ImageGenerator = (*Generator)(nil)

package mock

import (
	"context"
	"image"
	"sync"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Loader is a mock implementation of the ImageLoader interface.
// Registered sources resolve to their image; anything else fails to load.
//
// Thread-safety: This implementation is thread-safe.
type Loader struct {
	mu      sync.Mutex
	images  map[string]image.Image
	loads   []string
	failAll bool

	block   bool
	release chan struct{}
	started chan string
}

// NewLoader creates an empty mock loader.
func NewLoader() *Loader {
	return &Loader{
		images:  make(map[string]image.Image),
		release: make(chan struct{}),
		started: make(chan string, 16),
	}
}

// SetBlock makes Load wait for Release (or ctx cancellation) before returning.
func (l *Loader) SetBlock(block bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block = block
	if block {
		l.release = make(chan struct{})
	}
}

// Release unblocks every Load waiting on SetBlock(true).
func (l *Loader) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.release:
	default:
		close(l.release)
	}
}

// Started receives the source of every Load call.
func (l *Loader) Started() <-chan string {
	return l.started
}

// Add registers img under source.
func (l *Loader) Add(source string, img image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.images[source] = img
}

// SetFail makes every load fail.
func (l *Loader) SetFail(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAll = fail
}

// Loads returns the sources requested so far.
func (l *Loader) Loads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loads...)
}

// Load implements ports.ImageLoader.
func (l *Loader) Load(ctx context.Context, source string) (image.Image, error) {
	l.mu.Lock()
	l.loads = append(l.loads, source)
	img, ok := l.images[source]
	fail, block, release := l.failAll, l.block, l.release
	l.mu.Unlock()

	select {
	case l.started <- source:
	default:
	}

	if block {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, domain.NewImageLoadError(source, "load cancelled", err)
	}
	if fail || !ok {
		return nil, domain.NewImageLoadError(source, "image not found", nil)
	}
	return img, nil
}

var _ ports.ImageLoader = (*Loader)(nil)

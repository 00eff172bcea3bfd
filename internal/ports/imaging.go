package ports

import (
	"context"
	"image"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// ImageLoader decodes background images.
//
// Thread-safety: implementations must be safe for concurrent use; loads run
// off the frame goroutine.
type ImageLoader interface {
	// Load resolves source (file path, data URI, audio file with album art) into an image.
	// Returns an error wrapping domain.ErrUnsupportedSource for schemes it cannot handle.
	Load(ctx context.Context, source string) (image.Image, error)
}

// ImageGenerator produces AI images for a set of audio features.
// Generation is an opaque, potentially slow external call.
type ImageGenerator interface {
	// Generate produces one image for the request. It must honour ctx cancellation.
	Generate(ctx context.Context, req domain.ImageRequest) (image.Image, error)
}

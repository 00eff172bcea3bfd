// Package imaging provides the image loader and the offline image generator.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// DefaultMaxBytes bounds how much of a source is read.
const DefaultMaxBytes = 32 << 20

// Audio file extensions whose embedded album art can serve as a background.
var audioFormats = []string{
	".mp3", ".m4a", ".m4b", ".mp4", ".aac", ".flac", ".ogg", ".opus", ".dsf",
}

// isAudioFile checks if the path looks like a tagged audio file.
func isAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, audioExt := range audioFormats {
		if ext == audioExt {
			return true
		}
	}
	return false
}

// Loader implements ports.ImageLoader for local files, data URIs and album art.
// Remote URLs are rejected with domain.ErrUnsupportedSource.
//
// Thread-safety: This implementation is thread-safe.
type Loader struct {
	logger   *slog.Logger
	maxBytes int64
}

// NewLoader creates a loader reading at most DefaultMaxBytes per source.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		logger:   logger.With(slog.String("component", "image_loader")),
		maxBytes: DefaultMaxBytes,
	}
}

// SetMaxBytes changes the per-source read limit. Non-positive values restore the default.
func (l *Loader) SetMaxBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxBytes
	}
	l.maxBytes = n
}

// Load implements ports.ImageLoader.
func (l *Loader) Load(ctx context.Context, source string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewImageLoadError(source, "load cancelled", err)
	}

	src := strings.TrimSpace(source)
	if src == "" {
		return nil, domain.NewImageLoadError(source, "empty source", domain.ErrUnsupportedSource)
	}

	var (
		img image.Image
		err error
	)
	switch scheme := schemeOf(src); scheme {
	case "data":
		img, err = l.loadDataURI(src)
	case "file":
		u, perr := url.Parse(src)
		if perr != nil {
			return nil, domain.NewImageLoadError(source, "invalid file URL", perr)
		}
		img, err = l.loadPath(u.Path)
	case "":
		img, err = l.loadPath(src)
	default:
		return nil, domain.NewImageLoadError(source,
			fmt.Sprintf("%s sources are not supported", scheme), domain.ErrUnsupportedSource)
	}
	if err != nil {
		var loadErr *domain.ImageLoadError
		if errors.As(err, &loadErr) {
			return nil, err
		}
		return nil, domain.NewImageLoadError(source, err.Error(), err)
	}

	// decoding is not interruptible, so a cancellation during it discards the result
	if err := ctx.Err(); err != nil {
		return nil, domain.NewImageLoadError(source, "load cancelled", err)
	}

	b := img.Bounds()
	l.logger.Debug("image loaded",
		slog.String("source", truncate(src)),
		slog.Int("width", b.Dx()),
		slog.Int("height", b.Dy()))
	return img, nil
}

// schemeOf returns the lower-cased URL scheme, or "" for plain paths.
// Windows drive letters ("C:\...") are treated as paths.
func schemeOf(src string) string {
	i := strings.IndexByte(src, ':')
	if i <= 1 {
		return ""
	}
	scheme := strings.ToLower(src[:i])
	for _, r := range scheme {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '+' && r != '-' && r != '.' {
			return ""
		}
	}
	return scheme
}

// loadDataURI decodes "data:[<mediatype>][;base64],<data>".
func (l *Loader) loadDataURI(src string) (image.Image, error) {
	header, payload, ok := strings.Cut(src[len("data:"):], ",")
	if !ok {
		return nil, domain.NewImageLoadError(src, "malformed data URI", domain.ErrUnsupportedSource)
	}

	var data []byte
	if strings.HasSuffix(strings.ToLower(header), ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// some encoders drop the padding
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return nil, domain.NewImageLoadError(src, "invalid base64 payload", err)
			}
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, domain.NewImageLoadError(src, "invalid data URI payload", err)
		}
		data = []byte(unescaped)
	}

	if int64(len(data)) > l.maxBytes {
		return nil, domain.NewImageLoadError(src, "data URI too large", nil)
	}
	return decode(src, data)
}

// loadPath decodes an image file, or the album art of an audio file.
func (l *Loader) loadPath(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, domain.NewImageLoadError(path, "cannot open file", err)
	}
	defer file.Close()

	if isAudioFile(path) {
		return l.loadAlbumArt(path, file)
	}

	data, err := io.ReadAll(io.LimitReader(file, l.maxBytes+1))
	if err != nil {
		return nil, domain.NewImageLoadError(path, "read failed", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, domain.NewImageLoadError(path, "file too large", nil)
	}
	return decode(path, data)
}

// loadAlbumArt extracts and decodes the embedded picture using dhowden/tag.
func (l *Loader) loadAlbumArt(path string, file io.ReadSeeker) (image.Image, error) {
	metadata, err := tag.ReadFrom(file)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return nil, domain.NewImageLoadError(path, "no tags found", domain.ErrNoEmbeddedPicture)
		}
		return nil, domain.NewImageLoadError(path, "cannot read tags", err)
	}

	picture := metadata.Picture()
	if picture == nil || len(picture.Data) == 0 {
		return nil, domain.NewImageLoadError(path, "no album art", domain.ErrNoEmbeddedPicture)
	}

	l.logger.Debug("using embedded album art",
		slog.String("path", path),
		slog.String("mime", picture.MIMEType),
		slog.Int("bytes", len(picture.Data)))
	return decode(path, picture.Data)
}

func decode(source string, data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewImageLoadError(source, "decode failed", err)
	}
	if img.Bounds().Empty() {
		return nil, domain.NewImageLoadError(source, format+" image is empty", nil)
	}
	return img, nil
}

func truncate(src string) string {
	if len(src) > 64 {
		return src[:61] + "..."
	}
	return src
}

var _ ports.ImageLoader = (*Loader)(nil)

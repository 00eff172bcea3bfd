package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/logger"
)

// encodePNG is a helper returning a w x h PNG filled with c.
func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// id3WithPicture builds a minimal ID3v2.3 tag holding one APIC frame.
func id3WithPicture(picture []byte) []byte {
	var frame bytes.Buffer
	frame.WriteByte(0) // ISO-8859-1
	frame.WriteString("image/png")
	frame.WriteByte(0)
	frame.WriteByte(3) // front cover
	frame.WriteByte(0) // empty description
	frame.Write(picture)

	var tagBody bytes.Buffer
	tagBody.WriteString("APIC")
	n := frame.Len()
	tagBody.Write([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
	tagBody.Write([]byte{0, 0})
	tagBody.Write(frame.Bytes())

	size := tagBody.Len()
	var out bytes.Buffer
	out.WriteString("ID3")
	out.Write([]byte{3, 0, 0})
	// syncsafe size
	out.Write([]byte{byte(size >> 21 & 0x7f), byte(size >> 14 & 0x7f), byte(size >> 7 & 0x7f), byte(size & 0x7f)})
	out.Write(tagBody.Bytes())
	// a few bytes of "audio"
	out.Write(make([]byte, 64))
	return out.Bytes()
}

func TestLoader_LoadsImageFile(t *testing.T) {
	path := writeFile(t, "bg.png", encodePNG(t, 6, 4, color.NRGBA{R: 200, A: 255}))
	l := NewLoader(logger.NewTestLogger())

	img, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 6, 4), img.Bounds())

	r, _, _, _ := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(200*257), r)
}

func TestLoader_FileURL(t *testing.T) {
	path := writeFile(t, "bg.png", encodePNG(t, 2, 2, color.NRGBA{G: 255, A: 255}))
	l := NewLoader(nil)

	img, err := l.Load(context.Background(), "file://"+filepath.ToSlash(path))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
}

func TestLoader_DataURI(t *testing.T) {
	data := encodePNG(t, 3, 3, color.NRGBA{B: 255, A: 255})
	l := NewLoader(nil)

	img, err := l.Load(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dy())

	// unpadded payloads are accepted too
	img, err = l.Load(context.Background(), "data:image/png;base64,"+base64.RawStdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
}

func TestLoader_AlbumArt(t *testing.T) {
	art := encodePNG(t, 5, 5, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	path := writeFile(t, "song.mp3", id3WithPicture(art))
	l := NewLoader(nil)

	img, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 5), img.Bounds())
}

func TestLoader_AudioWithoutPicture(t *testing.T) {
	path := writeFile(t, "silence.mp3", make([]byte, 256))
	l := NewLoader(nil)

	_, err := l.Load(context.Background(), path)
	assert.ErrorIs(t, err, domain.ErrNoEmbeddedPicture)
}

func TestLoader_Errors(t *testing.T) {
	corrupt := writeFile(t, "broken.png", []byte("definitely not a png"))
	large := writeFile(t, "large.png", bytes.Repeat([]byte("x"), 1000))

	tests := []struct {
		name   string
		source string
		target error
	}{
		{"empty", "   ", domain.ErrUnsupportedSource},
		{"http", "http://example.com/a.png", domain.ErrUnsupportedSource},
		{"https", "HTTPS://example.com/a.png", domain.ErrUnsupportedSource},
		{"other scheme", "ftp://host/a.png", domain.ErrUnsupportedSource},
		{"malformed data uri", "data:image/png;base64", domain.ErrUnsupportedSource},
		{"missing file", filepath.Join(t.TempDir(), "nope.png"), fs.ErrNotExist},
		{"corrupt file", corrupt, image.ErrFormat},
		{"bad base64", "data:image/png;base64,@@@", nil},
		{"too large", large, nil},
	}

	l := NewLoader(nil)
	l.SetMaxBytes(64)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Load(context.Background(), tt.source)
			require.Error(t, err)

			var loadErr *domain.ImageLoadError
			require.ErrorAs(t, err, &loadErr)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestLoader_CancelledContext(t *testing.T) {
	path := writeFile(t, "bg.png", encodePNG(t, 2, 2, color.NRGBA{A: 255}))
	l := NewLoader(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Load(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSchemeOf(t *testing.T) {
	assert.Equal(t, "", schemeOf("/tmp/a.png"))
	assert.Equal(t, "", schemeOf(`C:\music\a.png`))
	assert.Equal(t, "data", schemeOf("DATA:image/png;base64,xx"))
	assert.Equal(t, "https", schemeOf("https://x"))
	assert.Equal(t, "", schemeOf("./dir/a b:c.png"))
}

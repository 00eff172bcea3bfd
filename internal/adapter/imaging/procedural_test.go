package imaging

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

func request(bpm, energy float64) domain.ImageRequest {
	return domain.ImageRequest{
		Prompt:  "test",
		Bucket:  domain.BucketFor(bpm, energy),
		Mood:    domain.MoodFor(bpm, energy),
		Palette: domain.DefaultColorScheme(),
		Width:   32,
		Height:  24,
	}
}

func TestProceduralGenerator_SizeAndOpacity(t *testing.T) {
	g := NewProceduralGenerator(nil)

	img, err := g.Generate(context.Background(), request(120, 0.5))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())

	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		require.Equal(t, uint8(255), nrgba.Pix[i])
	}
}

func TestProceduralGenerator_DefaultSize(t *testing.T) {
	g := NewProceduralGenerator(nil)
	req := request(90, 0.2)
	req.Width, req.Height = 0, 0

	img, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, proceduralDefaultSize, img.Bounds().Dx())
}

func TestProceduralGenerator_DeterministicPerBucket(t *testing.T) {
	g := NewProceduralGenerator(nil)

	a, err := g.Generate(context.Background(), request(120, 0.5))
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), request(121, 0.52))
	require.NoError(t, err)
	c, err := g.Generate(context.Background(), request(170, 0.9))
	require.NoError(t, err)

	assert.Equal(t, a.(*image.NRGBA).Pix, b.(*image.NRGBA).Pix, "same bucket, same image")
	assert.NotEqual(t, a.(*image.NRGBA).Pix, c.(*image.NRGBA).Pix)
}

func TestProceduralGenerator_UsesPalette(t *testing.T) {
	g := NewProceduralGenerator(nil)
	req := request(120, 0.5)
	req.Palette = domain.ColorScheme{Primary: "#00ff00", Secondary: "#00ff00", Accent: "#00ff00"}

	img, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	pix := img.(*image.NRGBA).Pix
	for i := 0; i < len(pix); i += 4 {
		require.Equal(t, []uint8{0, 255, 0}, pix[i:i+3])
	}
}

func TestProceduralGenerator_InvalidPalette(t *testing.T) {
	g := NewProceduralGenerator(nil)
	req := request(120, 0.5)
	req.Palette = domain.ColorScheme{Primary: "nope", Secondary: "#000", Accent: "#fff"}

	_, err := g.Generate(context.Background(), req)

	var genErr *domain.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, req.Bucket.Key(), genErr.Key)
}

func TestProceduralGenerator_HonoursCancellation(t *testing.T) {
	g := NewProceduralGenerator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	img, err := g.Generate(ctx, request(120, 0.5))
	assert.Nil(t, img)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValueNoise_Range(t *testing.T) {
	n := newValueNoise(42)
	for i := 0; i < 1000; i++ {
		x := float64(i) * 0.137
		y := float64(i) * -0.071
		v := n.fractal(x, y, proceduralOctaves)
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
	}
}

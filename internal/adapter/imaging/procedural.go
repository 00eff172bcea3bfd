package imaging

import (
	"context"
	"hash/fnv"
	"image"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

const (
	proceduralDefaultSize = 512 // Used when the request has no size
	proceduralOctaves     = 5   // Fractal noise octaves
	proceduralLattice     = 4   // Lattice cells across the first octave
	proceduralPaletteSize = 256 // Size of the colour lookup table
)

// ProceduralGenerator is an offline ImageGenerator that paints a fractal
// value-noise field coloured by the request palette. The same bucket always
// produces the same image; higher energy gives a higher-contrast field.
//
// Thread-safety: This implementation is thread-safe.
type ProceduralGenerator struct {
	logger *slog.Logger
}

// NewProceduralGenerator creates a procedural generator.
func NewProceduralGenerator(logger *slog.Logger) *ProceduralGenerator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ProceduralGenerator{
		logger: logger.With(slog.String("component", "procedural_generator")),
	}
}

// Generate implements ports.ImageGenerator. Cancellation is checked once per row.
func (g *ProceduralGenerator) Generate(ctx context.Context, req domain.ImageRequest) (image.Image, error) {
	w, h := req.Width, req.Height
	if w <= 0 || h <= 0 {
		w, h = proceduralDefaultSize, proceduralDefaultSize
	}

	palette, err := buildPalette(req.Palette)
	if err != nil {
		return nil, domain.NewGenerationError(req.Bucket.Key(), "invalid palette", err)
	}

	noise := newValueNoise(seedFor(req.Bucket))
	contrast := 0.6 + float64(req.Bucket.Energy)/10
	// faster tempos zoom in on finer detail
	scale := float64(proceduralLattice) * (0.75 + float64(req.Bucket.BPM)/240)

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := float64(y) / float64(h) * scale
		row := img.Pix[y*img.Stride : y*img.Stride+4*w]
		for x := 0; x < w; x++ {
			u := float64(x) / float64(w) * scale
			n := noise.fractal(u, v, proceduralOctaves)
			// stretch around the midpoint
			n = domain.Clamp01((n-0.5)*contrast + 0.5)

			c := palette[int(n*(proceduralPaletteSize-1))]
			i := 4 * x
			row[i], row[i+1], row[i+2], row[i+3] = c[0], c[1], c[2], 255
		}
	}

	g.logger.Debug("procedural image generated",
		slog.String("bucket", req.Bucket.Key()),
		slog.String("mood", string(req.Mood)),
		slog.Int("width", w),
		slog.Int("height", h))
	return img, nil
}

// buildPalette interpolates primary → secondary → accent in HCL space.
func buildPalette(scheme domain.ColorScheme) ([][3]uint8, error) {
	if scheme == (domain.ColorScheme{}) {
		scheme = domain.DefaultColorScheme()
	}
	if err := scheme.Validate(); err != nil {
		return nil, err
	}

	stops := make([]colorful.Color, 0, 3)
	for _, hex := range scheme.Colors() {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, err
		}
		stops = append(stops, c)
	}

	palette := make([][3]uint8, proceduralPaletteSize)
	for i := range palette {
		t := float64(i) / (proceduralPaletteSize - 1) * 2
		a, b := stops[0], stops[1]
		if t > 1 {
			a, b, t = stops[1], stops[2], t-1
		}
		r, g, bl := a.BlendHcl(b, t).Clamped().RGB255()
		palette[i] = [3]uint8{r, g, bl}
	}
	return palette, nil
}

// seedFor derives a stable seed from the feature bucket.
func seedFor(bucket domain.FeatureBucket) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(bucket.Key()))
	return h.Sum64()
}

// valueNoise is tileable 2D value noise over a 256x256 lattice.
type valueNoise struct {
	values [256]float64
	perm   [512]uint8
}

func newValueNoise(seed uint64) *valueNoise {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	n := &valueNoise{}
	for i := range n.values {
		n.values[i] = rng.Float64()
	}
	for i := 0; i < 256; i++ {
		n.perm[i] = uint8(i)
	}
	rng.Shuffle(256, func(i, j int) {
		n.perm[i], n.perm[j] = n.perm[j], n.perm[i]
	})
	copy(n.perm[256:], n.perm[:256])
	return n
}

func (n *valueNoise) lattice(x, y int) float64 {
	return n.values[n.perm[int(n.perm[x&255])+y&255]]
}

// at samples smoothly interpolated noise in [0, 1].
func (n *valueNoise) at(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := smoothstep(x-x0), smoothstep(y-y0)
	ix, iy := int(x0), int(y0)

	top := lerp(n.lattice(ix, iy), n.lattice(ix+1, iy), fx)
	bottom := lerp(n.lattice(ix, iy+1), n.lattice(ix+1, iy+1), fx)
	return lerp(top, bottom, fy)
}

// fractal sums octaves of noise with halving amplitude, normalised to [0, 1].
func (n *valueNoise) fractal(x, y float64, octaves int) float64 {
	var sum, norm float64
	amp, freq := 1.0, 1.0
	for o := 0; o < octaves; o++ {
		sum += amp * n.at(x*freq, y*freq)
		norm += amp
		amp *= 0.5
		freq *= 2
	}
	return sum / norm
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

var _ ports.ImageGenerator = (*ProceduralGenerator)(nil)

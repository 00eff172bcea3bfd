package renderer

import (
	"log/slog"
	"math"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Equalizer bounds and defaults.
const (
	MinBarCount = 8
	MaxBarCount = 256

	DefaultBarCount   = 64
	DefaultBarSpacing = 2.0
	DefaultSmoothing  = 0.8

	// maxBarHeightRatio leaves a margin above the tallest bar
	maxBarHeightRatio = 0.8
)

// EqualizerState is a snapshot of the equalizer configuration.
type EqualizerState struct {
	BarCount      int
	BarWidth      float64
	BarSpacing    float64
	Smoothing     float64
	ColorGradient [3]string
}

// EqualizerOptions configures an EqualizerRenderer.
type EqualizerOptions struct {
	BarCount   int
	BarSpacing float64
	Smoothing  float64
}

// DefaultEqualizerOptions returns 64 bars, 2px apart, with 0.8 smoothing.
func DefaultEqualizerOptions() EqualizerOptions {
	return EqualizerOptions{
		BarCount:   DefaultBarCount,
		BarSpacing: DefaultBarSpacing,
		Smoothing:  DefaultSmoothing,
	}
}

// EqualizerRenderer draws the frequency spectrum as smoothed vertical bars.
type EqualizerRenderer struct {
	logger *slog.Logger

	canvas ports.Canvas2D

	barCount  int
	spacing   float64
	smoothing float64

	hex   [3]string
	stops []colorful.Color

	// smoothed holds the per-bar moving average, one entry per bar
	smoothed []float64
	raw      []float64
	barWidth float64
}

// NewEqualizerRenderer creates an equalizer renderer. Call Initialize before Render.
func NewEqualizerRenderer(logger *slog.Logger, opts EqualizerOptions) *EqualizerRenderer {
	e := &EqualizerRenderer{
		logger:  layerLogger(logger, "equalizer"),
		spacing: math.Max(opts.BarSpacing, 0),
	}
	e.SetBarCount(opts.BarCount)
	e.SetSmoothing(opts.Smoothing)
	e.SetColorScheme(domain.DefaultColorScheme())
	return e
}

// Initialize binds the canvas and resets the smoothing history.
func (e *EqualizerRenderer) Initialize(canvas ports.Canvas2D) error {
	if canvas == nil {
		return domain.ErrNoContext
	}
	e.canvas = canvas
	e.smoothed = make([]float64, e.barCount)
	e.raw = make([]float64, e.barCount)
	e.logger.Debug("equalizer initialized",
		slog.Int("bars", e.barCount),
		slog.Float64("smoothing", e.smoothing))
	return nil
}

// SetColorScheme uses primary, secondary and accent as the three gradient stops.
func (e *EqualizerRenderer) SetColorScheme(scheme domain.ColorScheme) {
	e.hex = [3]string{scheme.Primary, scheme.Secondary, scheme.Accent}
	e.stops = []colorful.Color{
		parseColor(scheme.Primary),
		parseColor(scheme.Secondary),
		parseColor(scheme.Accent),
	}
}

// SetBarCount clamps n to [8, 256] and returns the stored value.
// Existing bars keep their smoothing history; new bars start at zero.
func (e *EqualizerRenderer) SetBarCount(n int) int {
	if n < MinBarCount {
		n = MinBarCount
	}
	if n > MaxBarCount {
		n = MaxBarCount
	}
	if n == e.barCount {
		return n
	}
	e.barCount = n
	if e.smoothed != nil {
		e.smoothed = resize(e.smoothed, n)
		e.raw = resize(e.raw, n)
	}
	return n
}

// SetSmoothing clamps s to [0, 1] and returns the stored value.
func (e *EqualizerRenderer) SetSmoothing(s float64) float64 {
	e.smoothing = domain.Clamp01(s)
	return e.smoothing
}

// Render groups the frequency bins into bars, smooths them and draws them bottom-up.
func (e *EqualizerRenderer) Render(frame domain.AudioFrame, _ time.Time) error {
	if e.canvas == nil {
		return domain.ErrNotInitialized
	}

	groupMeans(frame.FrequencyBins, e.raw)
	s := e.smoothing
	for i, cur := range e.raw {
		e.smoothed[i] = e.smoothed[i]*s + cur*(1-s)
	}

	w, h := surfaceSize(e.canvas)
	e.barWidth = BarWidth(w, e.spacing, e.barCount)
	if e.barWidth <= 0 || h <= 0 {
		return nil
	}

	maxHeight := h * maxBarHeightRatio
	for i, v := range e.smoothed {
		height := v * maxHeight
		if height <= 0 {
			continue
		}
		x := float64(i) * (e.barWidth + e.spacing)
		t := 0.0
		if e.barCount > 1 {
			t = float64(i) / float64(e.barCount-1)
		}
		e.canvas.FillRect(x, h-height, e.barWidth, height, toNRGBA(lerpStops(e.stops, t), 1), ports.Opaque)
	}

	return nil
}

// Cleanup releases the canvas and the smoothing history.
func (e *EqualizerRenderer) Cleanup() {
	e.canvas = nil
	e.smoothed = nil
	e.raw = nil
}

// Smoothed returns a copy of the smoothed bar values in [0, 1].
func (e *EqualizerRenderer) Smoothed() []float64 {
	return append([]float64(nil), e.smoothed...)
}

// State returns a snapshot of the equalizer configuration.
func (e *EqualizerRenderer) State() EqualizerState {
	return EqualizerState{
		BarCount:      e.barCount,
		BarWidth:      e.barWidth,
		BarSpacing:    e.spacing,
		Smoothing:     e.smoothing,
		ColorGradient: e.hex,
	}
}

// BarWidth returns the exact (unfloored) width of each of n bars across width.
func BarWidth(width, spacing float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	return (width - spacing*float64(n-1)) / float64(n)
}

// groupMeans partitions bins into len(out) contiguous groups and stores each
// group's mean normalized to [0, 1]. With fewer bins than bars, neighbouring
// bars share a bin; with no bins every bar reads zero.
func groupMeans(bins []byte, out []float64) {
	n := len(out)
	total := len(bins)
	for i := range out {
		start := i * total / n
		end := (i + 1) * total / n
		if end <= start {
			if start >= total {
				out[i] = 0
				continue
			}
			end = start + 1
		}
		sum := 0
		for _, b := range bins[start:end] {
			sum += int(b)
		}
		out[i] = float64(sum) / float64(end-start) / 255
	}
}

func resize(values []float64, n int) []float64 {
	if n <= cap(values) {
		old := len(values)
		values = values[:n]
		for i := old; i < n; i++ {
			values[i] = 0
		}
		return values
	}
	out := make([]float64, n)
	copy(out, values)
	return out
}

var _ Renderer = (*EqualizerRenderer)(nil)

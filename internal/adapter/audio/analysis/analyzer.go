// Package analysis turns mono PCM windows into domain.AudioFrame values.
// The byte spectrum follows the Web Audio AnalyserNode conventions so the
// renderers see the same value ranges a browser host would provide.
package analysis

import (
	"math"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// Config controls Analyzer behavior.
type Config struct {
	// SampleRate of the incoming samples in Hz (default 44100)
	SampleRate float64

	// FFTSize is the analysis window; rounded up to a power of two (default 2048)
	FFTSize int

	// MinDecibels and MaxDecibels map magnitudes onto 0..255 (default -100 / -30)
	MinDecibels float64
	MaxDecibels float64

	// Smoothing averages magnitudes over time (0 to 1, default 0.8)
	Smoothing float64
}

// DefaultConfig returns the AnalyserNode defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:  44_100,
		FFTSize:     2048,
		MinDecibels: -100,
		MaxDecibels: -30,
		Smoothing:   0.8,
	}
}

// Analyzer performs FFT-based spectral analysis and tempo tracking.
// It is not safe for concurrent use; sources own one analyzer each.
type Analyzer struct {
	cfg Config

	window   []float64
	input    []float64
	smoothed []float64

	tempo *tempoTracker
}

// New creates an Analyzer. A zero SampleRate, FFTSize or decibel range takes the default.
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = def.FFTSize
	}
	cfg.FFTSize = max(nextPow2(cfg.FFTSize), 32)
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels, cfg.MaxDecibels = def.MinDecibels, def.MaxDecibels
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MaxDecibels = cfg.MinDecibels + 1
	}
	cfg.Smoothing = domain.Clamp01(cfg.Smoothing)

	a := &Analyzer{
		cfg:      cfg,
		window:   make([]float64, cfg.FFTSize),
		input:    make([]float64, cfg.FFTSize),
		smoothed: make([]float64, cfg.FFTSize/2),
		tempo:    newTempoTracker(),
	}
	size := float64(cfg.FFTSize)
	for i := range a.window {
		a.window[i] = hann(float64(i), size)
	}
	return a
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// WindowSize returns how many samples Analyze looks at.
func (a *Analyzer) WindowSize() int {
	return a.cfg.FFTSize
}

// Analyze returns the frame for the most recent WindowSize samples.
// Shorter inputs are treated as preceded by silence. delta is the time since
// the previous call and drives tempo tracking.
func (a *Analyzer) Analyze(samples []float32, delta time.Duration) domain.AudioFrame {
	n := a.cfg.FFTSize
	if len(samples) > n {
		samples = samples[len(samples)-n:]
	}
	pad := n - len(samples)

	timeDomain := make([]byte, n)
	var sumSq float64
	for i := 0; i < n; i++ {
		s := 0.0
		if i >= pad {
			s = float64(samples[i-pad])
		}
		sumSq += s * s
		a.input[i] = s * a.window[i]
		timeDomain[i] = timeDomainByte(s)
	}
	energy := domain.Clamp01(math.Sqrt(sumSq / float64(n)))

	spectrum := fft.FFTReal(a.input)
	bins := make([]byte, n/2)
	tau := a.cfg.Smoothing
	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	for k := range bins {
		mag := cmag(spectrum[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
		bins[k] = a.decibelByte(a.smoothed[k], span)
	}

	return domain.AudioFrame{
		FrequencyBins: bins,
		TimeDomain:    timeDomain,
		BPM:           a.tempo.observe(energy, delta),
		Energy:        energy,
	}
}

// Reset clears smoothing and tempo state.
func (a *Analyzer) Reset() {
	clear(a.smoothed)
	a.tempo = newTempoTracker()
}

func (a *Analyzer) decibelByte(mag, span float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - a.cfg.MinDecibels) / span
	return byte(domain.Clamp(math.Floor(v), 0, 255))
}

// timeDomainByte maps [-1, 1] to 0..255 with 128 as silence.
func timeDomainByte(s float64) byte {
	return byte(domain.Clamp(math.Floor(128*(1+s)), 0, 255))
}

func hann(i, size float64) float64 {
	return 0.5 * (1.0 - math.Cos(2.0*math.Pi*i/size))
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

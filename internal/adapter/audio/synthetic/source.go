// Package synthetic provides an AudioSource that generates a beat-locked test signal.
// It lets the visualizer run without an audio device.
package synthetic

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tejashwikalptaru/audiovis/internal/adapter/audio/analysis"
	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

const (
	kickFreq   = 55.0  // Kick drum pitch in Hz
	kickDecay  = 25.0  // Kick envelope decay per second
	bassFreq   = 110.0 // Sustained bass tone in Hz
	leadFreq   = 880.0 // Lead tone in Hz
	noiseLevel = 0.01  // White noise amplitude
)

// Options configures a Source.
type Options struct {
	// BPM of the generated beat (default 120)
	BPM float64

	// Seed makes the noise reproducible
	Seed uint64

	// Analysis configures the analyzer fed with the signal
	Analysis analysis.Config
}

// DefaultOptions returns options for a 120 BPM signal.
func DefaultOptions() Options {
	return Options{
		BPM:      120,
		Seed:     1,
		Analysis: analysis.DefaultConfig(),
	}
}

// Source is a synthetic AudioSource: a decaying kick on every beat over a
// bass tone and a slowly swelling lead.
//
// Thread-safety: This implementation is thread-safe.
type Source struct {
	logger *slog.Logger

	mu       sync.Mutex
	analyzer *analysis.Analyzer
	rng      *rand.Rand
	bpm      float64
	position time.Duration
	samples  []float32
	closed   bool
}

// NewSource creates a synthetic source.
func NewSource(logger *slog.Logger, opts Options) *Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.BPM <= 0 {
		opts.BPM = 120
	}
	a := analysis.New(opts.Analysis)

	s := &Source{
		logger:   logger.With(slog.String("component", "synthetic_audio")),
		analyzer: a,
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5bd1e995)),
		bpm:      domain.Clamp(opts.BPM, analysis.MinBPM, analysis.MaxBPM),
		samples:  make([]float32, a.WindowSize()),
	}
	s.logger.Debug("synthetic source created", slog.Float64("bpm", s.bpm))
	return s
}

// SetBPM changes the beat tempo, clamped to the analyzer's range.
func (s *Source) SetBPM(bpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bpm = domain.Clamp(bpm, analysis.MinBPM, analysis.MaxBPM)
}

// Position returns how far the signal has advanced.
func (s *Source) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Next implements ports.AudioSource.
func (s *Source) Next(delta time.Duration) (domain.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.AudioFrame{}, domain.ErrSourceClosed
	}
	if delta > 0 {
		s.position += delta
	}

	rate := s.analyzer.Config().SampleRate
	end := s.position.Seconds()
	n := len(s.samples)
	for i := range s.samples {
		ts := end - float64(n-1-i)/rate
		if ts < 0 {
			s.samples[i] = 0
			continue
		}
		s.samples[i] = float32(s.signal(ts))
	}

	return s.analyzer.Analyze(s.samples, delta), nil
}

// signal evaluates the waveform at ts seconds.
func (s *Source) signal(ts float64) float64 {
	period := 60 / s.bpm
	phase := math.Mod(ts, period)

	kick := 0.9 * math.Exp(-phase*kickDecay) * math.Sin(2*math.Pi*kickFreq*phase)
	bass := 0.15 * math.Sin(2*math.Pi*bassFreq*ts)
	swell := 0.5 + 0.5*math.Sin(2*math.Pi*0.25*ts)
	lead := 0.08 * swell * math.Sin(2*math.Pi*leadFreq*ts)
	noise := (s.rng.Float64()*2 - 1) * noiseLevel

	return domain.Clamp(kick+bass+lead+noise, -1, 1)
}

// Close implements ports.AudioSource.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ ports.AudioSource = (*Source)(nil)

package renderer

import (
	"log/slog"
	"math"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Gradient animation constants.
const (
	// DefaultFallbackBPM keeps the gradient moving when no tempo is detected.
	DefaultFallbackBPM = 60.0

	gradientAngleSmoothing = 0.1
	gradientAlpha          = 0.2
	maxGradientSpeed       = 10.0
)

// GradientState is a snapshot of the gradient's animation state.
type GradientState struct {
	Colors         [2]string
	Angle          float64
	AnimationPhase float64
	BPMSync        bool
}

// GradientOptions configures a GradientRenderer.
type GradientOptions struct {
	// SpeedMultiplier scales beats per second (default 1)
	SpeedMultiplier float64

	// FixedTempo ignores the frame tempo and rotates at the fallback tempo.
	// The zero value follows the beat.
	FixedTempo bool

	// Clock sets the animation origin at Initialize (default time.Now)
	Clock Clock
}

// DefaultGradientOptions returns beat-synced options at normal speed.
func DefaultGradientOptions() GradientOptions {
	return GradientOptions{SpeedMultiplier: 1}
}

// GradientRenderer draws a rotating two-tone linear gradient phase-locked to the beat.
type GradientRenderer struct {
	logger *slog.Logger
	clock  Clock

	canvas ports.Canvas2D

	hex    [2]string
	colors [2]colorful.Color

	speed    float64
	bpmSync  bool
	initTime time.Time
	phase    float64
	angle    float64
}

// NewGradientRenderer creates a gradient renderer. Call Initialize before Render.
func NewGradientRenderer(logger *slog.Logger, opts GradientOptions) *GradientRenderer {
	g := &GradientRenderer{
		logger:  layerLogger(logger, "gradient"),
		clock:   opts.Clock.orDefault(),
		bpmSync: !opts.FixedTempo,
	}
	g.SetSpeedMultiplier(opts.SpeedMultiplier)
	g.SetColorScheme(domain.DefaultColorScheme())
	return g
}

// Initialize binds the canvas and starts the animation clock.
func (g *GradientRenderer) Initialize(canvas ports.Canvas2D) error {
	if canvas == nil {
		return domain.ErrNoContext
	}
	g.canvas = canvas
	g.initTime = g.clock()
	g.phase = 0
	g.angle = 0
	g.logger.Debug("gradient initialized", slog.Float64("speed", g.speed))
	return nil
}

// SetColorScheme uses the primary and secondary colours as the gradient ends.
func (g *GradientRenderer) SetColorScheme(scheme domain.ColorScheme) {
	g.hex = [2]string{scheme.Primary, scheme.Secondary}
	g.colors = [2]colorful.Color{parseColor(scheme.Primary), parseColor(scheme.Secondary)}
}

// SetSpeedMultiplier sets the tempo multiplier and returns the stored value.
// Non-positive input resets to 1.
func (g *GradientRenderer) SetSpeedMultiplier(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		v = 1
	}
	g.speed = math.Min(v, maxGradientSpeed)
	return g.speed
}

// SetBPMSync toggles whether rotation follows the frame tempo.
func (g *GradientRenderer) SetBPMSync(enabled bool) {
	g.bpmSync = enabled
}

// Render advances the phase for ts and draws the gradient.
func (g *GradientRenderer) Render(frame domain.AudioFrame, ts time.Time) error {
	if g.canvas == nil {
		return domain.ErrNotInitialized
	}

	bpm := frame.BPM
	if !g.bpmSync || bpm <= 0 || math.IsNaN(bpm) {
		bpm = DefaultFallbackBPM
	}

	elapsed := ts.Sub(g.initTime).Seconds()
	g.phase = Phase(elapsed, bpm/60*g.speed)
	g.angle = smoothAngle(g.angle, g.phase*2*math.Pi, gradientAngleSmoothing)

	w, h := surfaceSize(g.canvas)
	x0, y0, x1, y1 := gradientLine(w, h, g.angle)
	g.canvas.FillLinearGradient(x0, y0, x1, y1, []ports.GradientStop{
		{Offset: 0, Color: toNRGBA(g.colors[0], 1)},
		{Offset: 1, Color: toNRGBA(g.colors[1], 1)},
	}, ports.WithAlpha(gradientAlpha))

	return nil
}

// Cleanup releases the canvas.
func (g *GradientRenderer) Cleanup() {
	g.canvas = nil
}

// Phase returns the current animation phase in [0, 1).
func (g *GradientRenderer) Phase() float64 {
	return g.phase
}

// State returns a snapshot of the animation state.
func (g *GradientRenderer) State() GradientState {
	return GradientState{
		Colors:         g.hex,
		Angle:          g.angle,
		AnimationPhase: g.phase,
		BPMSync:        g.bpmSync,
	}
}

// Phase computes frac(elapsedSeconds * beatsPerSecond) normalized into [0, 1),
// including for negative elapsed time.
func Phase(elapsedSeconds, beatsPerSecond float64) float64 {
	p := math.Mod(elapsedSeconds*beatsPerSecond, 1)
	if math.IsNaN(p) {
		return 0
	}
	if p < 0 {
		p++
	}
	// p+1 rounds up to exactly 1 for tiny negative p
	if p >= 1 {
		p = 0
	}
	return p
}

// smoothAngle moves current toward target along the shortest arc.
// The result is normalized into [0, 2π).
func smoothAngle(current, target, factor float64) float64 {
	diff := math.Remainder(target-current, 2*math.Pi)
	next := math.Mod(current+diff*factor, 2*math.Pi)
	if next < 0 {
		next += 2 * math.Pi
	}
	if next >= 2*math.Pi {
		next = 0
	}
	return next
}

// gradientLine projects from the centre by half the diagonal at angle and
// angle+π so the gradient always spans the surface corner to corner.
// The line between the endpoints is therefore one full diagonal long.
func gradientLine(w, h, angle float64) (x0, y0, x1, y1 float64) {
	cx, cy := w/2, h/2
	r := math.Hypot(w, h) / 2
	x0 = cx + math.Cos(angle+math.Pi)*r
	y0 = cy + math.Sin(angle+math.Pi)*r
	x1 = cx + math.Cos(angle)*r
	y1 = cy + math.Sin(angle)*r
	return x0, y0, x1, y1
}

var _ Renderer = (*GradientRenderer)(nil)

package renderer

import (
	"image"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Spotlight defaults and limits.
const (
	DefaultLightCount = 5
	DefaultMinRadius  = 30.0
	DefaultMaxRadius  = 100.0
	DefaultIntensity  = 0.8

	MaxLightCount = 50
	MaxRadius     = 100.0

	// referenceBPM gives a speed multiplier of 1
	referenceBPM = 120.0

	// baselineFPS normalizes velocities expressed in pixels per 60fps frame
	baselineFPS = 60.0

	defaultMaxSpeed       = 4.0
	defaultPerturbChance  = 0.01
	perturbStrength       = 0.5
	initialSpeed          = 2.0
	maxFrameDelta         = 100 * time.Millisecond
	firstFrameDeltaSecond = 1.0 / baselineFPS
)

// Vec2 is a 2D vector in surface pixels.
type Vec2 struct {
	X, Y float64
}

// Spotlight is one moving radial light.
type Spotlight struct {
	Position Vec2
	Velocity Vec2
	Radius   float64
	Color    string
}

// SpotlightState is a snapshot of the spotlight field.
type SpotlightState struct {
	Lights        []Spotlight
	HasBackground bool
	Intensity     float64
}

// SpotlightOptions configures a SpotlightRenderer.
type SpotlightOptions struct {
	Count     int
	MinRadius float64
	MaxRadius float64
	Intensity float64

	// Speed is the AI speed override multiplier (default 1)
	Speed float64

	// MaxSpeed bounds the velocity magnitude after a perturbation
	MaxSpeed float64

	// PerturbChance is the per-light, per-frame probability of a velocity nudge
	PerturbChance float64

	// Rand drives placement and drift; defaults to a time-seeded source
	Rand *rand.Rand
}

// DefaultSpotlightOptions returns five lights with radii in [30, 100].
func DefaultSpotlightOptions() SpotlightOptions {
	return SpotlightOptions{
		Count:         DefaultLightCount,
		MinRadius:     DefaultMinRadius,
		MaxRadius:     DefaultMaxRadius,
		Intensity:     DefaultIntensity,
		Speed:         1,
		MaxSpeed:      defaultMaxSpeed,
		PerturbChance: defaultPerturbChance,
	}
}

// SpotlightRenderer animates radial pin lights with elastic edge reflection.
type SpotlightRenderer struct {
	logger *slog.Logger
	rng    *rand.Rand

	canvas ports.Canvas2D

	count         int
	minRadius     float64
	maxRadius     float64
	intensity     float64
	speed         float64
	maxSpeed      float64
	perturbChance float64

	palette    []string
	lights     []light
	background image.Image
	lastTS     time.Time
}

type light struct {
	pos    Vec2
	vel    Vec2
	radius float64
	slot   int
	color  colorful.Color
}

// NewSpotlightRenderer creates a spotlight renderer. Call Initialize before Render.
func NewSpotlightRenderer(logger *slog.Logger, opts SpotlightOptions) *SpotlightRenderer {
	defaults := DefaultSpotlightOptions()
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if opts.Count == 0 {
		opts.Count = defaults.Count
	}
	if opts.MinRadius == 0 && opts.MaxRadius == 0 {
		opts.MinRadius, opts.MaxRadius = defaults.MinRadius, defaults.MaxRadius
	}
	if opts.MaxSpeed <= 0 {
		opts.MaxSpeed = defaults.MaxSpeed
	}
	if opts.Speed == 0 {
		opts.Speed = 1
	}

	s := &SpotlightRenderer{
		logger:        layerLogger(logger, "spotlight"),
		rng:           opts.Rand,
		maxSpeed:      opts.MaxSpeed,
		perturbChance: domain.Clamp01(opts.PerturbChance),
	}
	s.count = clampCount(opts.Count)
	s.minRadius, s.maxRadius = clampRadii(opts.MinRadius, opts.MaxRadius)
	s.SetIntensity(opts.Intensity)
	s.SetSpeed(opts.Speed)
	s.SetColorScheme(domain.DefaultColorScheme())
	return s
}

// Initialize binds the canvas and scatters the lights across it.
func (s *SpotlightRenderer) Initialize(canvas ports.Canvas2D) error {
	if canvas == nil {
		return domain.ErrNoContext
	}
	s.canvas = canvas
	s.lastTS = time.Time{}
	s.spawn()
	s.logger.Debug("spotlights initialized", slog.Int("lights", len(s.lights)))
	return nil
}

// SetColorScheme recolours the lights round-robin from the palette.
func (s *SpotlightRenderer) SetColorScheme(scheme domain.ColorScheme) {
	s.palette = scheme.Colors()
	for i := range s.lights {
		s.lights[i].color = parseColor(s.palette[s.lights[i].slot%len(s.palette)])
	}
}

// SetIntensity clamps v to [0, 1] and returns the stored value.
func (s *SpotlightRenderer) SetIntensity(v float64) float64 {
	s.intensity = domain.Clamp01(v)
	return s.intensity
}

// SetSpeed sets the AI speed override (clamped to [0, 10]) and returns the stored value.
func (s *SpotlightRenderer) SetSpeed(v float64) float64 {
	s.speed = domain.Clamp(v, 0, 10)
	return s.speed
}

// SetLightCount changes the number of lights, clamped to [1, 50].
// An initialized renderer places a fresh set of lights.
func (s *SpotlightRenderer) SetLightCount(n int) int {
	s.count = clampCount(n)
	if s.canvas != nil && s.count != len(s.lights) {
		s.spawn()
	}
	return s.count
}

// SetRadiusRange sets the radius bounds and re-rolls every light's radius.
// Radii are kept in (0, 100] with min <= max.
func (s *SpotlightRenderer) SetRadiusRange(minRadius, maxRadius float64) (float64, float64) {
	s.minRadius, s.maxRadius = clampRadii(minRadius, maxRadius)
	for i := range s.lights {
		s.lights[i].radius = s.randomRadius()
	}
	return s.minRadius, s.maxRadius
}

// RadiusRange returns the current radius bounds.
func (s *SpotlightRenderer) RadiusRange() (float64, float64) {
	return s.minRadius, s.maxRadius
}

// SetBackgroundImage sets an optional backdrop. With a backdrop the lights
// composite additively so they read as illumination.
func (s *SpotlightRenderer) SetBackgroundImage(img image.Image) {
	s.background = img
}

// Render advances every light by the frame delta and draws them.
func (s *SpotlightRenderer) Render(frame domain.AudioFrame, ts time.Time) error {
	if s.canvas == nil {
		return domain.ErrNotInitialized
	}

	dt := firstFrameDeltaSecond
	if !s.lastTS.IsZero() {
		d := ts.Sub(s.lastTS)
		if d < 0 {
			d = 0
		}
		if d > maxFrameDelta {
			d = maxFrameDelta
		}
		dt = d.Seconds()
	}
	s.lastTS = ts

	w, h := surfaceSize(s.canvas)
	energy := domain.Clamp01(frame.Energy)
	s.step(w, h, SpeedMultiplier(frame.BPM, energy, s.speed), dt)

	alpha := s.intensity * (0.5 + 0.5*energy)
	blend := domain.BlendNormal
	if s.background != nil {
		blend = domain.BlendAdd
	}
	for _, l := range s.lights {
		s.canvas.FillRadialGradient(l.pos.X, l.pos.Y, l.radius, []ports.GradientStop{
			{Offset: 0, Color: toNRGBA(l.color, 1)},
			{Offset: 0.5, Color: toNRGBA(l.color, 0.5)},
			{Offset: 1, Color: toNRGBA(l.color, 0)},
		}, ports.DrawOptions{Alpha: alpha, Blend: blend})
	}

	return nil
}

// Cleanup releases the canvas and discards the lights.
func (s *SpotlightRenderer) Cleanup() {
	s.canvas = nil
	s.lights = nil
	s.background = nil
}

// Lights returns a snapshot of every light.
func (s *SpotlightRenderer) Lights() []Spotlight {
	out := make([]Spotlight, len(s.lights))
	for i, l := range s.lights {
		out[i] = Spotlight{
			Position: l.pos,
			Velocity: l.vel,
			Radius:   l.radius,
			Color:    s.palette[l.slot%len(s.palette)],
		}
	}
	return out
}

// State returns a snapshot of the spotlight field.
func (s *SpotlightRenderer) State() SpotlightState {
	return SpotlightState{
		Lights:        s.Lights(),
		HasBackground: s.background != nil,
		Intensity:     s.intensity,
	}
}

// SpeedMultiplier is (bpm/120) * (1 + energy*0.5) * override.
// A missing tempo moves at the reference speed.
func SpeedMultiplier(bpm, energy, override float64) float64 {
	if bpm <= 0 || math.IsNaN(bpm) {
		bpm = referenceBPM
	}
	return (bpm / referenceBPM) * (1 + domain.Clamp01(energy)*0.5) * override
}

// step moves every light, reflecting off the edges, and occasionally perturbs its velocity.
func (s *SpotlightRenderer) step(w, h, mult, dt float64) {
	scale := mult * dt * baselineFPS
	for i := range s.lights {
		l := &s.lights[i]

		// the host may have shrunk the surface since the last frame
		l.pos.X = domain.Clamp(l.pos.X, 0, w)
		l.pos.Y = domain.Clamp(l.pos.Y, 0, h)

		l.pos.X += l.vel.X * scale
		l.pos.Y += l.vel.Y * scale
		l.pos.X, l.vel.X = reflect(l.pos.X, l.vel.X, w)
		l.pos.Y, l.vel.Y = reflect(l.pos.Y, l.vel.Y, h)

		if s.rng.Float64() < s.perturbChance {
			l.vel.X += (s.rng.Float64()*2 - 1) * perturbStrength
			l.vel.Y += (s.rng.Float64()*2 - 1) * perturbStrength
			l.vel = limit(l.vel, s.maxSpeed)
		}
	}
}

// reflect clamps p into [0, limit] and points v back inside when an edge was crossed.
func reflect(p, v, limit float64) (float64, float64) {
	switch {
	case p < 0:
		return 0, math.Abs(v)
	case p > limit:
		return limit, -math.Abs(v)
	default:
		return p, v
	}
}

func limit(v Vec2, maxSpeed float64) Vec2 {
	speed := math.Hypot(v.X, v.Y)
	if speed <= maxSpeed || speed == 0 {
		return v
	}
	k := maxSpeed / speed
	return Vec2{X: v.X * k, Y: v.Y * k}
}

func (s *SpotlightRenderer) spawn() {
	w, h := surfaceSize(s.canvas)
	s.lights = make([]light, s.count)
	for i := range s.lights {
		angle := s.rng.Float64() * 2 * math.Pi
		speed := initialSpeed * (0.5 + s.rng.Float64()*0.5)
		s.lights[i] = light{
			pos:    Vec2{X: s.rng.Float64() * w, Y: s.rng.Float64() * h},
			vel:    Vec2{X: math.Cos(angle) * speed, Y: math.Sin(angle) * speed},
			radius: s.randomRadius(),
			slot:   i,
			color:  parseColor(s.palette[i%len(s.palette)]),
		}
	}
}

func (s *SpotlightRenderer) randomRadius() float64 {
	return s.minRadius + s.rng.Float64()*(s.maxRadius-s.minRadius)
}

func clampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxLightCount {
		return MaxLightCount
	}
	return n
}

func clampRadii(minRadius, maxRadius float64) (float64, float64) {
	minRadius = domain.Clamp(minRadius, 1, MaxRadius)
	maxRadius = domain.Clamp(maxRadius, 1, MaxRadius)
	if minRadius > maxRadius {
		minRadius, maxRadius = maxRadius, minRadius
	}
	return minRadius, maxRadius
}

var _ Renderer = (*SpotlightRenderer)(nil)

// Package domain contains the core domain models for the visualization engine.
// These models are independent of any drawing backend or host framework.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// AudioFrame is one snapshot of audio analysis data.
// It is produced externally once per analysis tick and never mutated by renderers.
type AudioFrame struct {
	// FrequencyBins holds the byte-scaled magnitude spectrum (0-255 per bin)
	FrequencyBins []byte

	// TimeDomain holds the byte-scaled waveform (128 is silence)
	TimeDomain []byte

	// BPM is the detected tempo in beats per minute (0 if unknown)
	BPM float64

	// Energy is the overall loudness, 0.0 to 1.0
	Energy float64
}

// Clone returns a deep copy of the frame so the caller's buffers can be reused.
func (f AudioFrame) Clone() AudioFrame {
	out := AudioFrame{BPM: f.BPM, Energy: f.Energy}
	if f.FrequencyBins != nil {
		out.FrequencyBins = append([]byte(nil), f.FrequencyBins...)
	}
	if f.TimeDomain != nil {
		out.TimeDomain = append([]byte(nil), f.TimeDomain...)
	}
	return out
}

// Mode selects which set of layers the engine renders.
type Mode string

// Available visualization modes.
const (
	ModeGradient  Mode = "gradient"
	ModeEqualizer Mode = "equalizer"
	ModeSpotlight Mode = "spotlight"
	ModeAIImage   Mode = "ai-image"
	ModeCombined  Mode = "combined"
)

// Modes returns every supported mode.
func Modes() []Mode {
	return []Mode{ModeGradient, ModeEqualizer, ModeSpotlight, ModeAIImage, ModeCombined}
}

// ParseMode converts a string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Layer is one independently animated visual layer.
type Layer string

// Available layers.
const (
	LayerBackgroundGradient Layer = "background-gradient"
	LayerEqualizerBars      Layer = "equalizer-bars"
	LayerSpotlightEffects   Layer = "spotlight-effects"
	LayerAIGeneratedImage   Layer = "ai-generated-image"
	LayerParticles          Layer = "particles"
)

// LayerOrder is the fixed order in which enabled layers are drawn.
var LayerOrder = []Layer{
	LayerBackgroundGradient,
	LayerEqualizerBars,
	LayerSpotlightEffects,
	LayerAIGeneratedImage,
	LayerParticles,
}

var modeLayers = map[Mode][]Layer{
	ModeGradient:  {LayerBackgroundGradient},
	ModeEqualizer: {LayerBackgroundGradient, LayerEqualizerBars},
	ModeSpotlight: {LayerBackgroundGradient, LayerSpotlightEffects},
	ModeAIImage:   {LayerAIGeneratedImage},
	ModeCombined:  {LayerBackgroundGradient, LayerEqualizerBars, LayerSpotlightEffects, LayerParticles},
}

// LayersForMode returns the layer set a mode activates.
// The returned slice is a copy and safe to modify.
func LayersForMode(mode Mode) []Layer {
	layers, ok := modeLayers[mode]
	if !ok {
		return nil
	}
	out := make([]Layer, len(layers))
	copy(out, layers)
	return out
}

// ParseLayer converts a string into a Layer.
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range LayerOrder {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLayer, s)
}

// ColorScheme is the three-colour palette shared by all renderers.
// Colours are hex strings such as "#ff0066".
type ColorScheme struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Accent    string `json:"accent"`
}

// DefaultColorScheme returns the palette used before any configuration is applied.
func DefaultColorScheme() ColorScheme {
	return ColorScheme{
		Primary:   "#ff006e",
		Secondary: "#3a86ff",
		Accent:    "#ffbe0b",
	}
}

// Colors returns the palette as an ordered slice.
func (s ColorScheme) Colors() []string {
	return []string{s.Primary, s.Secondary, s.Accent}
}

// Validate checks that all three colours are present and parseable.
func (s ColorScheme) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"primary", s.Primary},
		{"secondary", s.Secondary},
		{"accent", s.Accent},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return NewValidationError("colors."+f.name, f.value, "must not be empty")
		}
		if _, err := colorful.Hex(f.value); err != nil {
			return NewValidationError("colors."+f.name, f.value, "must be a hex colour (#rgb or #rrggbb)")
		}
	}
	return nil
}

// ColorSchemeFromPalette builds a scheme from an arbitrary-length palette.
// Missing entries repeat the last colour; an empty palette yields false.
func ColorSchemeFromPalette(palette []string) (ColorScheme, bool) {
	cleaned := make([]string, 0, len(palette))
	for _, c := range palette {
		if c = strings.TrimSpace(c); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return ColorScheme{}, false
	}
	for len(cleaned) < 3 {
		cleaned = append(cleaned, cleaned[len(cleaned)-1])
	}
	return ColorScheme{Primary: cleaned[0], Secondary: cleaned[1], Accent: cleaned[2]}, true
}

// BlendMode selects how an image is composited onto the surface.
type BlendMode string

// Supported blend modes.
const (
	BlendNormal   BlendMode = "normal"
	BlendMultiply BlendMode = "multiply"
	BlendScreen   BlendMode = "screen"
	BlendOverlay  BlendMode = "overlay"
	BlendLighten  BlendMode = "lighten"
	BlendDarken   BlendMode = "darken"
	BlendAdd      BlendMode = "lighter"
)

// ParseBlendMode converts a string into a BlendMode, falling back to normal.
func ParseBlendMode(s string) BlendMode {
	switch BlendMode(strings.ToLower(strings.TrimSpace(s))) {
	case BlendMultiply:
		return BlendMultiply
	case BlendScreen:
		return BlendScreen
	case BlendOverlay:
		return BlendOverlay
	case BlendLighten:
		return BlendLighten
	case BlendDarken:
		return BlendDarken
	case BlendAdd, "add", "additive":
		return BlendAdd
	default:
		return BlendNormal
	}
}

// EngineConfig holds engine-wide tuning values.
type EngineConfig struct {
	// Sensitivity scales incoming spectrum and energy (0.1 to 5.0)
	Sensitivity float64

	// Smoothing is the equalizer smoothing factor (0.0 to 1.0)
	Smoothing float64

	// Colors is the palette shared by every renderer
	Colors ColorScheme

	// TargetFPS drives the frame budget
	TargetFPS float64
}

// Config bounds.
const (
	MinSensitivity = 0.1
	MaxSensitivity = 5.0
	MinTargetFPS   = 1.0
	MaxTargetFPS   = 240.0
)

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Sensitivity: 1.0,
		Smoothing:   0.8,
		Colors:      DefaultColorScheme(),
		TargetFPS:   60,
	}
}

// ConfigPatch is a partial EngineConfig; nil fields are left untouched.
type ConfigPatch struct {
	Sensitivity *float64     `json:"sensitivity,omitempty"`
	Smoothing   *float64     `json:"smoothing,omitempty"`
	Colors      *ColorScheme `json:"colors,omitempty"`
	TargetFPS   *float64     `json:"targetFPS,omitempty"`
}

// Apply shallow-merges the patch into cfg. Numeric values are clamped.
func (p ConfigPatch) Apply(cfg EngineConfig) (EngineConfig, error) {
	if p.Colors != nil {
		if err := p.Colors.Validate(); err != nil {
			return cfg, err
		}
		cfg.Colors = *p.Colors
	}
	if p.Sensitivity != nil {
		cfg.Sensitivity = Clamp(*p.Sensitivity, MinSensitivity, MaxSensitivity)
	}
	if p.Smoothing != nil {
		cfg.Smoothing = Clamp01(*p.Smoothing)
	}
	if p.TargetFPS != nil {
		cfg.TargetFPS = Clamp(*p.TargetFPS, MinTargetFPS, MaxTargetFPS)
	}
	return cfg, nil
}

// AIConfig carries visualization parameters suggested by an AI provider.
// Every field is optional. Unknown JSON fields are ignored.
type AIConfig struct {
	Palette         []string `json:"palette,omitempty"`
	GradientSpeed   *float64 `json:"gradientSpeed,omitempty"`
	BarCount        *int     `json:"barCount,omitempty"`
	BarSmoothing    *float64 `json:"barSmoothing,omitempty"`
	LightCount      *int     `json:"lightCount,omitempty"`
	LightSpeed      *float64 `json:"lightSpeed,omitempty"`
	LightMinRadius  *float64 `json:"lightMinRadius,omitempty"`
	LightMaxRadius  *float64 `json:"lightMaxRadius,omitempty"`
	ImageOpacity    *float64 `json:"imageOpacity,omitempty"`
	ImageBlendMode  *string  `json:"imageBlendMode,omitempty"`
	ImageIntervalMs *int     `json:"imageIntervalMs,omitempty"`
}

// ParseAIConfig decodes a provider payload.
func ParseAIConfig(data []byte) (AIConfig, error) {
	var cfg AIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AIConfig{}, NewValidationError("aiConfig", string(data), err.Error())
	}
	return cfg, nil
}

// Mood is a coarse emotional category derived from tempo and energy.
type Mood string

// Moods, ordered roughly from most to least intense.
const (
	MoodEnergetic Mood = "energetic"
	MoodUpbeat    Mood = "upbeat"
	MoodModerate  Mood = "moderate"
	MoodCalm      Mood = "calm"
)

// MoodFor classifies a tempo/energy pair.
func MoodFor(bpm, energy float64) Mood {
	switch {
	case bpm > 140 && energy > 0.15:
		return MoodEnergetic
	case bpm > 100 && energy > 0.1:
		return MoodUpbeat
	case bpm < 80:
		return MoodCalm
	default:
		return MoodModerate
	}
}

// FeatureBucket is a coarse, comparable summary of the audio state.
// Visually similar audio maps to the same bucket.
type FeatureBucket struct {
	BPM    int
	Energy int // tenths
}

// BucketFor rounds bpm to the nearest 10 and energy to the nearest tenth.
func BucketFor(bpm, energy float64) FeatureBucket {
	return FeatureBucket{
		BPM:    int(math.Round(bpm/10) * 10),
		Energy: int(math.Round(Clamp01(energy) * 10)),
	}
}

// Key returns the cache key for the bucket.
func (b FeatureBucket) Key() string {
	return fmt.Sprintf("bpm%d-energy%d", b.BPM, b.Energy)
}

// ImageRequest describes one AI image generation.
type ImageRequest struct {
	Prompt  string
	Bucket  FeatureBucket
	Mood    Mood
	Palette ColorScheme
	Width   int
	Height  int
}

// Settings is the persisted subset of engine state.
type Settings struct {
	Mode        Mode        `json:"mode"`
	Colors      ColorScheme `json:"colors"`
	Sensitivity float64     `json:"sensitivity"`
	TargetFPS   float64     `json:"targetFPS"`
}

// DefaultSettings returns the settings of a freshly created engine.
func DefaultSettings() Settings {
	cfg := DefaultEngineConfig()
	return Settings{
		Mode:        ModeGradient,
		Colors:      cfg.Colors,
		Sensitivity: cfg.Sensitivity,
		TargetFPS:   cfg.TargetFPS,
	}
}

// Patch converts the settings into a ConfigPatch for the engine.
func (s Settings) Patch() ConfigPatch {
	colors := s.Colors
	sensitivity := s.Sensitivity
	fps := s.TargetFPS
	return ConfigPatch{
		Sensitivity: &sensitivity,
		Colors:      &colors,
		TargetFPS:   &fps,
	}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	return Clamp(v, 0, 1)
}

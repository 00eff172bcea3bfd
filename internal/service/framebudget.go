package service

import (
	"time"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
)

// FrameBudget decides which host ticks render a frame for a target FPS.
//
// A tick renders once at least one frame interval has passed since the last
// rendered frame. The part of the elapsed time beyond a whole interval is
// carried over, so the average rate converges to the target instead of
// drifting below it.
//
// FrameBudget is pure and not safe for concurrent use.
type FrameBudget struct {
	interval time.Duration
	last     time.Time
	started  bool
}

// NewFrameBudget creates a budget for fps frames per second.
func NewFrameBudget(fps float64) *FrameBudget {
	b := &FrameBudget{}
	b.SetFPS(fps)
	return b
}

// SetFPS changes the target rate. fps is clamped to the supported range.
func (b *FrameBudget) SetFPS(fps float64) {
	fps = domain.Clamp(fps, domain.MinTargetFPS, domain.MaxTargetFPS)
	b.interval = time.Duration(float64(time.Second) / fps)
}

// Interval returns the target frame interval.
func (b *FrameBudget) Interval() time.Duration {
	return b.interval
}

// Advance reports whether the tick at ts should render.
// The first tick always renders. A tick earlier than the last rendered one
// re-anchors the budget without rendering.
func (b *FrameBudget) Advance(ts time.Time) bool {
	if !b.started {
		b.started = true
		b.last = ts
		return true
	}

	elapsed := ts.Sub(b.last)
	if elapsed < 0 {
		b.last = ts
		return false
	}
	if elapsed < b.interval {
		return false
	}

	// keep the remainder below one interval
	b.last = ts.Add(-(elapsed % b.interval))
	return true
}

// Reset forgets the last rendered frame; the next tick renders.
func (b *FrameBudget) Reset() {
	b.started = false
	b.last = time.Time{}
}

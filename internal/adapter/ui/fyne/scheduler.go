package fyne

import (
	"sync"
	"time"

	fyneapp "fyne.io/fyne/v2"

	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// AnimationScheduler is a FrameScheduler driven by the Fyne animation loop,
// so frames are drawn on the UI thread in step with the display refresh.
type AnimationScheduler struct {
	clock func() time.Time
}

// NewAnimationScheduler creates a scheduler stamping frames with time.Now.
func NewAnimationScheduler() *AnimationScheduler {
	return &AnimationScheduler{clock: time.Now}
}

// Schedule implements ports.FrameScheduler.
func (s *AnimationScheduler) Schedule(callback func(ts time.Time)) (cancel func()) {
	loop := &frameLoop{callback: callback}

	anim := fyneapp.NewAnimation(time.Second, func(float32) {
		loop.step(s.clock())
	})
	anim.Curve = fyneapp.AnimationLinear
	anim.RepeatCount = fyneapp.AnimationRepeatForever
	anim.Start()

	return func() {
		if loop.stop() {
			anim.Stop()
		}
	}
}

// frameLoop guarantees no callback runs after stop returns.
type frameLoop struct {
	mu       sync.Mutex
	stopped  bool
	callback func(ts time.Time)
}

func (l *frameLoop) step(ts time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.callback(ts)
}

// stop reports whether this call stopped the loop.
func (l *frameLoop) stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.stopped = true
	return true
}

var _ ports.FrameScheduler = (*AnimationScheduler)(nil)

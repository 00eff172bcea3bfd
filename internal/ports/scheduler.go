package ports

import "time"

// FrameScheduler delivers host-driven frame ticks.
// It plays the role of a requestAnimationFrame loop: the callback runs once per
// host frame until cancelled.
type FrameScheduler interface {
	// Schedule starts invoking callback once per frame with the frame timestamp.
	// The returned cancel function stops the loop. Cancel is idempotent and, once
	// it returns, no further callbacks are delivered.
	//
	// Schedule must not invoke callback synchronously, and cancel must not be
	// called from inside callback.
	Schedule(callback func(ts time.Time)) (cancel func())
}

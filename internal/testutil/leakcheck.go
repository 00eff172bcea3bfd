// Package testutil provides testing utilities for the visualizer packages.
package testutil

import (
	"testing"

	"go.uber.org/goleak"
)

// VerifyNoLeaks should be deferred at the start of tests that spawn goroutines
// (frame schedulers, background loads, image generation).
// It verifies that no goroutines were leaked during the test.
func VerifyNoLeaks(t *testing.T, opts ...goleak.Option) {
	t.Helper()
	goleak.VerifyNone(t, opts...)
}

// IgnoreFyneGoroutines returns goleak options to ignore known Fyne framework goroutines.
// Use this when testing components that use the Fyne test app.
func IgnoreFyneGoroutines() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("fyne.io/fyne/v2/internal/animation.(*Runner).runAnimations"),
		goleak.IgnoreAnyFunction("fyne.io/fyne/v2/test.(*driver).Run"),
		goleak.IgnoreAnyFunction("fyne.io/fyne/v2"),
	}
}

// WithFyne combines the Fyne ignores with extra options.
func WithFyne(opts ...goleak.Option) []goleak.Option {
	return append(IgnoreFyneGoroutines(), opts...)
}

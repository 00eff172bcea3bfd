// Package scheduler provides FrameScheduler implementations.
// Ticker drives frames from a time.Ticker goroutine; Manual is driven by the caller.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// DefaultTickRate is the host refresh rate the ticker emulates.
const DefaultTickRate = 120

// Ticker is a FrameScheduler backed by one goroutine per Schedule call.
// The engine's frame budget decides which ticks render, so the ticker can run
// faster than the target FPS.
//
// Thread-safety: This implementation is thread-safe.
type Ticker struct {
	logger   *slog.Logger
	interval time.Duration
}

// NewTicker creates a ticker firing rate times per second.
// A non-positive rate uses DefaultTickRate.
func NewTicker(logger *slog.Logger, rate float64) *Ticker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return &Ticker{
		logger:   logger.With(slog.String("component", "ticker")),
		interval: time.Duration(float64(time.Second) / rate),
	}
}

// Interval returns the tick interval.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Schedule implements ports.FrameScheduler.
func (t *Ticker) Schedule(callback func(ts time.Time)) (cancel func()) {
	ticker := time.NewTicker(t.interval)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case ts := <-ticker.C:
				// stop wins over a tick that raced with it
				select {
				case <-stop:
					return
				default:
				}
				callback(ts)
			case <-stop:
				return
			}
		}
	}()

	t.logger.Debug("frame loop scheduled", slog.Duration("interval", t.interval))

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
		})
		<-done
	}
}

var _ ports.FrameScheduler = (*Ticker)(nil)

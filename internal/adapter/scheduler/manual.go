package scheduler

import (
	"slices"
	"sync"
	"time"

	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// Manual is a FrameScheduler advanced explicitly with Tick.
// Tests and offline renderers use it to control frame timestamps exactly.
//
// Thread-safety: This implementation is thread-safe. Callbacks run on the
// goroutine calling Tick.
type Manual struct {
	// tickMu is held for a whole Tick so cancel can wait for running callbacks
	tickMu sync.Mutex

	mu        sync.Mutex
	callbacks map[uint64]func(time.Time)
	nextID    uint64
	ticks     uint64
}

// NewManual creates a manual scheduler with no scheduled loops.
func NewManual() *Manual {
	return &Manual{callbacks: make(map[uint64]func(time.Time))}
}

// Schedule implements ports.FrameScheduler.
func (m *Manual) Schedule(callback func(ts time.Time)) (cancel func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.callbacks[id] = callback
	m.mu.Unlock()

	return func() {
		m.tickMu.Lock()
		defer m.tickMu.Unlock()

		m.mu.Lock()
		delete(m.callbacks, id)
		m.mu.Unlock()
	}
}

// Tick invokes every scheduled callback once with ts, in scheduling order.
func (m *Manual) Tick(ts time.Time) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.Lock()
	m.ticks++
	ids := make([]uint64, 0, len(m.callbacks))
	for id := range m.callbacks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		m.mu.Lock()
		cb, ok := m.callbacks[id]
		m.mu.Unlock()
		if ok {
			cb(ts)
		}
	}
}

// Advance ticks n times, step apart, starting at from + step. It returns the last timestamp.
func (m *Manual) Advance(from time.Time, step time.Duration, n int) time.Time {
	ts := from
	for i := 0; i < n; i++ {
		ts = ts.Add(step)
		m.Tick(ts)
	}
	return ts
}

// Active returns the number of scheduled, uncancelled loops.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callbacks)
}

// Ticks returns how many times Tick was called.
func (m *Manual) Ticks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

var _ ports.FrameScheduler = (*Manual)(nil)

package analysis

import (
	"slices"
	"time"

	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Tempo bounds; estimates outside are folded by octaves into the range.
const (
	MinBPM = 60.0
	MaxBPM = 200.0
)

const (
	onsetRatio     = 1.5  // Energy over the recent average that counts as an onset
	onsetFloor     = 0.01 // Quietest energy that can be an onset
	energyHistory  = 43   // ~0.7s of frames at 60 fps
	intervalWindow = 8    // Onset intervals kept for the median
	tempoSmoothing = 0.3  // Weight of a new estimate
)

// minOnsetGap rejects onsets faster than MaxBPM.
var minOnsetGap = time.Duration(float64(time.Minute) / MaxBPM)

// tempoTracker estimates BPM from the spacing of energy onsets.
type tempoTracker struct {
	clock     time.Duration
	lastOnset time.Duration
	hasOnset  bool

	energies  *circularbuffer.Queue
	intervals *circularbuffer.Queue

	bpm float64
}

func newTempoTracker() *tempoTracker {
	return &tempoTracker{
		energies:  circularbuffer.New(energyHistory),
		intervals: circularbuffer.New(intervalWindow),
	}
}

// observe feeds one frame's energy and returns the current estimate (0 until two onsets).
func (t *tempoTracker) observe(energy float64, delta time.Duration) float64 {
	if delta > 0 {
		t.clock += delta
	}

	avg := t.averageEnergy()
	full := t.energies.Full()
	t.energies.Enqueue(energy)

	if !full || energy < onsetFloor || energy < avg*onsetRatio {
		return t.bpm
	}
	if t.hasOnset && t.clock-t.lastOnset < minOnsetGap {
		return t.bpm
	}

	if t.hasOnset {
		t.intervals.Enqueue(t.clock - t.lastOnset)
		t.update()
	}
	t.lastOnset = t.clock
	t.hasOnset = true
	return t.bpm
}

func (t *tempoTracker) averageEnergy() float64 {
	values := t.energies.Values()
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v.(float64)
	}
	return sum / float64(len(values))
}

// update folds the median interval into [MinBPM, MaxBPM] and smooths it in.
func (t *tempoTracker) update() {
	values := t.intervals.Values()
	intervals := make([]time.Duration, 0, len(values))
	for _, v := range values {
		intervals = append(intervals, v.(time.Duration))
	}
	slices.Sort(intervals)
	median := intervals[len(intervals)/2]
	if median <= 0 {
		return
	}

	estimate := float64(time.Minute) / float64(median)
	for estimate < MinBPM {
		estimate *= 2
	}
	for estimate > MaxBPM {
		estimate /= 2
	}

	if t.bpm == 0 {
		t.bpm = estimate
		return
	}
	t.bpm += tempoSmoothing * (estimate - t.bpm)
}

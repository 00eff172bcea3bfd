// Package portaudio captures live input through PortAudio and feeds it to
// the analyzer. The device code needs cgo and is only built with -tags portaudio;
// without the tag Open returns ErrUnavailable.
package portaudio

import (
	"errors"
	"sync"
)

// ErrUnavailable is returned when the binary was built without PortAudio support.
var ErrUnavailable = errors.New("portaudio capture not enabled; rebuild with -tags portaudio")

const defaultBufferSize = 4096

// Config controls how a capture stream is opened.
type Config struct {
	// DeviceName selects an input by case-insensitive substring (empty picks the best input)
	DeviceName string

	// BufferSize is the ring capacity in mono samples (default 4096)
	BufferSize int

	// Channels to open on the device; mixed down to mono (default 1)
	Channels int
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	return c
}

// ring keeps the most recent mono samples written by the stream callback.
type ring struct {
	mu     sync.RWMutex
	buffer []float32
	index  int
	mono   []float32
}

func newRing(size int) *ring {
	return &ring{buffer: make([]float32, size)}
}

// writeInterleaved mixes interleaved frames down to mono and stores them.
func (r *ring) writeInterleaved(in []float32, channels int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channels <= 1 {
		r.write(in)
		return
	}

	n := len(in) / channels
	if cap(r.mono) < n {
		r.mono = make([]float32, n)
	}
	mono := r.mono[:n]
	for i := range mono {
		var sum float32
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += in[base+ch]
		}
		mono[i] = sum / float32(channels)
	}
	r.write(mono)
}

func (r *ring) write(in []float32) {
	if len(in) == 0 {
		return
	}

	if len(in) >= len(r.buffer) {
		copy(r.buffer, in[len(in)-len(r.buffer):])
		r.index = 0
		return
	}

	if r.index+len(in) <= len(r.buffer) {
		copy(r.buffer[r.index:], in)
		r.index += len(in)
		if r.index == len(r.buffer) {
			r.index = 0
		}
		return
	}

	remaining := len(r.buffer) - r.index
	copy(r.buffer[r.index:], in[:remaining])
	copy(r.buffer, in[remaining:])
	r.index = len(in) - remaining
}

// snapshot copies the ring into dst in chronological order, oldest first.
// dst is grown to the ring size when needed.
func (r *ring) snapshot(dst []float32) []float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cap(dst) < len(r.buffer) {
		dst = make([]float32, len(r.buffer))
	}
	dst = dst[:len(r.buffer)]
	copy(dst, r.buffer[r.index:])
	copy(dst[len(r.buffer)-r.index:], r.buffer[:r.index])
	return dst
}

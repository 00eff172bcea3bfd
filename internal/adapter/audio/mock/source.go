// Package mock provides a mock implementation of the AudioSource interface.
// This is used for testing the audio pump without a device or a signal generator.
package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/tejashwikalptaru/audiovis/internal/domain"
	"github.com/tejashwikalptaru/audiovis/internal/ports"
)

// ErrMockSource is returned by Next after SetFailNext(true).
var ErrMockSource = errors.New("mock audio source failure")

// Source is a mock implementation of the AudioSource interface.
// It replays scripted frames in order and repeats the last one when the
// script runs out.
//
// Thread-safety: This implementation is thread-safe.
type Source struct {
	mu sync.Mutex

	frames []domain.AudioFrame
	next   int
	calls  int
	deltas []time.Duration
	closed bool
	closes int

	// Behavior configuration (for testing error scenarios)
	failNext bool
	polled   chan struct{}
}

// NewSource creates a mock source replaying frames.
func NewSource(frames ...domain.AudioFrame) *Source {
	return &Source{
		frames: frames,
		polled: make(chan struct{}, 64),
	}
}

// Push appends frames to the script.
func (s *Source) Push(frames ...domain.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frames...)
}

// SetFailNext makes the next Next call fail with ErrMockSource.
func (s *Source) SetFailNext(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = fail
}

// Polled receives once per Next call.
func (s *Source) Polled() <-chan struct{} {
	return s.polled
}

// Calls returns how many times Next was invoked.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Deltas returns every delta passed to Next.
func (s *Source) Deltas() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.deltas...)
}

// Closes returns how many times Close was invoked.
func (s *Source) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Next implements ports.AudioSource.
func (s *Source) Next(delta time.Duration) (domain.AudioFrame, error) {
	s.mu.Lock()
	defer func() {
		select {
		case s.polled <- struct{}{}:
		default:
		}
	}()
	defer s.mu.Unlock()

	s.calls++
	s.deltas = append(s.deltas, delta)

	if s.closed {
		return domain.AudioFrame{}, domain.ErrSourceClosed
	}
	if s.failNext {
		s.failNext = false
		return domain.AudioFrame{}, ErrMockSource
	}
	if len(s.frames) == 0 {
		return domain.AudioFrame{}, nil
	}

	f := s.frames[min(s.next, len(s.frames)-1)]
	if s.next < len(s.frames) {
		s.next++
	}
	return f.Clone(), nil
}

// Close implements ports.AudioSource.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closes++
	return nil
}

var _ ports.AudioSource = (*Source)(nil)

// Package slot holds the per-request state of one streaming response: the
// buffer of produced-but-unconsumed chunks, the completion flag, and the
// liveness flag the producer checks before every append.
//
// A Slot has exactly one producer (the engine goroutine) and any number of
// pollers. All fields are guarded by a single mutex; waiters are woken through
// a channel that is closed and replaced on every state change.
package slot

import (
	"context"
	"errors"
	"sync"
)

// State is the lifecycle state of a Slot.
type State string

const (
	StatePending   State = "pending"
	StateStreaming State = "streaming"
	StateFinished  State = "finished"
	StateReleased  State = "released"
)

// ErrReleased is returned by TryTake once the slot has been released.
var ErrReleased = errors.New("response released")

// Slot is the unit of state for one in-flight response.
type Slot struct {
	mu       sync.Mutex
	produced []string
	head     int
	emitted  int
	finished bool
	released bool
	err      error
	cancel   context.CancelFunc
	notify   chan struct{}
}

// New returns a Slot in the Pending state.
func New() *Slot {
	return &Slot{notify: make(chan struct{})}
}

// SetCancel installs the function used to abandon production on Release.
// If the slot is already released the function is invoked immediately.
func (s *Slot) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	s.cancel = cancel
	s.mu.Unlock()
}

// Emit appends a chunk produced by the engine. It reports false when the
// slot no longer accepts data (released or finished); the producer should
// stop generating when that happens. Empty chunks are dropped since an empty
// string means "no data yet" at the boundary.
func (s *Slot) Emit(chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.finished {
		return false
	}
	if chunk == "" {
		return true
	}
	s.produced = append(s.produced, chunk)
	s.emitted++
	s.wakeLocked()
	return true
}

// Finish marks the end of production. A non-nil err is reported to pollers
// after every buffered chunk has been consumed. Only the first call counts.
func (s *Slot) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.finished {
		return
	}
	s.finished = true
	s.err = err
	s.wakeLocked()
}

// TryTake dequeues the oldest buffered chunk. ok is false when nothing is
// buffered. Once the buffer is drained a producer error is returned on every
// call; a released slot always returns ErrReleased.
func (s *Slot) TryTake() (chunk string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return "", false, ErrReleased
	}
	if s.head < len(s.produced) {
		chunk = s.produced[s.head]
		s.produced[s.head] = ""
		s.head++
		if s.head == len(s.produced) {
			s.produced = s.produced[:0]
			s.head = 0
		}
		return chunk, true, nil
	}
	if s.finished && s.err != nil {
		return "", false, s.err
	}
	return "", false, nil
}

// Wait blocks until the slot has something to report (a buffered chunk,
// completion, or release) or ctx is done.
func (s *Slot) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		ready := s.released || s.finished || s.head < len(s.produced)
		ch := s.notify
		s.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release moves the slot to its terminal state: buffered chunks are dropped,
// the producer is cancelled and every later Emit is a no-op. It reports
// whether this call performed the transition.
func (s *Slot) Release() bool {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return false
	}
	s.released = true
	s.produced = nil
	s.head = 0
	cancel := s.cancel
	s.cancel = nil
	s.wakeLocked()
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// State returns the current lifecycle state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.released:
		return StateReleased
	case s.finished:
		return StateFinished
	case s.emitted > 0:
		return StateStreaming
	default:
		return StatePending
	}
}

// Done reports whether the producer has finished and every chunk has been
// consumed.
func (s *Slot) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished && s.head == len(s.produced)
}

// Buffered returns the number of chunks waiting to be polled.
func (s *Slot) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.produced) - s.head
}

func (s *Slot) wakeLocked() {
	close(s.notify)
	s.notify = make(chan struct{})
}

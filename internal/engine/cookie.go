package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrOperationInFlight is returned by Slot.Begin while a previous operation
// cookie has not been released or cancelled.
var ErrOperationInFlight = errors.New("engine operation already in flight")

// Cookie is a cancellable handle for one in-flight engine operation.
// It is created by Slot.Begin and must be released exactly once; releasing
// also cancels the operation context.
type Cookie struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	once    sync.Once
}

// Context returns the operation-scoped context. It is cancelled when the
// cookie is cancelled or released, or when the parent context ends.
func (c *Cookie) Context() context.Context {
	return c.ctx
}

// Cancel cancels the operation without releasing the slot. The owner of the
// cookie still has to call Release.
func (c *Cookie) Cancel() {
	c.cancel()
}

// Release cancels the operation context and frees the slot for the next
// operation. It is safe to call more than once.
func (c *Cookie) Release() {
	c.once.Do(func() {
		c.cancel()
		c.release()
	})
}

// Slot holds at most one live operation cookie. It is the structural
// guarantee that the client never runs two engine operations concurrently:
// a second Begin fails until the first cookie is released. This is a single
// mutable slot, not a queue.
type Slot struct {
	mu      sync.Mutex
	current *Cookie
}

// Begin claims the slot and returns a new cookie whose context is derived
// from parent. It fails with ErrOperationInFlight if the slot is occupied.
func (s *Slot) Begin(parent context.Context) (*Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, ErrOperationInFlight
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Cookie{ctx: ctx, cancel: cancel}
	c.release = func() {
		s.mu.Lock()
		if s.current == c {
			s.current = nil
		}
		s.mu.Unlock()
	}
	s.current = c
	return c, nil
}

// CancelCurrent cancels the in-flight operation, if any. The operation's
// owner remains responsible for releasing the cookie; callers navigating
// away use this to abort without racing the owner's cleanup.
func (s *Slot) CancelCurrent() {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c != nil {
		c.Cancel()
	}
}

// Busy reports whether an operation is currently in flight.
func (s *Slot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

package syncx

import (
	"sync"
	"time"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
)

// Semaphore is a counting semaphore. Acquire decrements when a permit is
// available, otherwise parks the caller in FIFO order; Release increments
// and, if a waiter exists, hands the permit directly to the first one in
// line via a scheduled resume.
type Semaphore struct {
	hub *reactor.Hub

	mu      sync.Mutex
	count   int
	waiters []*semWaiter
}

type semWaiter struct {
	granted bool
	resume  func()
}

// NewSemaphore creates a Semaphore with n permits available.
func NewSemaphore(h *reactor.Hub, n int) *Semaphore {
	return &Semaphore{hub: h, count: n}
}

// Acquire takes a permit. If blocking is false, Acquire returns immediately
// with ok=false when no permit is available instead of parking. If timeout
// is > 0, Acquire parks at most that long before giving up.
func (s *Semaphore) Acquire(blocking bool, timeout time.Duration) (ok bool, err error) {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return true, nil
	}
	if !blocking {
		s.mu.Unlock()
		return false, nil
	}
	w := &semWaiter{}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	var timer *reactor.Timer
	killErr := s.hub.Suspend(func(resume func()) {
		w.resume = resume
		if timeout > 0 {
			timer = s.hub.ScheduleAt(timeout, func() {
				if s.removeWaiter(w) {
					resume()
				}
			})
		}
	})
	if timer != nil {
		timer.Cancel()
	}
	if killErr != nil {
		// The caller was killed rather than genuinely resumed by Release or
		// the timeout: drop w from the waiter list so it doesn't linger
		// forever as a stale entry nothing will ever grant or remove.
		s.removeWaiter(w)
		return false, killErr
	}
	return w.granted, nil
}

// removeWaiter deletes w from s.waiters if it is still present and not
// already granted, returning whether it removed anything.
func (s *Semaphore) removeWaiter(w *semWaiter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.granted {
		return false
	}
	for i, cand := range s.waiters {
		if cand == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Release gives back a permit. If a waiter is queued, the permit goes
// directly to the first one (FIFO) instead of incrementing the counter.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		w.granted = true
		s.mu.Unlock()
		s.hub.ScheduleNow(w.resume)
		return
	}
	s.count++
	s.mu.Unlock()
}

// Available returns the current permit count without blocking.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// BoundedSemaphore is a Semaphore that rejects Release calls which would
// push the count above its original capacity.
type BoundedSemaphore struct {
	Semaphore
	capacity int
}

// NewBoundedSemaphore creates a BoundedSemaphore with capacity permits, all
// initially available.
func NewBoundedSemaphore(h *reactor.Hub, capacity int) *BoundedSemaphore {
	return &BoundedSemaphore{Semaphore: Semaphore{hub: h, count: capacity}, capacity: capacity}
}

// Release panics with ErrOverflow if releasing would exceed capacity.
func (s *BoundedSemaphore) Release() {
	s.mu.Lock()
	if len(s.waiters) == 0 && s.count >= s.capacity {
		s.mu.Unlock()
		panic(errs.ErrOverflow)
	}
	s.mu.Unlock()
	s.Semaphore.Release()
}

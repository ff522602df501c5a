package syncx

import (
	"sync"
	"time"

	"github.com/xtaci/greenio/reactor"
)

type tWaiter struct {
	resume func()
	fired  bool
}

// TEvent is a clearable, re-settable flag: Set schedules every current
// waiter; Clear resets it; Wait suspends until Set or an optional timeout.
type TEvent struct {
	hub *reactor.Hub

	mu      sync.Mutex
	set     bool
	waiters []*tWaiter
}

// NewTEvent creates a TEvent in the CLEAR state.
func NewTEvent(h *reactor.Hub) *TEvent {
	return &TEvent{hub: h}
}

// Set transitions to SET and wakes every waiter registered so far.
func (e *TEvent) Set() {
	e.mu.Lock()
	e.set = true
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()
	for _, w := range waiters {
		w := w
		e.hub.ScheduleNow(func() {
			e.mu.Lock()
			already := w.fired
			w.fired = true
			e.mu.Unlock()
			if !already {
				w.resume()
			}
		})
	}
}

// Clear transitions to CLEAR. Does not affect tasks already resumed by a
// prior Set.
func (e *TEvent) Clear() {
	e.mu.Lock()
	e.set = false
	e.mu.Unlock()
}

// IsSet reports the current state without blocking.
func (e *TEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait suspends the calling task until the event is SET, or until timeout
// elapses (timeout <= 0 means no deadline), returning true if woken by Set
// and false on timeout or if the task was killed while waiting.
func (e *TEvent) Wait(timeout time.Duration) bool {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	var timedOut bool
	var timer *reactor.Timer
	w := &tWaiter{}

	killErr := e.hub.Suspend(func(resume func()) {
		w.resume = resume

		e.mu.Lock()
		if e.set {
			e.mu.Unlock()
			resume()
			return
		}
		e.waiters = append(e.waiters, w)
		e.mu.Unlock()

		if timeout > 0 {
			timer = e.hub.ScheduleAt(timeout, func() {
				e.mu.Lock()
				already := w.fired
				w.fired = true
				e.mu.Unlock()
				if !already {
					timedOut = true
					resume()
				}
			})
		}
	})
	if timer != nil {
		timer.Cancel()
	}
	return killErr == nil && !timedOut
}

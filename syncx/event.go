// Package syncx provides cooperative synchronization primitives — one-shot
// and clearable events, counting semaphores, a generic FIFO queue and a
// scoped timeout helper — all parking through reactor.Hub.Suspend and
// resuming via hub.ScheduleNow, never an OS-level lock.
package syncx

import (
	"sync"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
)

type eventState int

const (
	eventPending eventState = iota
	eventResult
	eventError
)

// Event is a one-shot result cell: Wait blocks every caller until Send or
// SendException is called exactly once. A second Send is an error unless
// Reset is called first while the event holds a result.
type Event struct {
	hub *reactor.Hub

	mu      sync.Mutex
	state   eventState
	value   any
	err     error
	waiters []func()
}

// NewEvent creates an unset Event bound to h.
func NewEvent(h *reactor.Hub) *Event {
	return &Event{hub: h}
}

// Wait suspends the calling task until the event is set, returning its
// value or error.
func (e *Event) Wait() (any, error) {
	e.mu.Lock()
	if e.state != eventPending {
		v, err := e.value, e.err
		e.mu.Unlock()
		return v, err
	}
	e.mu.Unlock()

	if killErr := e.hub.Suspend(func(resume func()) {
		e.mu.Lock()
		if e.state != eventPending {
			e.mu.Unlock()
			resume()
			return
		}
		e.waiters = append(e.waiters, resume)
		e.mu.Unlock()
	}); killErr != nil {
		return nil, killErr
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.err
}

// Send marks the event RESULT with value and schedules a resume for every
// current and future-registered waiter. Calling Send twice without an
// intervening Reset panics with ErrDoubleSend.
func (e *Event) Send(value any) {
	e.set(eventResult, value, nil)
}

// SendException marks the event ERROR with err.
func (e *Event) SendException(err error) {
	e.set(eventError, nil, err)
}

func (e *Event) set(state eventState, value any, err error) {
	e.mu.Lock()
	if e.state != eventPending {
		e.mu.Unlock()
		panic(errs.ErrDoubleSend)
	}
	e.state = state
	e.value = value
	e.err = err
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		e.hub.ScheduleNow(w)
	}
}

// Reset returns the event to PENDING. Only valid while it holds a result or
// error; intended for the rare case of deliberately reusing an Event.
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = eventPending
	e.value = nil
	e.err = nil
}

// Ready reports whether the event has been set.
func (e *Event) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != eventPending
}

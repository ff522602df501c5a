package syncx

import (
	"sync"
	"time"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
)

// Queue is a generic FIFO channel between tasks. A zero capacity means
// unbounded: Put never blocks. A positive capacity makes Put block once the
// backlog reaches it. Get blocks while empty. Waiters on either side are
// served in FIFO order, and a Put handing directly to a waiting Get skips
// the backing slice entirely.
type Queue[T any] struct {
	hub *reactor.Hub

	mu        sync.Mutex
	capacity  int
	items     []T
	putWait   []*queueWaiter
	getWait   []*queueGetWaiter[T]
}

type queueWaiter struct {
	resume func()
}

type queueGetWaiter[T any] struct {
	resume func(T)
}

// NewQueue creates a Queue bound to h. capacity <= 0 means unbounded.
func NewQueue[T any](h *reactor.Hub, capacity int) *Queue[T] {
	return &Queue[T]{hub: h, capacity: capacity}
}

// Put enqueues item, blocking if the queue is bounded and full. timeout <= 0
// means no deadline.
func (q *Queue[T]) Put(item T, timeout time.Duration) error {
	q.mu.Lock()
	if len(q.getWait) > 0 {
		w := q.getWait[0]
		q.getWait = q.getWait[1:]
		q.mu.Unlock()
		q.hub.ScheduleNow(func() { w.resume(item) })
		return nil
	}
	if q.capacity <= 0 || len(q.items) < q.capacity {
		q.items = append(q.items, item)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	var timer *reactor.Timer
	var timedOut bool
	w := &queueWaiter{}
	killErr := q.hub.Suspend(func(resume func()) {
		w.resume = resume
		q.mu.Lock()
		q.putWait = append(q.putWait, w)
		q.mu.Unlock()
		if timeout > 0 {
			timer = q.hub.ScheduleAt(timeout, func() {
				if q.removePutWaiter(w) {
					timedOut = true
					resume()
				}
			})
		}
	})
	if timer != nil {
		timer.Cancel()
	}
	if killErr != nil {
		q.removePutWaiter(w)
		return killErr
	}
	if timedOut {
		return errs.ErrTimeout
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return nil
}

// removePutWaiter deletes w from q.putWait if still present, returning
// whether it removed anything.
func (q *Queue[T]) removePutWaiter(w *queueWaiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cand := range q.putWait {
		if cand == w {
			q.putWait = append(q.putWait[:i], q.putWait[i+1:]...)
			return true
		}
	}
	return false
}

// Get dequeues the next item, blocking while the queue is empty. timeout <=
// 0 means no deadline.
func (q *Queue[T]) Get(timeout time.Duration) (item T, err error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item = q.items[0]
		q.items = q.items[1:]
		q.wakeOnePutter()
		q.mu.Unlock()
		return item, nil
	}
	q.mu.Unlock()

	var timer *reactor.Timer
	var timedOut bool
	var got T
	w := &queueGetWaiter[T]{}
	killErr := q.hub.Suspend(func(resume func()) {
		w.resume = func(v T) {
			got = v
			resume()
		}
		q.mu.Lock()
		q.getWait = append(q.getWait, w)
		q.mu.Unlock()
		if timeout > 0 {
			timer = q.hub.ScheduleAt(timeout, func() {
				if q.removeGetWaiter(w) {
					timedOut = true
					resume()
				}
			})
		}
	})
	if timer != nil {
		timer.Cancel()
	}
	if killErr != nil {
		q.removeGetWaiter(w)
		var zero T
		return zero, killErr
	}
	if timedOut {
		var zero T
		return zero, errs.ErrTimeout
	}
	return got, nil
}

// removeGetWaiter deletes w from q.getWait if still present, returning
// whether it removed anything.
func (q *Queue[T]) removeGetWaiter(w *queueGetWaiter[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cand := range q.getWait {
		if cand == w {
			q.getWait = append(q.getWait[:i], q.getWait[i+1:]...)
			return true
		}
	}
	return false
}

// wakeOnePutter must be called with q.mu held; it hands the backlog slot
// just freed by a Get to the longest-waiting Put, if any.
func (q *Queue[T]) wakeOnePutter() {
	if len(q.putWait) == 0 {
		return
	}
	w := q.putWait[0]
	q.putWait = q.putWait[1:]
	q.hub.ScheduleNow(w.resume)
}

// Len returns the number of buffered items without blocking.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

package reactor

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// Timer is a handle returned by (*Hub).ScheduleAt. Cancel is soft: it flips
// a flag rather than removing the entry from the heap immediately, since
// heap removal by value is O(n) and firing a cancelled timer is cheap to
// detect and discard at pop time. cancelled is an atomic.Bool because
// Cancel is routinely called from a task goroutine while the loop goroutine
// concurrently inspects the same Timer while popping the heap.
type Timer struct {
	deadline  time.Time
	seq       uint64 // insertion order, breaks deadline ties
	fn        func()
	cancelled atomic.Bool
	index     int // heap.Interface bookkeeping
}

// Cancel marks the timer cancelled. Calling it twice, or after the timer has
// already fired, is a safe no-op.
func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
}

// timerHeap is a container/heap min-heap ordered by deadline, falling back
// to insertion order (seq) when two deadlines are equal. container/heap
// does not preserve push order among elements that compare equal under
// Less, so without this tie-breaker timers scheduled for the same instant
// can fire out of the order they were scheduled in.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*timerHeap)(nil)

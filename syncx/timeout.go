package syncx

import (
	"time"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
)

// Timeout is a scoped deadline: NewTimeout schedules a kill against the
// calling task's own baton after d elapses, and Cancel disarms it. It composes
// reactor.Trampoline's timer machinery without requiring an fd — any
// suspension reached while the Timeout is armed (a Trampoline wait, a
// Suspend wait, or another blocking primitive) is interrupted with
// ErrTimeout once the clock runs out.
type Timeout struct {
	hub   *reactor.Hub
	timer *reactor.Timer
}

// NewTimeout arms a Timeout of duration d against the current task. d <= 0
// schedules nothing (the Timeout never fires and Cancel is a no-op).
func NewTimeout(h *reactor.Hub, d time.Duration) *Timeout {
	t := &Timeout{hub: h}
	if d > 0 {
		b := h.Active()
		if b == nil {
			panic(errs.ErrNotATask)
		}
		t.timer = h.ScheduleAt(d, func() {
			h.Kill(b, errs.ErrTimeout)
		})
	}
	return t
}

// Cancel disarms the timeout. Safe to call more than once, and safe to call
// after the deadline has already fired (the fire is a no-op in that case).
func (t *Timeout) Cancel() {
	if t.timer != nil {
		t.timer.Cancel()
	}
}

// WithTimeout runs fn to completion on the calling task, killing it with
// ErrTimeout if it has not finished within d. It returns fn's result and
// error as they are: when the deadline wins, the suspension fn is parked in
// returns ErrTimeout, so an fn that passes that error on yields
// (zero, ErrTimeout).
//
// Because Kill only takes effect at the task's next suspension point, fn
// must itself suspend periodically (I/O, Sleep, a sync primitive) for the
// deadline to have anywhere to land — a pure CPU-bound fn ignores it.
func WithTimeout(h *reactor.Hub, d time.Duration, fn func() (any, error)) (any, error) {
	to := NewTimeout(h, d)
	defer to.Cancel()
	return fn()
}

package reactor

import (
	"time"

	"github.com/xtaci/greenio/internal/errs"
)

// Trampoline parks the calling task on (fd, dir) until readiness or an
// optional timeout, then returns. It is the only suspension primitive user
// code below the task layer should ever call directly for fd readiness;
// gnet is built on top of it, while syncx parks through Hub.Suspend.
//
// timeout <= 0 means no deadline. onTimeoutErr is the error returned if the
// timer fires before readiness; it is ignored when timeout <= 0.
func Trampoline(h *Hub, fd int, dir Direction, timeout time.Duration, onTimeoutErr error) error {
	b := h.active
	if b == nil {
		panic(errs.ErrNotATask)
	}

	var result error
	var timer *Timer

	w, err := h.add(fd, dir,
		func() {
			if timer != nil {
				timer.Cancel()
			}
			result = nil
			h.ResumeAndWait(b)
		},
		func(err error) {
			if timer != nil {
				timer.Cancel()
			}
			result = err
			h.ResumeAndWait(b)
		},
	)
	if err != nil {
		return err
	}

	if timeout > 0 {
		timer = h.ScheduleAt(timeout, func() {
			h.remove(w)
			result = onTimeoutErr
			h.ResumeAndWait(b)
		})
	}

	killErr := h.Switch()

	h.remove(w)
	if timer != nil {
		timer.Cancel()
	}
	if killErr != nil {
		return killErr
	}
	return result
}

// YieldNow switches to the hub and, if reschedule is true, immediately
// schedules the caller to resume on the next iteration. With
// reschedule=false the task yields indefinitely, to be revived only by
// something else (a semaphore release, an event send, and so on). Returns
// a non-nil error if the task was killed while yielded.
func YieldNow(h *Hub, reschedule bool) error {
	b := h.active
	if b == nil {
		panic(errs.ErrNotATask)
	}
	if reschedule {
		h.ScheduleNow(func() { h.ResumeAndWait(b) })
	}
	return h.Switch()
}

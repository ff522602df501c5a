package reactor

import "github.com/xtaci/greenio/internal/errs"

// Watcher pairs an (fd, direction) with the resume/throw targets invoked
// when the hub observes readiness, an error, or a removal. It is created by
// Hub.Add and destroyed by Hub.Remove, always exactly once.
type Watcher struct {
	fd      int
	dir     Direction
	onReady func()
	onError func(error)
	hub     *Hub
}

// fdEntry holds the at-most-one-watcher-per-direction slots for a single fd.
// This runtime's invariant is strictly one in-flight blocking op per task
// per direction, so each direction gets a single slot rather than a queue.
type fdEntry struct {
	read, write *Watcher
}

func (h *Hub) slot(dir Direction, e *fdEntry) **Watcher {
	if dir == Write {
		return &e.write
	}
	return &e.read
}

// add registers a readiness watcher. It touches the fd table directly, with
// no locking and no hop via ScheduleNow, so it must run either on the hub's
// loop goroutine or on the task currently holding the execution token (the
// way Hub.Add and Trampoline call it).
func (h *Hub) add(fd int, dir Direction, onReady func(), onError func(error)) (*Watcher, error) {
	e := h.fds[fd]
	if e == nil {
		e = &fdEntry{}
		h.fds[fd] = e
	}
	slot := h.slot(dir, e)
	if *slot != nil {
		return nil, errs.ErrDuplicateWatcher
	}
	w := &Watcher{fd: fd, dir: dir, onReady: onReady, onError: onError, hub: h}
	*slot = w

	if err := h.poller.Add(fd, dir); err != nil {
		*slot = nil
		if e.read == nil && e.write == nil {
			delete(h.fds, fd)
		}
		return nil, err
	}
	return w, nil
}

// remove unregisters w. Idempotent: removing an already-removed watcher is
// a no-op.
func (h *Hub) remove(w *Watcher) {
	if w == nil {
		return
	}
	e := h.fds[w.fd]
	if e == nil {
		return
	}
	slot := h.slot(w.dir, e)
	if *slot != w {
		return // already removed / replaced
	}
	*slot = nil
	h.poller.Remove(w.fd, w.dir)
	if e.read == nil && e.write == nil {
		delete(h.fds, w.fd)
	}
}

// removeAllForFD tears down both directions for fd, used by NotifyOpened and
// by invalid-fd poller events.
func (h *Hub) removeAllForFD(fd int, err error) {
	e := h.fds[fd]
	if e == nil {
		return
	}
	for _, w := range []*Watcher{e.read, e.write} {
		if w == nil {
			continue
		}
		h.remove(w)
		if w.onError != nil {
			w.onError(err)
		}
	}
}

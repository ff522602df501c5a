// Package task implements spawn/join/link/kill over a reactor.Hub: each
// Task is a goroutine whose turn to run is granted and revoked by the hub's
// baton, so only one Task's code executes per hub at any instant even
// though every Task has its own OS-level goroutine stack.
package task

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/internal/obs"
	"github.com/xtaci/greenio/reactor"
)

var log = obs.Named(obs.L, "task")

// registry maps a running task's baton back to its Task, so Current can
// answer "which task is this?" from code that only has a *reactor.Hub in
// hand (pool reentrancy detection, diagnostic logging).
var (
	registryMu sync.Mutex
	registry   = map[*reactor.Baton]*Task{}
)

// Current returns the Task currently holding h's execution token, or nil if
// none (the hub's own goroutine, or a baton created outside this package).
func Current(h *reactor.Hub) *Task {
	b := h.Active()
	if b == nil {
		return nil
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[b]
}

type State int

const (
	Pending State = iota
	Running
	Blocked
	Dead
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	default:
		return "dead"
	}
}

// Task is a unit of cooperatively scheduled work. Obtain one with Spawn or
// SpawnAfter; SpawnDetached drops the handle entirely.
type Task struct {
	ID  uuid.UUID
	hub *reactor.Hub

	baton *reactor.Baton

	mu       sync.Mutex
	state    State
	value    any
	err      error
	done     bool
	links    []*linkEntry
	draining bool
	started  bool
}

// LinkHandle identifies a registered completion callback for Unlink. Go
// function values aren't comparable, so Link returns this token instead of
// requiring callers to pass the original closure back in.
type LinkHandle struct{ e *linkEntry }

type linkEntry struct {
	cb      func(*Task, []any)
	extra   []any
	removed bool
}

// Spawn schedules f to start running on hub's next loop iteration and
// returns a handle that can be waited on or linked. Execution of f does not
// begin until the hub actually runs its loop.
func Spawn(h *reactor.Hub, f func(t *Task) (any, error)) *Task {
	t := &Task{
		ID:    uuid.New(),
		hub:   h,
		baton: reactor.NewBaton(),
		state: Pending,
	}
	registryMu.Lock()
	registry[t.baton] = t
	registryMu.Unlock()
	go t.run(f)
	h.ScheduleNow(func() { t.dispatch() })
	return t
}

// SpawnAfter is Spawn gated on a timer: f starts running only once delay
// has elapsed on the hub's clock.
func SpawnAfter(h *reactor.Hub, delay time.Duration, f func(t *Task) (any, error)) *Task {
	t := &Task{
		ID:    uuid.New(),
		hub:   h,
		baton: reactor.NewBaton(),
		state: Pending,
	}
	registryMu.Lock()
	registry[t.baton] = t
	registryMu.Unlock()
	go t.run(f)
	h.ScheduleAt(delay, func() { t.dispatch() })
	return t
}

// SpawnDetached is Spawn without a retrievable handle: failures are logged
// to the diagnostic sink rather than delivered to a waiter.
func SpawnDetached(h *reactor.Hub, f func(t *Task) (any, error)) {
	t := Spawn(h, f)
	t.Link(func(done *Task, _ []any) {
		if done.err != nil {
			log.Err().Err(done.err).Str("task", done.ID.String()).Log("detached task failed")
		}
	}, nil)
}

// dispatch grants t its first turn, unless it was killed before starting,
// in which case the turn still runs so run() can observe the kill error.
func (t *Task) dispatch() {
	t.mu.Lock()
	t.started = true
	t.state = Running
	t.mu.Unlock()
	t.hub.ResumeAndWait(t.baton)
}

// run is the body of the goroutine backing t. It blocks immediately on the
// baton — f does not start until dispatch grants the first turn.
func (t *Task) run(f func(t *Task) (any, error)) {
	t.baton.AwaitTurn()

	var value any
	var err error
	if killed := t.baton.KillError(); killed != nil {
		err = killed
	} else {
		value, err = runGuarded(t, f)
	}

	t.complete(value, err)
	registryMu.Lock()
	delete(registry, t.baton)
	registryMu.Unlock()
	t.baton.Yield()
}

func runGuarded(t *Task, f func(t *Task) (any, error)) (v any, e error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				e = rerr
			} else {
				e = errs.ErrUnsupported
			}
		}
	}()
	return f(t)
}

// complete stores the result and runs link callbacks in registration order.
// A guard flag makes re-entrant completion-time registration (a callback
// that itself calls Link or Wait) safe: new callbacks just extend the
// queue being drained.
func (t *Task) complete(value any, err error) {
	t.mu.Lock()
	t.value = value
	t.err = err
	t.state = Dead
	t.done = true
	if t.draining {
		t.mu.Unlock()
		return
	}
	t.draining = true
	t.mu.Unlock()

	for {
		t.mu.Lock()
		var next *linkEntry
		for len(t.links) > 0 {
			next = t.links[0]
			t.links = t.links[1:]
			if !next.removed {
				break
			}
			next = nil
		}
		if next == nil {
			t.draining = false
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		next.cb(t, next.extra)
	}
}

// Wait suspends the calling task until t completes, then returns its result
// or error. It is a programmer error to call Wait from the hub's own
// goroutine; reactor.Suspend enforces this.
func (t *Task) Wait() (any, error) {
	t.mu.Lock()
	if t.done {
		v, e := t.value, t.err
		t.mu.Unlock()
		return v, e
	}
	t.mu.Unlock()

	if killErr := t.hub.Suspend(func(resume func()) {
		t.Link(func(*Task, []any) { resume() }, nil)
	}); killErr != nil {
		return nil, killErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.err
}

// Link registers cb, with extra as its auxiliary arguments, to run once t
// completes. If t is already complete, cb runs on the next loop iteration
// instead of inline.
func (t *Task) Link(cb func(*Task, []any), extra []any) LinkHandle {
	e := &linkEntry{cb: cb, extra: extra}
	t.mu.Lock()
	if t.done && !t.draining {
		t.mu.Unlock()
		t.hub.ScheduleNow(func() { cb(t, extra) })
		return LinkHandle{e}
	}
	t.links = append(t.links, e)
	t.mu.Unlock()
	return LinkHandle{e}
}

// Unlink removes a previously registered callback by its handle. Silently
// no-ops if the callback already fired or was already unlinked.
func (t *Task) Unlink(h LinkHandle) {
	if h.e == nil {
		return
	}
	t.mu.Lock()
	h.e.removed = true
	t.mu.Unlock()
}

// Kill injects err into t. If t has not started, its first act on starting
// is to raise err instead of running f. If running or blocked, err is
// recorded on t's baton: a parked task is woken immediately to observe it,
// while an actively running one observes it the next time it suspends —
// a live Go stack cannot be unwound from outside, so this is the closest
// equivalent to "unwind the task's current suspension point with err."
func (t *Task) Kill(err error) {
	if err == nil {
		err = errs.ErrCancelled
	}
	t.mu.Lock()
	done := t.done
	started := t.started
	t.mu.Unlock()
	if done {
		return
	}
	t.baton.SetKillError(err)
	if !started {
		return // dispatch/run will observe the kill error before calling f
	}
	t.hub.Kill(t.baton, err)
}

// Cancel behaves like Kill but is only effective if t has not yet started;
// once running it is a no-op.
func (t *Task) Cancel(err error) {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		return
	}
	t.Kill(err)
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

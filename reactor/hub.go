package reactor

import (
	"container/heap"
	"sync"
	"time"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/internal/obs"
)

const idleSleepCeiling = 60 * time.Second

// Baton is the handoff channel pair between the loop goroutine and a task
// goroutine. Exactly one side holds it at a time: ResumeAndWait blocks the
// loop goroutine until the task yields back via Switch, and Switch blocks
// the task goroutine until the loop goroutine resumes it again. This is how
// "at most one task runs at a time per hub" is enforced despite every task
// being a real goroutine.
type Baton struct {
	toTask chan struct{}
	toHub  chan struct{}

	mu      sync.Mutex
	killErr error
	parked  bool
}

// NewBaton allocates an unstarted handoff pair.
func NewBaton() *Baton {
	return &Baton{toTask: make(chan struct{}), toHub: make(chan struct{})}
}

// AwaitTurn blocks until the hub grants this goroutine the execution token.
// Every task goroutine calls this immediately on entry, before running any
// user code, and again after every Yield.
func (b *Baton) AwaitTurn() {
	<-b.toTask
	b.mu.Lock()
	b.parked = false
	b.mu.Unlock()
}

// Yield hands the execution token back to whichever goroutine is blocked in
// ResumeAndWait, whether to suspend (expecting a future AwaitTurn) or to
// signal final completion (the goroutine exits right after).
func (b *Baton) Yield() {
	b.mu.Lock()
	b.parked = true
	b.mu.Unlock()
	b.toHub <- struct{}{}
}

// SetKillError records a cancellation to be observed the next time this
// baton's owner checks KillError — typically right before or right after a
// suspension point, since a live Go stack cannot be unwound from outside.
// The first error recorded wins.
func (b *Baton) SetKillError(err error) {
	b.mu.Lock()
	if b.killErr == nil {
		b.killErr = err
	}
	b.mu.Unlock()
}

// KillError returns a previously recorded cancellation, if any.
func (b *Baton) KillError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.killErr
}

func (b *Baton) isParked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parked
}

// Hub is the event-loop reactor: one fd readiness table, one timer heap, one
// immediate-callback queue, driven by a single loop goroutine. Everything
// that touches fds, timers or callbacks directly (add, remove, the heap)
// must run on that goroutine; cross-goroutine callers hop on via
// ScheduleNow/ScheduleAt, which are safe to call from anywhere (as are Stop,
// and Kill and NotifyOpened, which go through ScheduleNow).
type Hub struct {
	poller   Poller
	fds      map[int]*fdEntry
	timers   timerHeap
	timerSeq uint64 // monotonic counter, next Timer.seq value

	mu                sync.Mutex
	pendingCreate     []func()
	pendingProcessing []func()
	stopping          bool

	active *Baton // the baton currently held by a running task; nil while the hub itself runs

	die     chan struct{}
	dieOnce sync.Once
	log     *obs.Logger
}

// NewHub constructs an independent hub with its own poller. Most programs
// need only the lazily-initialized default hub (see CurrentHub); NewHub
// exists for tests and for advanced callers that want one hub per OS
// thread, matching the "hubs in different threads are fully independent"
// rule — this runtime does not pin hubs to OS threads for the caller, so
// that pinning (if wanted) is the caller's responsibility via
// runtime.LockOSThread before calling Run.
func NewHub() (*Hub, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Hub{
		poller: p,
		fds:    make(map[int]*fdEntry),
		die:    make(chan struct{}),
		log:    obs.Named(obs.L, "reactor"),
	}, nil
}

var (
	defaultHub     *Hub
	defaultHubOnce sync.Once
	defaultHubErr  error
)

// CurrentHub returns the process-wide default hub, constructing it on first
// use. Go has no cheap per-goroutine thread-local storage, so this runtime
// substitutes a single lazily built singleton for the common case; callers
// that need independent hubs use NewHub directly.
func CurrentHub() (*Hub, error) {
	defaultHubOnce.Do(func() {
		defaultHub, defaultHubErr = NewHub()
	})
	return defaultHub, defaultHubErr
}

// ScheduleNow appends f to the immediate-callback queue. f fires on the next
// loop iteration, before I/O polling, regardless of which goroutine calls
// ScheduleNow. Safe to call from any goroutine, including from inside a
// callback currently being drained (it lands in the other buffer and so
// runs on the following iteration, never the current one).
func (h *Hub) ScheduleNow(f func()) {
	h.mu.Lock()
	h.pendingCreate = append(h.pendingCreate, f)
	h.mu.Unlock()
	h.poller.Wake()
}

// ScheduleAt arranges for fn to run after delay elapses: it is invoked on the
// loop goroutine in the timer step of the first iteration that starts at or
// after the deadline. Cancelling the returned Timer before it fires prevents
// fn from running.
func (h *Hub) ScheduleAt(delay time.Duration, fn func()) *Timer {
	t := &Timer{deadline: time.Now().Add(delay), fn: fn}
	h.mu.Lock()
	h.timerSeq++
	t.seq = h.timerSeq
	heap.Push(&h.timers, t)
	h.mu.Unlock()
	h.poller.Wake()
	return t
}

// Add registers a readiness watcher for (fd, dir), failing with
// ErrDuplicateWatcher if one is already registered. Must be called from a
// task holding the hub's execution token — the loop goroutine is guaranteed
// idle (parked inside ResumeAndWait) for the whole duration of that task's
// turn, so touching the fd table here needs no further synchronization.
// Calling this from the loop goroutine itself, or from any goroutine that
// is not the currently-running task, is a programmer error.
func (h *Hub) Add(fd int, dir Direction, onReady func(), onError func(error)) (*Watcher, error) {
	return h.add(fd, dir, onReady, onError)
}

// Remove unregisters w. Idempotent-safe. Like Add, it must be called from
// the task currently holding the hub's execution token.
func (h *Hub) Remove(w *Watcher) {
	h.remove(w)
}

// NotifyOpened tells the hub that fd was just handed back by the OS under an
// identity the hub may have previously tracked (e.g. after a close/reopen
// race on a recycled fd number). Best-effort: any stale watcher found for
// fd is removed and its parked task is woken with ErrFDClosed, but this
// cannot detect staleness it was never told about.
func (h *Hub) NotifyOpened(fd int) {
	h.ScheduleNow(func() {
		h.removeAllForFD(fd, errs.ErrFDClosed)
	})
}

// Switch yields the calling task back to the hub's loop goroutine and blocks
// until the hub resumes it again. It is a programmer error to call this
// from the loop goroutine itself — Trampoline and task machinery are the
// only sanctioned callers. If the task's baton carries a recorded kill
// error (see Kill), Switch returns it immediately, before or after
// blocking depending on when the kill was recorded, and never blocks once
// one is pending.
func (h *Hub) Switch() error {
	b := h.active
	if b == nil {
		panic(errs.ErrHubReentry)
	}
	if err := b.KillError(); err != nil {
		return err
	}
	b.Yield()
	b.AwaitTurn()
	return b.KillError()
}

// Active returns the baton of the task currently holding the execution
// token, or nil if the loop goroutine itself is running. Used by callers
// outside the reactor package (task, syncx) that need to suspend on
// something other than fd readiness or a timer.
func (h *Hub) Active() *Baton { return h.active }

// Suspend parks the calling task, handing register a resume function it
// must arrange to call exactly once (directly or from any goroutine) to
// wake the task again. register runs before the task actually yields, so
// it is safe to stash resume somewhere a releaser will find it without a
// lost-wakeup race. Returns a non-nil error if the task was killed instead
// of genuinely resumed.
func (h *Hub) Suspend(register func(resume func())) error {
	b := h.active
	if b == nil {
		panic(errs.ErrNotATask)
	}
	register(func() {
		h.ScheduleNow(func() { h.ResumeAndWait(b) })
	})
	return h.Switch()
}

// Kill records err on the target baton and, if it is currently parked
// (blocked in AwaitTurn), forces an immediate resume so it observes the
// error right away. If the owning task is actively running rather than
// parked, the error is observed the next time it calls Switch.
func (h *Hub) Kill(b *Baton, err error) {
	b.SetKillError(err)
	h.ScheduleNow(func() {
		if b.isParked() {
			h.ResumeAndWait(b)
		}
	})
}

// ResumeAndWait hands the baton to a task goroutine and blocks the calling
// (loop) goroutine until that task either yields via Switch or exits. Only
// the loop goroutine may call this.
func (h *Hub) ResumeAndWait(b *Baton) {
	prev := h.active
	h.active = b
	b.toTask <- struct{}{}
	<-b.toHub
	h.active = prev
}

// Stop requests the loop to exit at the next safe point: it wakes the loop
// if it is sleeping, and Run returns once no timers, callbacks or watchers
// remain.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopping = true
	h.mu.Unlock()
	h.poller.Wake()
}

func (h *Hub) switchPending() []func() {
	h.mu.Lock()
	h.pendingProcessing, h.pendingCreate = h.pendingCreate, h.pendingProcessing[:0]
	batch := h.pendingProcessing
	h.mu.Unlock()
	return batch
}

func (h *Hub) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}

// idle reports whether the hub has no outstanding timers, callbacks or
// watchers, the condition Run checks before honoring Stop.
func (h *Hub) idle() bool {
	h.mu.Lock()
	noPending := len(h.pendingCreate) == 0
	noTimers := h.timers.Len() == 0
	h.mu.Unlock()
	return noPending && noTimers && len(h.fds) == 0
}

// Run drives the loop on the calling goroutine until Stop is observed and no
// work remains. It returns nil on a clean stop, or a fatal poller error.
func (h *Hub) Run() error {
	h.log.Info().Log("reactor loop starting")
	defer h.log.Info().Log("reactor loop stopped")
	for {
		now := time.Now()

		// 1. fire due timers
		h.mu.Lock()
		var due []*Timer
		for h.timers.Len() > 0 && !h.timers[0].deadline.After(now) {
			t := heap.Pop(&h.timers).(*Timer)
			if !t.cancelled.Load() {
				due = append(due, t)
			}
		}
		h.mu.Unlock()
		for _, t := range due {
			h.invoke(t.fn)
		}

		// 2. drain immediate-callback FIFO (snapshot; reentrant schedules
		// land in the next iteration)
		for _, f := range h.switchPending() {
			h.invoke(f)
		}

		if h.isStopping() && h.idle() {
			return nil
		}

		// 3. compute sleep budget
		timeout := idleSleepCeiling
		h.mu.Lock()
		if h.timers.Len() > 0 {
			if d := time.Until(h.timers[0].deadline); d < timeout {
				timeout = d
			}
		}
		hasPending := len(h.pendingCreate) > 0
		h.mu.Unlock()
		if hasPending {
			timeout = 0
		}
		if timeout < 0 {
			timeout = 0
		}

		// 4. poll for readiness
		events, err := h.pollWithTimeout(timeout)
		if err != nil {
			h.log.Crit().Err(err).Log("fatal poller error")
			return err
		}

		// 5. dispatch ready watchers
		for _, ev := range events {
			h.handleReady(ev)
		}
	}
}

// pollWithTimeout adapts Poller.Wait (which blocks until woken) to the
// bounded sleep the loop algorithm computes, by racing a deadline timer
// against the blocking wait on a helper goroutine. Pollers are woken via
// Wake so this never leaks a goroutine past the timeout.
func (h *Hub) pollWithTimeout(timeout time.Duration) ([]ReadyEvent, error) {
	type result struct {
		ev  []ReadyEvent
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		ev, err := h.poller.Wait()
		resCh <- result{ev, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-resCh:
		return r.ev, r.err
	case <-timer.C:
		h.poller.Wake()
		r := <-resCh
		return r.ev, r.err
	}
}

func (h *Hub) handleReady(ev ReadyEvent) {
	e := h.fds[ev.Fd]
	if e == nil {
		return
	}
	if ev.Invalid {
		h.removeAllForFD(ev.Fd, errs.ErrFDClosed)
		return
	}
	if ev.Err || ev.Hangup {
		for _, w := range []*Watcher{e.read, e.write} {
			if w != nil {
				h.remove(w)
				if w.onError != nil {
					h.invokeErr(w.onError, errs.ErrClosed)
				}
			}
		}
		return
	}
	if ev.Read && e.read != nil {
		w := e.read
		h.remove(w)
		h.invoke(w.onReady)
	}
	if ev.Write && e.write != nil {
		w := e.write
		h.remove(w)
		h.invoke(w.onReady)
	}
}

// invoke calls f on the loop goroutine, recovering and logging panics so a
// misbehaving callback cannot take the whole loop down.
func (h *Hub) invoke(f func()) {
	if f == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Warning().Interface("panic", r).Log("callback panicked")
		}
	}()
	f()
}

func (h *Hub) invokeErr(f func(error), err error) {
	h.invoke(func() { f(err) })
}

// Close shuts down the poller. It does not stop the loop; call Stop first
// and wait for Run to return.
func (h *Hub) Close() error {
	var err error
	h.dieOnce.Do(func() {
		close(h.die)
		err = h.poller.Close()
	})
	return err
}

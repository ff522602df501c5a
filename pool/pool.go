// Package pool bounds concurrent task spawning: Pool is a semaphore-gated
// spawner, Pile layers a fan-in iterator on top of it. Both build entirely
// on task and syncx — neither touches the reactor directly.
package pool

import (
	"sync"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
	"github.com/xtaci/greenio/syncx"
	"github.com/xtaci/greenio/task"
)

// Pool governs concurrent task spawning with a semaphore of the given
// capacity: at most capacity member tasks run at once. Spawn beyond
// capacity blocks, except when the caller is itself a pool member, in
// which case the new work runs inline: the caller waits for it to finish
// rather than for a slot, which keeps a pool from deadlocking against itself.
type Pool struct {
	hub *reactor.Hub
	sem *syncx.Semaphore

	mu       sync.Mutex
	capacity int
	live     map[*task.Task]bool
	members  map[*task.Task]bool
	done     *syncx.TEvent
}

// New creates a Pool bound to h with the given capacity.
func New(h *reactor.Hub, capacity int) *Pool {
	p := &Pool{
		hub:      h,
		sem:      syncx.NewSemaphore(h, capacity),
		capacity: capacity,
		live:     make(map[*task.Task]bool),
		members:  make(map[*task.Task]bool),
		done:     syncx.NewTEvent(h),
	}
	p.done.Set()
	return p
}

// Spawn runs f as a pool member, blocking until a slot is available. If the
// calling task is itself a pool member and the pool is full, f runs inline
// instead of acquiring a slot: it is spawned as a task outside the pool and
// the caller waits for it to finish before Spawn returns — the documented
// reentrancy escape hatch that keeps a pool from deadlocking against its
// own members.
func (p *Pool) Spawn(f func(t *task.Task) (any, error)) *task.Task {
	caller := task.Current(p.hub)

	p.mu.Lock()
	isMember := caller != nil && p.members[caller]
	full := len(p.live) >= p.capacity
	p.mu.Unlock()

	if isMember && full {
		t := task.Spawn(p.hub, f)
		t.Wait()
		return t
	}

	p.sem.Acquire(true, 0)
	return p.spawnMember(f)
}

func (p *Pool) spawnMember(f func(t *task.Task) (any, error)) *task.Task {
	t := task.Spawn(p.hub, f)

	p.mu.Lock()
	p.live[t] = true
	p.members[t] = true
	p.done.Clear()
	p.mu.Unlock()

	t.Link(func(done *task.Task, _ []any) {
		p.mu.Lock()
		delete(p.live, done)
		empty := len(p.live) == 0
		p.mu.Unlock()
		if empty {
			p.done.Set()
		}
		p.sem.Release()
	}, nil)

	return t
}

// WaitAll suspends until every live member task has completed. It is a
// programmer error to call WaitAll from within a pool member — doing so
// would suspend the very task whose completion is being awaited — so that
// case is detected and rejected with ErrPoolMemberWait instead of
// deadlocking silently.
func (p *Pool) WaitAll() error {
	caller := task.Current(p.hub)
	p.mu.Lock()
	if caller != nil && p.members[caller] {
		p.mu.Unlock()
		return errs.ErrPoolMemberWait
	}
	p.mu.Unlock()

	p.done.Wait(0)
	return nil
}

// Resize changes the pool's capacity. Growing releases the extra permits at
// once, so blocked Spawn calls can proceed. Shrinking only lowers the
// recorded capacity (what Free and the reentrancy check see): it neither
// preempts running members nor withdraws permits, so Spawn is not
// throttled down to the smaller capacity.
func (p *Pool) Resize(capacity int) {
	p.mu.Lock()
	delta := capacity - p.capacity
	p.capacity = capacity
	p.mu.Unlock()

	if delta > 0 {
		for i := 0; i < delta; i++ {
			p.sem.Release()
		}
	}
}

// Running reports the number of currently live member tasks.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Free reports the number of unused slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - len(p.live)
}

// Slice turns a plain slice into the pull iterator StarMap expects, for
// callers with an already-materialized input they still want streamed
// through the pool lazily one task at a time.
func Slice[I any](s []I) func() (I, bool) {
	i := 0
	return func() (I, bool) {
		if i >= len(s) {
			var zero I
			return zero, false
		}
		v := s[i]
		i++
		return v, true
	}
}

// MapIter is the lazy, order-preserving result stream returned by StarMap.
// Next yields results in input order as they become available; it does not
// wait for the whole input to be pulled or for every task to finish before
// yielding the first one.
type MapIter[O any] struct {
	tasks *syncx.Queue[*task.Task]
}

// Next blocks until the next result in input order is ready, returning
// ok=false once the input iterator has been exhausted and every dispatched
// task has been drained. A non-nil err means the corresponding task failed;
// iteration continues past it, mirroring the original's "errors surface
// per-item, not as a whole-map abort."
func (m *MapIter[O]) Next() (value O, err error, ok bool) {
	var zero O
	t, qerr := m.tasks.Get(0)
	if qerr != nil {
		return zero, qerr, false
	}
	if t == nil { // dispatcher's end-of-input marker
		return zero, nil, false
	}
	v, werr := t.Wait()
	if werr != nil {
		return zero, werr, true
	}
	if v == nil {
		return zero, nil, true
	}
	return v.(O), nil, true
}

// Drain collects every remaining result in order, stopping at the first
// error.
func (m *MapIter[O]) Drain() ([]O, error) {
	var out []O
	for {
		v, err, ok := m.Next()
		if !ok {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// StarMap applies fn to each value produced by next, preserving input order
// in the returned iterator, while never running more than the pool's
// capacity tasks concurrently. next is polled lazily by a background
// dispatcher task — StarMap itself returns immediately — so memory stays
// proportional to the pool's capacity rather than the length of the input:
// the dispatcher blocks inside Spawn once the pool is full, and blocks
// handing a dispatched task off to the iterator once its own lookahead
// buffer (a syncx.Queue sized to capacity) is full. next is called only
// from the dispatcher task, so it may itself block on cooperative
// primitives (another Queue, an Event, and so on)
// without risking the raw-goroutine-block-while-holding-the-baton deadlock
// a plain Go channel shared across tasks would invite.
func StarMap[I, O any](p *Pool, fn func(I) (O, error), next func() (I, bool)) *MapIter[O] {
	p.mu.Lock()
	capacity := p.capacity
	p.mu.Unlock()
	if capacity < 1 {
		capacity = 1
	}

	tasks := syncx.NewQueue[*task.Task](p.hub, capacity)
	task.SpawnDetached(p.hub, func(*task.Task) (any, error) {
		for {
			v, ok := next()
			if !ok {
				break
			}
			v := v
			t := p.Spawn(func(*task.Task) (any, error) {
				return fn(v)
			})
			if err := tasks.Put(t, 0); err != nil {
				return nil, err
			}
		}
		return nil, tasks.Put(nil, 0)
	})
	return &MapIter[O]{tasks: tasks}
}

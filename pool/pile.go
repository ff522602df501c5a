package pool

import (
	"github.com/xtaci/greenio/task"
)

// Pile is a fan-in adapter over a Pool: Spawn enqueues a task the same way
// Pool.Spawn does, and Next blocks for results in spawn order regardless of
// completion order, returning ok=false once every spawned task has been
// drained. Calling Next from a task other than the one that created the
// Pile is undefined, per the documented single-consumer contract.
type Pile struct {
	pool *Pool

	order []*task.Task
	next  int
}

// NewPile creates a Pile that spawns through p.
func NewPile(p *Pool) *Pile {
	return &Pile{pool: p}
}

// Spawn runs f as a pool member and remembers it for Next to drain in
// order.
func (pl *Pile) Spawn(f func(t *task.Task) (any, error)) *task.Task {
	t := pl.pool.Spawn(f)
	pl.order = append(pl.order, t)
	return t
}

// Next blocks until the next task in spawn order completes, returning its
// result. ok is false once every spawned task has already been drained;
// err is non-nil if the ready task itself failed.
func (pl *Pile) Next() (value any, err error, ok bool) {
	if pl.next >= len(pl.order) {
		return nil, nil, false
	}
	t := pl.order[pl.next]
	pl.next++
	value, err = t.Wait()
	return value, err, true
}

// Drain collects every remaining result in spawn order, stopping at the
// first error.
func (pl *Pile) Drain() ([]any, error) {
	var out []any
	for {
		v, err, ok := pl.Next()
		if !ok {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

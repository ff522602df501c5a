package task

import (
	"sync"

	"github.com/xtaci/greenio/reactor"
)

// Group links a set of tasks spawned together and resolves a single Wait
// once all of them complete, reporting the first failure; a failure does
// not end the Wait early. It is a
// convenience layered over Task.Link, not a primitive the reactor knows
// about, for the common "fan out a batch of work and wait" shape.
type Group struct {
	hub *reactor.Hub

	mu       sync.Mutex
	pending  int
	firstErr error
	done     bool
	waiters  []func()
}

// NewGroup creates an empty group bound to h.
func NewGroup(h *reactor.Hub) *Group {
	return &Group{hub: h}
}

// Add registers an already-spawned task with the group.
func (g *Group) Add(t *Task) {
	g.mu.Lock()
	if g.done {
		g.mu.Unlock()
		return
	}
	g.pending++
	g.mu.Unlock()

	t.Link(func(done *Task, _ []any) {
		g.mu.Lock()
		if err := done.err; err != nil && g.firstErr == nil {
			g.firstErr = err
		}
		g.pending--
		finished := g.pending == 0
		var toWake []func()
		if finished && !g.done {
			g.done = true
			toWake = g.waiters
			g.waiters = nil
		}
		g.mu.Unlock()
		for _, w := range toWake {
			w()
		}
	}, nil)
}

// Wait suspends the calling task until every added task has completed,
// returning the first error observed (in completion order), or nil.
func (g *Group) Wait() error {
	g.mu.Lock()
	if g.done || g.pending == 0 {
		err := g.firstErr
		g.mu.Unlock()
		return err
	}
	g.mu.Unlock()

	if err := g.hub.Suspend(func(resume func()) {
		g.mu.Lock()
		if g.done || g.pending == 0 {
			g.mu.Unlock()
			resume()
			return
		}
		g.waiters = append(g.waiters, resume)
		g.mu.Unlock()
	}); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}

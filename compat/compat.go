// Package compat offers narrow, explicitly-imported bindings over
// reactor/task/gnet that present a familiar blocking-shaped signature
// (Sleep, DialTimeout, Listen, SpawnOSThread) for collaborators migrating
// from genuinely blocking code. None of these add new semantics; they are
// pure wiring over the packages that do.
package compat

import (
	"time"

	"github.com/xtaci/greenio/gnet"
	"github.com/xtaci/greenio/reactor"
)

// Sleep suspends the calling task for d, resuming via the hub's timer
// heap rather than blocking an OS thread.
func Sleep(h *reactor.Hub, d time.Duration) error {
	b := h.Active()
	if b == nil {
		time.Sleep(d)
		return nil
	}
	h.ScheduleAt(d, func() { h.ResumeAndWait(b) })
	return h.Switch()
}

// DialTimeout is gnet.Dial with a deadline, mirroring net.DialTimeout's
// signature for callers migrating off the standard library's blocking
// dialer.
func DialTimeout(h *reactor.Hub, network, addr string, timeout time.Duration) (*gnet.Socket, error) {
	return gnet.Dial(h, network, addr, timeout)
}

// Listen mirrors net.Listen's signature, binding and listening immediately
// with SO_REUSEADDR and the default backlog.
func Listen(h *reactor.Hub, network, addr string) (*gnet.Socket, error) {
	return gnet.Listen(h, network, addr, 0)
}

// SpawnOSThread documents, rather than emulates, the one collaborator
// surface this runtime deliberately does not provide: a true OS-thread
// escape hatch for blocking calls that cannot be made cooperative (CGO,
// certain DNS resolvers). It runs f on a real goroutine outside any hub's
// single-task-at-a-time discipline and reports completion through the
// returned channel — callers must not touch hub-owned state from f.
func SpawnOSThread(f func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	return done
}

// Package server implements the accept loop: take a listening gnet.Socket,
// accept connections forever, and dispatch each to a handler under one of
// three strategies (bare spawn, pooled spawn, pooled spawn linked to the
// server's own task for cancellation propagation).
package server

import (
	"errors"
	"net"

	"github.com/joeycumines/go-catrate"

	"github.com/xtaci/greenio/gnet"
	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/internal/obs"
	"github.com/xtaci/greenio/pool"
	"github.com/xtaci/greenio/reactor"
	"github.com/xtaci/greenio/task"
)

var log = obs.Named(obs.L, "server")

// Handler processes one accepted connection. Returning ends the
// connection's dispatched task; the server does not call Close on conn for
// you unless the handler has already done so — ownership of conn's
// lifetime belongs entirely to the handler.
type Handler func(conn *gnet.Socket, addr net.Addr)

// Strategy selects how an accepted connection is dispatched to a Handler.
type Strategy int

const (
	// Bare spawns a detached task per connection: fastest, no joining, no
	// concurrency bound.
	Bare Strategy = iota
	// Pooled dispatches through a bounded pool.Pool, applying concurrency
	// backpressure and supporting graceful drain via Pool.WaitAll.
	Pooled
	// PooledLinked is Pooled, additionally linking each connection task to
	// the server's own task so killing the server task cancels every live
	// connection.
	PooledLinked
)

// Server runs an accept loop over a listening socket.
type Server struct {
	hub      *reactor.Hub
	listener *gnet.Socket
	handler  Handler
	strategy Strategy
	pool     *pool.Pool
	limiter  *catrate.Limiter

	parent *task.Task
}

// New creates a Server. For Pooled/PooledLinked strategies, p must be
// non-nil. limiter, if non-nil, is consulted per accepted remote IP;
// connections over the configured rate are closed immediately without
// being dispatched.
func New(h *reactor.Hub, listener *gnet.Socket, handler Handler, strategy Strategy, p *pool.Pool, limiter *catrate.Limiter) *Server {
	return &Server{
		hub:      h,
		listener: listener,
		handler:  handler,
		strategy: strategy,
		pool:     p,
		limiter:  limiter,
	}
}

// Serve runs the accept loop until it returns ErrStopServe (returned as
// nil) or a fatal accept error. It is intended to run as the body of a
// spawned task, so that accept()'s would-block path trampolines instead of
// blocking the hub.
func (s *Server) Serve(self *task.Task) error {
	s.parent = self
	for {
		conn, addr, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, errs.ErrStopServe) {
				return nil
			}
			log.Err().Err(err).Log("accept failed")
			return err
		}

		if s.limiter != nil && addr != nil {
			key := remoteKey(addr)
			if _, ok := s.limiter.Allow(key); !ok {
				conn.Close()
				continue
			}
		}

		s.dispatch(conn, addr)
	}
}

func (s *Server) dispatch(conn *gnet.Socket, addr net.Addr) {
	handler := func(t *task.Task) (any, error) {
		s.handler(conn, addr)
		return nil, nil
	}

	switch s.strategy {
	case Pooled:
		s.pool.Spawn(handler)
	case PooledLinked:
		t := s.pool.Spawn(handler)
		if s.parent != nil {
			t.Link(func(done *task.Task, _ []any) {}, nil)
			s.parent.Link(func(*task.Task, []any) {
				t.Kill(errs.ErrCancelled)
			}, nil)
		}
	default:
		task.SpawnDetached(s.hub, handler)
	}
}

// StopServe causes a running Serve loop to exit cleanly by injecting
// ErrStopServe into the accept path's next wakeup.
func StopServe(t *task.Task) {
	t.Kill(errs.ErrStopServe)
}

func remoteKey(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok && tcp.IP != nil {
		return tcp.IP.String()
	}
	return addr.String()
}

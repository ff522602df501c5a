// Package gnet implements a cooperative, non-blocking socket: every
// blocking-shaped call (accept, connect, recv, send, ...) attempts the
// underlying syscall first and, only on EAGAIN, suspends the calling task
// via reactor.Trampoline instead of blocking an OS thread.
package gnet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
)

// Socket wraps a non-blocking file descriptor. The fd is put into
// non-blocking mode once, at construction, and stays that way for the
// socket's entire lifetime.
type Socket struct {
	hub *reactor.Hub

	mu       sync.Mutex
	fd       int
	closed   bool
	refcount int
	timeout  time.Duration // >0 = per-call timeout; 0 with hasTO = non-blocking, 0 without = blocking-no-timeout
	hasTO    bool
	family   int
	sotype   int
}

// newSocket wraps an already-created, already-non-blocking fd.
func newSocket(h *reactor.Hub, fd, family, sotype int) *Socket {
	return &Socket{hub: h, fd: fd, family: family, sotype: sotype}
}

// FromFD wraps an existing OS file descriptor, switching it to non-blocking
// mode. Ownership of fd transfers to the returned Socket.
func FromFD(h *reactor.Hub, fd, family, sotype int) (*Socket, error) {
	if err := setNonblocking(fd); err != nil {
		return nil, err
	}
	return newSocket(h, fd, family, sotype), nil
}

// SetTimeout matches settimeout(): d == 0 means non-blocking (every
// would-block surfaces as ErrWouldBlock instead of suspending); d < 0 means
// blocking with no deadline; d > 0 applies to each call independently.
func (s *Socket) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == 0 {
		s.timeout, s.hasTO = 0, true
		return
	}
	if d < 0 {
		s.timeout, s.hasTO = 0, false
		return
	}
	s.timeout, s.hasTO = d, true
}

// Timeout returns the currently configured per-call timeout and whether
// the socket is in non-blocking (zero-timeout) mode.
func (s *Socket) Timeout() (d time.Duration, nonBlocking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout, s.hasTO && s.timeout == 0
}

func (s *Socket) deadline() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasTO && s.timeout == 0 {
		return 0, true // non-blocking: never trampoline
	}
	return s.timeout, false
}

// Fd returns the raw file descriptor without relinquishing ownership.
func (s *Socket) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// retry runs attempt until it returns something other than would-block,
// trampolining on dir between attempts. When the socket is configured with
// a zero timeout, a would-block returns errs.ErrWouldBlock immediately
// instead of suspending.
func (s *Socket) retry(dir reactor.Direction, attempt func() (int, error)) (int, error) {
	for {
		n, err := attempt()
		if err == nil {
			return n, nil
		}
		switch classify(err) {
		case outcomeWouldBlock:
			timeout, nonBlocking := s.deadline()
			if nonBlocking {
				return 0, errs.ErrWouldBlock
			}
			fd := s.Fd()
			if trampErr := reactor.Trampoline(s.hub, fd, dir, timeout, errs.ErrTimeout); trampErr != nil {
				return 0, trampErr
			}
		case outcomeClosed:
			return 0, errs.ErrClosed
		default:
			return 0, err
		}
	}
}

// Accept blocks until a connection arrives, returning a Socket wrapping it
// and the peer address.
func (s *Socket) Accept() (*Socket, net.Addr, error) {
	var nfd int
	var sa unix.Sockaddr
	_, err := s.retry(reactor.Read, func() (int, error) {
		fd, addr, aerr := unix.Accept(s.Fd())
		if aerr != nil {
			return 0, aerr
		}
		nfd, sa = fd, addr
		return fd, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if err := setNonblocking(nfd); err != nil {
		unix.Close(nfd)
		return nil, nil, err
	}
	return newSocket(s.hub, nfd, s.family, s.sotype), sockaddrToAddr(sa), nil
}

// Connect drives a non-blocking connect to completion: attempt, and if it
// returns EINPROGRESS, trampoline WRITE then check SO_ERROR. A zero-timeout
// socket returns immediately with the OS result, wrapped in ErrWouldBlock,
// instead of trampolining.
func (s *Socket) Connect(sa unix.Sockaddr) error {
	err := unix.Connect(s.Fd(), sa)
	if err == nil {
		return nil
	}
	if classify(err) != outcomeWouldBlock {
		return err
	}
	timeout, nonBlocking := s.deadline()
	if nonBlocking {
		return fmt.Errorf("%w: %w", errs.ErrWouldBlock, err)
	}
	if trampErr := reactor.Trampoline(s.hub, s.Fd(), reactor.Write, timeout, errs.ErrTimeout); trampErr != nil {
		return trampErr
	}
	return socketError(s.Fd())
}

// Recv reads up to len(buf) bytes. A half-closed peer yields (0, nil), and
// so does every later call, matching Berkeley-socket EOF-as-empty-read
// semantics.
func (s *Socket) Recv(buf []byte) (int, error) {
	n, err := s.retry(reactor.Read, func() (int, error) {
		return unix.Read(s.Fd(), buf)
	})
	if err == errs.ErrClosed {
		return 0, nil
	}
	return n, err
}

// RecvFrom is Recv for a connectionless (UDP-style) socket, also returning
// the sender's address.
func (s *Socket) RecvFrom(buf []byte) (int, net.Addr, error) {
	var sa unix.Sockaddr
	n, err := s.retry(reactor.Read, func() (int, error) {
		nn, addr, rerr := unix.Recvfrom(s.Fd(), buf, 0)
		if rerr != nil {
			return 0, rerr
		}
		sa = addr
		return nn, nil
	})
	if err == errs.ErrClosed {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return n, sockaddrToAddr(sa), nil
}

// Send writes up to len(buf) bytes, returning the number actually written
// (which may be less than len(buf) for a single call — use SendAll to
// drive it to completion).
func (s *Socket) Send(buf []byte) (int, error) {
	return s.retry(reactor.Write, func() (int, error) {
		return unix.Write(s.Fd(), buf)
	})
}

// SendTo is Send for a connectionless socket.
func (s *Socket) SendTo(buf []byte, sa unix.Sockaddr) (int, error) {
	return s.retry(reactor.Write, func() (int, error) {
		if err := unix.Sendto(s.Fd(), buf, 0, sa); err != nil {
			return 0, err
		}
		return len(buf), nil
	})
}

// SendAll drives buf to completion across as many Send calls as needed. If
// the socket has a per-call timeout, the deadline is apportioned across
// iterations rather than reset on each one.
func (s *Socket) SendAll(buf []byte) error {
	timeout, _ := s.deadline()
	var deadline time.Time
	if timeout > 0 {
		deadline = timeNow().Add(timeout)
	}

	for len(buf) > 0 {
		if timeout > 0 {
			remaining := deadline.Sub(timeNow())
			if remaining <= 0 {
				return errs.ErrTimeout
			}
			s.SetTimeout(remaining)
		}
		n, err := s.Send(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	if timeout > 0 {
		s.SetTimeout(timeout)
	}
	return nil
}

// timeNow is a seam so SendAll's deadline math doesn't call time.Now
// directly from more than one place; it has no other purpose.
func timeNow() time.Time { return time.Now() }

// Close marks the socket closed and, once the I/O refcount drops to zero,
// actually closes the fd. Subsequent operations fail with ErrClosed.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	refs := s.refcount
	fd := s.fd
	s.mu.Unlock()

	s.hub.NotifyOpened(fd)
	if refs == 0 {
		return unix.Close(fd)
	}
	return nil
}

// Detach transfers ownership of the fd to the caller and marks the socket
// closed without actually closing the descriptor.
func (s *Socket) Detach() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.fd
}

// acquireIO and releaseIO back makefile()-style shared-fd bookkeeping: the
// fd is only actually closed once every io handle referencing it is gone.
func (s *Socket) acquireIO() {
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
}

func (s *Socket) releaseIO() {
	s.mu.Lock()
	s.refcount--
	closed, refs, fd := s.closed, s.refcount, s.fd
	s.mu.Unlock()
	if closed && refs == 0 {
		unix.Close(fd)
	}
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: v.Addr[:], Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: v.Addr[:], Port: v.Port}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{Name: v.Name, Net: "unix"}
	default:
		return nil
	}
}

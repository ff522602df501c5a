//go:build !windows

package gnet

import (
	"errors"

	"golang.org/x/sys/unix"
)

// outcome buckets a raw syscall error the way Socket's retry loop expects:
// would-block asks the caller to trampoline and retry, closed asks it to
// surface CLOSED, and everything else propagates verbatim.
type outcome int

const (
	outcomeOther outcome = iota
	outcomeWouldBlock
	outcomeClosed
)

// classify buckets err from a non-blocking read/write/accept/connect
// syscall. On POSIX, ENOTCONN from an unconnected socket is treated as
// would-block rather than an error, matching the accept()-on-a-not-yet-
// connected-socket quirk some platforms exhibit.
func classify(err error) outcome {
	if err == nil {
		return outcomeOther
	}
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.ENOTCONN):
		return outcomeWouldBlock
	case errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.ESHUTDOWN), errors.Is(err, unix.EPIPE):
		return outcomeClosed
	default:
		return outcomeOther
	}
}

// socketError retrieves a pending asynchronous error via SO_ERROR, used
// after a non-blocking connect's write-readiness to tell success from
// failure.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func setReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

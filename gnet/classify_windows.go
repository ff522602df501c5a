//go:build windows

package gnet

import (
	"errors"

	"golang.org/x/sys/windows"
)

type outcome int

const (
	outcomeOther outcome = iota
	outcomeWouldBlock
	outcomeClosed
)

// classify diverges from classify_unix.go exactly as documented: Windows
// treats ENOTCONN as a closed-connection signal rather than would-block,
// because an unconnected socket on this platform does not produce the same
// accept()-before-connect readiness quirk POSIX does.
func classify(err error) outcome {
	if err == nil {
		return outcomeOther
	}
	switch {
	case errors.Is(err, windows.WSAEWOULDBLOCK), errors.Is(err, windows.WSAEINPROGRESS):
		return outcomeWouldBlock
	case errors.Is(err, windows.WSAECONNRESET), errors.Is(err, windows.WSAESHUTDOWN), errors.Is(err, windows.WSAECONNABORTED), errors.Is(err, windows.WSAENOTCONN):
		return outcomeClosed
	default:
		return outcomeOther
	}
}

func socketError(fd int) error {
	errno, err := windows.GetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return windows.Errno(errno)
	}
	return nil
}

func setReuseAddr(fd int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}

func setNonblocking(fd int) error {
	return windows.SetNonblock(windows.Handle(fd), true)
}

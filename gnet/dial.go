package gnet

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xtaci/greenio/reactor"
)

// Dial creates a Socket and connects it to addr, blocking the calling task
// (not an OS thread) until the connection completes or timeout elapses.
// timeout <= 0 means block with no deadline.
func Dial(h *reactor.Hub, network, addr string, timeout time.Duration) (*Socket, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	family := unix.AF_INET
	if tcpAddr.IP != nil && tcpAddr.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := setNonblocking(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sock := newSocket(h, fd, family, unix.SOCK_STREAM)
	if timeout > 0 {
		sock.SetTimeout(timeout)
	}

	sa, err := addrToSockaddr(family, tcpAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := sock.Connect(sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return sock, nil
}

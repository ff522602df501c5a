package gnet

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/xtaci/greenio/reactor"
)

// Listen creates a non-blocking TCP listening Socket bound to addr
// ("host:port"), with SO_REUSEADDR set and the given backlog. backlog <= 0
// uses 511, matching the conventional high-throughput default.
func Listen(h *reactor.Hub, network, addr string, backlog int) (*Socket, error) {
	if backlog <= 0 {
		backlog = 511
	}

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
	if err := setReuseAddr(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := setNonblocking(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sa, err := addrToSockaddr(family, tcpAddr)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("gnet: bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("gnet: listen %s: %w", addr, err)
	}

	return newSocket(h, fd, family, unix.SOCK_STREAM), nil
}

func addrToSockaddr(family int, a *net.TCPAddr) (unix.Sockaddr, error) {
	port := 0
	if a != nil {
		port = a.Port
	}
	if family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: port}
		if a != nil && a.IP != nil {
			copy(sa.Addr[:], a.IP.To16())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: port}
	if a != nil && a.IP != nil && a.IP.To4() != nil {
		copy(sa.Addr[:], a.IP.To4())
	}
	return sa, nil
}

//go:build linux

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

func newNativePoller() (Poller, error) { return newEpollPoller() }

// newKqueuePoller is unavailable on linux; GREENIO_REACTOR=kqueue falls
// back to reporting the platform mismatch rather than silently picking
// epoll, so misconfiguration is loud.
func newKqueuePoller() (Poller, error) { return nil, errUnsupportedPlatform }

// epollPoller tracks a combined interest mask per fd, since epoll_ctl takes
// one event set per fd rather than one per direction, narrowed here to a
// strict one-watcher-per-direction model.
type epollPoller struct {
	epfd    int
	wakeFd  int
	mu      sync.Mutex
	masks   map[int]uint32
	events  []unix.EpollEvent
	closed  bool
}

func newEpollPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		wakeFd: wakeFd,
		masks:  make(map[int]uint32),
		events: make([]unix.EpollEvent, 256),
	}, nil
}

func dirBit(dir Direction) uint32 {
	if dir == Write {
		return unix.EPOLLOUT
	}
	return unix.EPOLLIN
}

func (p *epollPoller) Add(fd int, dir Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, exists := p.masks[fd]
	mask := old | dirBit(dir)
	p.masks[fd] = mask

	ev := &unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if !exists {
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev)
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Remove(fd int, dir Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	old, exists := p.masks[fd]
	if !exists {
		return nil
	}
	mask := old &^ dirBit(dir)
	if mask == 0 {
		delete(p.masks, fd)
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	p.masks[fd] = mask
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: mask, Fd: int32(fd)})
}

func (p *epollPoller) Wait() ([]ReadyEvent, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		out := make([]ReadyEvent, 0, n)
		for i := 0; i < n; i++ {
			ev := p.events[i]
			fd := int(ev.Fd)
			if fd == p.wakeFd {
				var buf [8]byte
				unix.Read(p.wakeFd, buf[:])
				continue
			}
			out = append(out, ReadyEvent{
				Fd:      fd,
				Read:    ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				Write:   ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				Err:     ev.Events&unix.EPOLLERR != 0,
				Hangup:  ev.Events&unix.EPOLLHUP != 0,
				Invalid: ev.Events&unix.EPOLLNVAL != 0,
			})
		}
		return out, nil
	}
}

func (p *epollPoller) Wake() error {
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(p.wakeFd, one[:])
	return err
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}

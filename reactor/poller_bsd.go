//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package reactor

import (
	"sync"

	"golang.org/x/sys/unix"
)

func newNativePoller() (Poller, error) { return newKqueuePoller() }

// newEpollPoller is unavailable on BSD/Darwin; see poller_linux.go's
// symmetric stub.
func newEpollPoller() (Poller, error) { return nil, errUnsupportedPlatform }

// kqueuePoller registers EVFILT_READ/EVFILT_WRITE independently per fd,
// which unlike epoll needs no combined-mask bookkeeping. Wake-up uses the
// classic self-pipe trick, since kqueue's EVFILT_USER requires a kernel
// newer than some supported BSDs guarantee.
type kqueuePoller struct {
	kq         int
	wakeRead   int
	wakeWrite  int
	mu         sync.Mutex
	events     []unix.Kevent_t
}

func newKqueuePoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)

	p := &kqueuePoller{
		kq:        kq,
		wakeRead:  fds[0],
		wakeWrite: fds[1],
		events:    make([]unix.Kevent_t, 256),
	}

	wakeEv := []unix.Kevent_t{{
		Ident:  uint64(p.wakeRead),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	if _, err := unix.Kevent(p.kq, wakeEv, nil, nil); err != nil {
		unix.Close(p.wakeRead)
		unix.Close(p.wakeWrite)
		unix.Close(p.kq)
		return nil, err
	}
	return p, nil
}

func (p *kqueuePoller) Add(fd int, dir Direction) error {
	filter := int16(unix.EVFILT_READ)
	if dir == Write {
		filter = unix.EVFILT_WRITE
	}
	ev := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	_, err := unix.Kevent(p.kq, ev, nil, nil)
	return err
}

func (p *kqueuePoller) Remove(fd int, dir Direction) error {
	filter := int16(unix.EVFILT_READ)
	if dir == Write {
		filter = unix.EVFILT_WRITE
	}
	ev := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  unix.EV_DELETE,
	}}
	_, err := unix.Kevent(p.kq, ev, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *kqueuePoller) Wait() ([]ReadyEvent, error) {
	for {
		n, err := unix.Kevent(p.kq, nil, p.events, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		out := make([]ReadyEvent, 0, n)
		for i := 0; i < n; i++ {
			kev := p.events[i]
			fd := int(kev.Ident)
			if fd == p.wakeRead {
				var buf [512]byte
				for {
					if _, err := unix.Read(p.wakeRead, buf[:]); err != nil {
						break
					}
				}
				continue
			}
			re := ReadyEvent{
				Fd:      fd,
				Err:     kev.Flags&unix.EV_ERROR != 0,
				Hangup:  kev.Flags&unix.EV_EOF != 0,
				Invalid: false,
			}
			switch kev.Filter {
			case unix.EVFILT_READ:
				re.Read = true
			case unix.EVFILT_WRITE:
				re.Write = true
			}
			out = append(out, re)
		}
		return out, nil
	}
}

func (p *kqueuePoller) Wake() error {
	_, err := unix.Write(p.wakeWrite, []byte{1})
	return err
}

func (p *kqueuePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	unix.Close(p.wakeRead)
	unix.Close(p.wakeWrite)
	return unix.Close(p.kq)
}

//go:build linux

package reactor

import (
	"syscall"
	"time"
)

// epollPoller backs Reactor with the same raw syscall.EpollCreate1 /
// EpollCtl / EpollWait sequence the teacher's EpollServer uses in
// pkg/websocket/netpoll.go, generalized from "listener fds only" to any
// client socket fd the session layer registers.
type epollPoller struct {
	epfd   int
	events []syscall.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := syscall.EpollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		events: make([]syscall.EpollEvent, 1024),
	}, nil
}

func toEpollEvents(mask Mask) uint32 {
	var ev uint32
	if mask&Readable != 0 {
		ev |= syscall.EPOLLIN
	}
	if mask&Writable != 0 {
		ev |= syscall.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) add(fd int, mask Mask) error {
	ev := syscall.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, mask Mask) error {
	ev := syscall.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeoutMillis int) ([]readyFD, error) {
	n, err := syscall.EpollWait(p.epfd, p.events, timeoutMillis)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, err
	}
	ready := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		var mask Mask
		if ev.Events&(syscall.EPOLLIN|syscall.EPOLLHUP|syscall.EPOLLERR) != 0 {
			mask |= Readable
		}
		if ev.Events&syscall.EPOLLOUT != 0 {
			mask |= Writable
		}
		ready = append(ready, readyFD{fd: int(ev.Fd), mask: mask})
	}
	return ready, nil
}

func (p *epollPoller) close() error {
	return syscall.Close(p.epfd)
}

func sleepMillis(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// NowMillis is the default clock source wired into New by the server.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

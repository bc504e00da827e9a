// Package netio is the network endpoint (spec.md §4.2): listener setup,
// per-connection socket tuning and the handful of blocking synchronous
// helpers used only by replica bootstrap. It works in raw file
// descriptors rather than net.Conn because the reactor (internal/reactor)
// owns readiness via its own epoll instance — mixing that with the Go
// runtime's built-in netpoller would fight over the same fd, so every
// socket in this server is opened, tuned and read/written the way the
// teacher's CreateOptimizedListener and SetTCPOptions do it in
// pkg/websocket/netpoll.go: straight through the syscall package.
package netio

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// ErrWouldBlock signals a non-blocking read/write/accept with nothing to do.
var ErrWouldBlock = errors.New("netio: would block")

// Listen opens a non-blocking, REUSEADDR TCP listener on host:port with a
// backlog of 32, the endpoint contract in spec.md §4.2.
func Listen(host string, port int) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("netio: socket: %w", err)
	}

	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("netio: SO_REUSEADDR: %w", err)
	}

	addr := syscall.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host)
		if ip == nil {
			syscall.Close(fd)
			return -1, fmt.Errorf("netio: invalid bind address %q", host)
		}
		copy(addr.Addr[:], ip.To4())
	}

	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("netio: bind: %w", err)
	}
	const backlog = 32
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("netio: listen: %w", err)
	}
	if err := SetNonBlocking(fd); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Accept retries on EINTR (spec.md §4.2: "accept loop retries on
// interrupt") and returns ErrWouldBlock when the non-blocking listener
// has nothing pending.
func Accept(listenFd int) (connFd int, remoteAddr string, err error) {
	for {
		nfd, sa, err := syscall.Accept4(listenFd, syscall.SOCK_NONBLOCK)
		if err == nil {
			return nfd, sockaddrString(sa), nil
		}
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.EAGAIN {
			return -1, "", ErrWouldBlock
		}
		return -1, "", fmt.Errorf("netio: accept: %w", err)
	}
}

func sockaddrString(sa syscall.Sockaddr) string {
	if v, ok := sa.(*syscall.SockaddrInet4); ok {
		ip := net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3])
		return fmt.Sprintf("%s:%d", ip.String(), v.Port)
	}
	return "unknown"
}

// ConfigureClientSocket applies the per-connection setup in spec.md
// §4.2: non-blocking mode and TCP_NODELAY, plus keepalive so idle peers
// behind NAT/firewalls are detected.
func ConfigureClientSocket(fd int) error {
	if err := SetNonBlocking(fd); err != nil {
		return err
	}
	syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
	return nil
}

// SetNonBlocking flips O_NONBLOCK on fd.
func SetNonBlocking(fd int) error {
	return syscall.SetNonblock(fd, true)
}

// DialBlocking performs a blocking connect to host:port, used by replica
// bootstrap (spec.md §4.2, §4.10).
func DialBlocking(host string, port int) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("netio: socket: %w", err)
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		syscall.Close(fd)
		return -1, fmt.Errorf("netio: resolve %s: %w", host, err)
	}
	addr := syscall.SockaddrInet4{Port: port}
	copy(addr.Addr[:], ips[0].To4())
	if err := syscall.Connect(fd, &addr); err != nil {
		syscall.Close(fd)
		return -1, fmt.Errorf("netio: connect: %w", err)
	}
	return fd, nil
}

// Close closes a raw socket fd.
func Close(fd int) error {
	return syscall.Close(fd)
}

// Read performs one non-blocking read, translating EAGAIN to ErrWouldBlock.
func Read(fd int, buf []byte) (int, error) {
	n, err := syscall.Read(fd, buf)
	if err != nil {
		if err == syscall.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Write performs one non-blocking write, translating EAGAIN to ErrWouldBlock.
func Write(fd int, buf []byte) (int, error) {
	n, err := syscall.Write(fd, buf)
	if err != nil {
		if err == syscall.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// waitReady polls fd for readiness with 1-second granularity, the way
// spec.md §4.2 describes its synchronous bootstrap helpers, returning a
// timeout error if the overall deadline elapses first.
func waitReady(fd int, events int16, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("netio: timed out waiting for fd %d", fd)
		}
		wait := remaining
		if wait > time.Second {
			wait = time.Second
		}
		fds := []syscall.PollFd{{Fd: int32(fd), Events: events}}
		n, err := syscall.Poll(fds, int(wait.Milliseconds()))
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			return err
		}
		if n > 0 && fds[0].Revents&(events|syscall.POLLERR|syscall.POLLHUP) != 0 {
			return nil
		}
	}
}

// SyncRead blocks (via polling) until at least one read succeeds or the
// deadline passes, used only by replica bootstrap (spec.md §4.2).
func SyncRead(fd int, buf []byte, deadlineSeconds int) (int, error) {
	deadline := time.Now().Add(time.Duration(deadlineSeconds) * time.Second)
	if err := waitReady(fd, syscall.POLLIN, deadline); err != nil {
		return 0, err
	}
	n, err := syscall.Read(fd, buf)
	if err != nil && err != syscall.EAGAIN {
		return 0, err
	}
	return n, nil
}

// SyncWrite blocks (via polling) until buf is fully written or the
// deadline passes.
func SyncWrite(fd int, buf []byte, deadlineSeconds int) error {
	deadline := time.Now().Add(time.Duration(deadlineSeconds) * time.Second)
	for len(buf) > 0 {
		if err := waitReady(fd, syscall.POLLOUT, deadline); err != nil {
			return err
		}
		n, err := syscall.Write(fd, buf)
		if err != nil && err != syscall.EAGAIN {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// SyncReadLine reads until LF or the deadline passes, stripping a
// trailing CR, used by replica bootstrap to read the dump byte count.
func SyncReadLine(fd int, deadlineSeconds int) (string, error) {
	deadline := time.Now().Add(time.Duration(deadlineSeconds) * time.Second)
	var line []byte
	buf := make([]byte, 1)
	for {
		if err := waitReady(fd, syscall.POLLIN, deadline); err != nil {
			return "", err
		}
		n, err := syscall.Read(fd, buf)
		if err != nil && err != syscall.EAGAIN {
			return "", err
		}
		if n == 0 {
			continue
		}
		if buf[0] == '\n' {
			break
		}
		line = append(line, buf[0])
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return string(line), nil
}

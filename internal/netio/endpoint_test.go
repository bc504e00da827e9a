package netio_test

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvsrv/internal/netio"
)

// socketpair returns two connected, blocking AF_UNIX stream fds so the
// syscall-level read/write helpers can be exercised without touching a
// real network interface.
func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadWriteRoundTrip(t *testing.T) {
	a, b := socketpair(t)

	n, err := netio.Write(a, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = netio.Read(b, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReadReturnsWouldBlockOnNonBlockingEmptySocket(t *testing.T) {
	a, b := socketpair(t)
	require.NoError(t, netio.SetNonBlocking(b))
	_ = a

	buf := make([]byte, 16)
	_, err := netio.Read(b, buf)
	assert.ErrorIs(t, err, netio.ErrWouldBlock)
}

func TestSyncReadWriteRoundTrip(t *testing.T) {
	a, b := socketpair(t)

	go func() {
		_ = netio.SyncWrite(a, []byte("payload"), 5)
	}()

	buf := make([]byte, 16)
	n, err := netio.SyncRead(b, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestSyncReadLineStripsTrailingCR(t *testing.T) {
	a, b := socketpair(t)

	go func() {
		_ = netio.SyncWrite(a, []byte("1024\r\n"), 5)
	}()

	line, err := netio.SyncReadLine(b, 5)
	require.NoError(t, err)
	assert.Equal(t, "1024", line)
}

func TestSyncReadTimesOutOnIdleSocket(t *testing.T) {
	_, b := socketpair(t)

	buf := make([]byte, 16)
	_, err := netio.SyncRead(b, buf, 0)
	assert.Error(t, err)
}

func TestListenAndAcceptOverLoopback(t *testing.T) {
	listenFd, err := netio.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	defer netio.Close(listenFd)

	sa, err := syscall.Getsockname(listenFd)
	require.NoError(t, err)
	inet4, ok := sa.(*syscall.SockaddrInet4)
	require.True(t, ok)
	port := inet4.Port

	dialDone := make(chan error, 1)
	go func() {
		connFd, dialErr := netio.DialBlocking("127.0.0.1", port)
		if dialErr == nil {
			netio.Close(connFd)
		}
		dialDone <- dialErr
	}()

	var connFd int
	for {
		connFd, _, err = netio.Accept(listenFd)
		if err == nil {
			break
		}
		if err == netio.ErrWouldBlock {
			continue
		}
		require.NoError(t, err)
	}
	defer netio.Close(connFd)

	require.NoError(t, <-dialDone)
}

func TestConfigureClientSocketSucceeds(t *testing.T) {
	a, _ := socketpair(t)
	assert.NoError(t, netio.ConfigureClientSocket(a))
}

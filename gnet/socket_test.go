package gnet

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xtaci/greenio/internal/errs"
	"github.com/xtaci/greenio/reactor"
	"github.com/xtaci/greenio/task"
)

// nativeTestHub uses the platform's real poller since gnet needs genuine
// fd readiness, unlike most other packages' fallback-backend tests.
func nativeTestHub(t *testing.T) *reactor.Hub {
	t.Helper()
	h, err := reactor.NewHub()
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestEchoRoundTrip(t *testing.T) {
	h := nativeTestHub(t)
	ln, err := Listen(h, "tcp", "127.0.0.1:0", 0)
	require.NoError(t, err)
	laddr := mustListenAddr(t, ln)

	var serverErr error
	task.Spawn(h, func(*task.Task) (any, error) {
		conn, _, aerr := ln.Accept()
		if aerr != nil {
			serverErr = aerr
			return nil, aerr
		}
		buf := make([]byte, 16)
		n, rerr := conn.Recv(buf)
		if rerr != nil {
			serverErr = rerr
			return nil, rerr
		}
		if serr := conn.SendAll(buf[:n]); serr != nil {
			serverErr = serr
		}
		conn.Close()
		return nil, nil
	})

	var got string
	var clientErr error
	task.Spawn(h, func(*task.Task) (any, error) {
		c, derr := Dial(h, "tcp", laddr, 2*time.Second)
		if derr != nil {
			clientErr = derr
			h.Stop()
			return nil, derr
		}
		if _, werr := c.Send([]byte("hi")); werr != nil {
			clientErr = werr
			h.Stop()
			return nil, werr
		}
		buf := make([]byte, 16)
		n, rerr := c.Recv(buf)
		if rerr != nil {
			clientErr = rerr
		} else {
			got = string(buf[:n])
		}
		c.Close()
		ln.Close()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	require.NoError(t, serverErr)
	require.NoError(t, clientErr)
	assert.Equal(t, "hi", got)
}

func TestSendAllEmptyBufferIsNoop(t *testing.T) {
	h := nativeTestHub(t)
	ln, err := Listen(h, "tcp", "127.0.0.1:0", 0)
	require.NoError(t, err)
	laddr := mustListenAddr(t, ln)

	task.Spawn(h, func(*task.Task) (any, error) {
		conn, _, aerr := ln.Accept()
		require.NoError(t, aerr)
		buf := make([]byte, 4)
		n, rerr := conn.Recv(buf)
		require.NoError(t, rerr)
		assert.Equal(t, 0, n)
		conn.Close()
		return nil, nil
	})

	var sendErr error
	task.Spawn(h, func(*task.Task) (any, error) {
		c, derr := Dial(h, "tcp", laddr, 2*time.Second)
		require.NoError(t, derr)
		sendErr = c.SendAll(nil)
		c.Close()
		ln.Close()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.NoError(t, sendErr)
}

func TestHalfClosedPeerRecvReturnsZeroNil(t *testing.T) {
	h := nativeTestHub(t)
	ln, err := Listen(h, "tcp", "127.0.0.1:0", 0)
	require.NoError(t, err)
	laddr := mustListenAddr(t, ln)

	task.Spawn(h, func(*task.Task) (any, error) {
		conn, _, aerr := ln.Accept()
		require.NoError(t, aerr)
		conn.Close()
		return nil, nil
	})

	var n int
	var recvErr error
	task.Spawn(h, func(*task.Task) (any, error) {
		c, derr := Dial(h, "tcp", laddr, 2*time.Second)
		require.NoError(t, derr)
		buf := make([]byte, 8)
		n, recvErr = c.Recv(buf)
		c.Close()
		ln.Close()
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.NoError(t, recvErr)
	assert.Equal(t, 0, n)
}

func TestNonBlockingRecvReturnsWouldBlock(t *testing.T) {
	h := nativeTestHub(t)
	ln, err := Listen(h, "tcp", "127.0.0.1:0", 0)
	require.NoError(t, err)
	laddr := mustListenAddr(t, ln)

	var recvErr error
	task.Spawn(h, func(*task.Task) (any, error) {
		conn, _, aerr := ln.Accept()
		require.NoError(t, aerr)
		conn.SetTimeout(0) // non-blocking
		buf := make([]byte, 8)
		_, recvErr = conn.Recv(buf)
		conn.Close()
		ln.Close()
		h.Stop()
		return nil, nil
	})

	task.Spawn(h, func(*task.Task) (any, error) {
		c, derr := Dial(h, "tcp", laddr, 2*time.Second)
		require.NoError(t, derr)
		// intentionally never send; hold the connection open briefly so
		// the peer's non-blocking Recv observes EAGAIN, not ECONNRESET.
		time.Sleep(20 * time.Millisecond)
		c.Close()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, recvErr, errs.ErrWouldBlock)
}

func TestConnectTimeout(t *testing.T) {
	h := nativeTestHub(t)
	// 192.0.2.0/24 is TEST-NET-1 (RFC 5737): reserved, non-routable, so the
	// SYN is dropped rather than rejected and the connect genuinely hangs
	// until the deadline fires.
	var err error
	task.Spawn(h, func(*task.Task) (any, error) {
		_, err = Dial(h, "tcp", "192.0.2.1:9", 30*time.Millisecond)
		h.Stop()
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, err, errs.ErrTimeout)
}

// mustListenAddr reads back the ephemeral port the OS assigned a
// 127.0.0.1:0 listener via getsockname, since Socket doesn't track it.
func mustListenAddr(t *testing.T, ln *Socket) string {
	t.Helper()
	sa, err := unix.Getsockname(ln.Fd())
	require.NoError(t, err)
	v, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return fmt.Sprintf("127.0.0.1:%d", v.Port)
}

package server

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xtaci/greenio/gnet"
	"github.com/xtaci/greenio/pool"
	"github.com/xtaci/greenio/reactor"
	"github.com/xtaci/greenio/task"
)

func nativeTestHub(t *testing.T) *reactor.Hub {
	t.Helper()
	h, err := reactor.NewHub()
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func listenAddr(t *testing.T, ln *gnet.Socket) string {
	t.Helper()
	sa, err := unix.Getsockname(ln.Fd())
	require.NoError(t, err)
	v, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return fmt.Sprintf("127.0.0.1:%d", v.Port)
}

func dialAndClose(t *testing.T, addr string) {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	c.Close()
}

func TestServeBareDispatchesEachConnection(t *testing.T) {
	h := nativeTestHub(t)
	ln, err := gnet.Listen(h, "tcp", "127.0.0.1:0", 0)
	require.NoError(t, err)
	addr := listenAddr(t, ln)

	handled := make(chan struct{}, 2)
	srv := New(h, ln, func(conn *gnet.Socket, _ net.Addr) {
		conn.Close()
		handled <- struct{}{}
	}, Bare, nil, nil)

	var serveTask *task.Task
	serveTask = task.Spawn(h, func(self *task.Task) (any, error) {
		return nil, srv.Serve(self)
	})

	go func() {
		dialAndClose(t, addr)
		dialAndClose(t, addr)
		<-handled
		<-handled
		StopServe(serveTask)
		ln.Close()
		h.Stop()
	}()

	require.NoError(t, h.Run())
}

func TestServePooledBoundsConcurrency(t *testing.T) {
	h := nativeTestHub(t)
	ln, err := gnet.Listen(h, "tcp", "127.0.0.1:0", 0)
	require.NoError(t, err)
	addr := listenAddr(t, ln)

	p := pool.New(h, 1)
	handled := make(chan struct{}, 2)
	srv := New(h, ln, func(conn *gnet.Socket, _ net.Addr) {
		conn.Close()
		handled <- struct{}{}
	}, Pooled, p, nil)

	var serveTask *task.Task
	serveTask = task.Spawn(h, func(self *task.Task) (any, error) {
		return nil, srv.Serve(self)
	})

	go func() {
		dialAndClose(t, addr)
		dialAndClose(t, addr)
		<-handled
		<-handled
		StopServe(serveTask)
		ln.Close()
		h.Stop()
	}()

	require.NoError(t, h.Run())
	assert.LessOrEqual(t, p.Running(), 1)
}

func TestStopServeReturnsCleanly(t *testing.T) {
	h := nativeTestHub(t)
	ln, err := gnet.Listen(h, "tcp", "127.0.0.1:0", 0)
	require.NoError(t, err)

	srv := New(h, ln, func(conn *gnet.Socket, _ net.Addr) { conn.Close() }, Bare, nil, nil)

	var serveErr error
	var serveTask *task.Task
	serveTask = task.Spawn(h, func(self *task.Task) (any, error) {
		serveErr = srv.Serve(self)
		h.Stop()
		return nil, serveErr
	})

	task.Spawn(h, func(*task.Task) (any, error) {
		StopServe(serveTask)
		return nil, nil
	})

	require.NoError(t, h.Run())
	assert.NoError(t, serveErr)
}

func TestRemoteKeyUsesIPOnly(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 54321}
	assert.Equal(t, "10.0.0.5", remoteKey(addr))
}

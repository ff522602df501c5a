package gnet

import (
	"crypto/tls"
	"net"
	"time"
)

// connAdapter presents a *Socket as a net.Conn so crypto/tls (which only
// knows how to negotiate over net.Conn) can drive the handshake and
// subsequent record layer through the same reactor-backed trampoline every
// other gnet caller uses, instead of blocking an OS thread.
type connAdapter struct {
	sock *Socket
}

func (c *connAdapter) Read(b []byte) (int, error)  { return c.sock.Recv(b) }
func (c *connAdapter) Write(b []byte) (int, error) { return c.sock.Send(b) }
func (c *connAdapter) Close() error                { return c.sock.Close() }

func (c *connAdapter) LocalAddr() net.Addr  { return nil }
func (c *connAdapter) RemoteAddr() net.Addr { return nil }

func (c *connAdapter) SetDeadline(t time.Time) error {
	c.sock.SetTimeout(time.Until(t))
	return nil
}

func (c *connAdapter) SetReadDeadline(t time.Time) error  { return c.SetDeadline(t) }
func (c *connAdapter) SetWriteDeadline(t time.Time) error { return c.SetDeadline(t) }

// WrapTLS adapts sock to crypto/tls, returning a client-side *tls.Conn
// (use WrapTLSServer for the accept side) whose Read/Write trampoline
// through sock's hub rather than blocking an OS thread. The handshake itself is not
// performed here; callers invoke (*tls.Conn).Handshake or rely on the
// first Read/Write to trigger it, same as any other net.Conn.
func WrapTLS(sock *Socket, cfg *tls.Config) *tls.Conn {
	return tls.Client(&connAdapter{sock: sock}, cfg)
}

// WrapTLSServer is WrapTLS for the accept side.
func WrapTLSServer(sock *Socket, cfg *tls.Config) *tls.Conn {
	return tls.Server(&connAdapter{sock: sock}, cfg)
}

// File: internal/transport/shim.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"
)

// fdConn adapts a Socket to net.Conn so crypto/tls can drive it. It borrows
// the descriptor: Close is a no-op and the owning TLSSocket releases the
// Socket itself. Readiness waits that elapse surface as api.ErrWouldBlock,
// which crypto/tls treats as temporary.
type fdConn struct {
	s             *Socket
	ctx           context.Context
	timeout       time.Duration
	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*fdConn)(nil)

func newFDConn(s *Socket) *fdConn {
	return &fdConn{s: s, ctx: context.Background(), timeout: s.opts.timeout}
}

// arm binds the next record operations to ctx and a fresh deadline.
func (c *fdConn) arm(ctx context.Context, timeout time.Duration) {
	c.ctx = ctx
	c.timeout = timeout
	d := time.Now().Add(timeout)
	c.readDeadline, c.writeDeadline = d, d
}

func (c *fdConn) Read(p []byte) (int, error) {
	if err := c.s.usable(); err != nil {
		return 0, err
	}
	n, err := c.s.readOnce(c.ctx, p, c.deadline(c.readDeadline))
	c.s.opts.metrics.received(c.s.kind, n)
	return n, err
}

func (c *fdConn) Write(p []byte) (int, error) {
	if err := c.s.usable(); err != nil {
		return 0, err
	}
	n, err := c.s.writeAll(c.ctx, p, c.deadline(c.writeDeadline))
	c.s.opts.metrics.sent(c.s.kind, n)
	return n, err
}

// deadline maps the zero time, which net.Conn defines as no deadline, to
// the armed operation budget.
func (c *fdConn) deadline(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().Add(c.timeout)
	}
	return t
}

func (c *fdConn) Close() error { return nil }

func (c *fdConn) LocalAddr() net.Addr { return sockName(c.s.fd) }

func (c *fdConn) RemoteAddr() net.Addr {
	addr, err := net.ResolveTCPAddr("tcp", c.s.remote)
	if err != nil {
		return nil
	}
	return addr
}

func (c *fdConn) SetDeadline(t time.Time) error {
	c.readDeadline, c.writeDeadline = t, t
	return nil
}

func (c *fdConn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

func (c *fdConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline = t
	return nil
}

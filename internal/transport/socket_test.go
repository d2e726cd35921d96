//go:build linux

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-probe/api"
)

// peer starts a loopback listener and runs handle for every accepted conn.
func peer(t *testing.T, handle func(net.Conn)) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c)
			}()
		}
	}()
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return uint16(p)
}

func echo(c net.Conn) { _, _ = io.Copy(c, c) }

func hold(c net.Conn) { _, _ = io.Copy(io.Discard, c) }

func newTestSocket(t *testing.T, opts ...Option) (*Socket, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	s, err := NewSocket(append([]Option{WithMetrics(m)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, m
}

func TestConnectCloseIdempotent(t *testing.T) {
	port := peer(t, hold)
	s, m := newTestSocket(t)

	require.NoError(t, s.Connect(context.Background(), "127.0.0.1", port))
	assert.NotEqual(t, api.InvalidFD, s.RawFD())
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(int(port)), s.Remote())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connects.WithLabelValues(kindPlain, "success")))

	require.NoError(t, s.Close())
	assert.Equal(t, api.InvalidFD, s.RawFD())
	require.NoError(t, s.Close())
	assert.False(t, s.IsError())

	assert.ErrorIs(t, s.Connect(context.Background(), "127.0.0.1", port), api.ErrTransportClosed)
	_, err := s.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, api.ErrTransportClosed)
}

func TestConnectRefusedClosesSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())
	port, _ := strconv.Atoi(portStr)

	s, m := newTestSocket(t)
	err = s.Connect(context.Background(), "127.0.0.1", uint16(port))
	require.ErrorIs(t, err, api.ErrConnect)
	assert.ErrorIs(t, err, unix.ECONNREFUSED)
	assert.True(t, s.IsError())
	assert.Equal(t, api.InvalidFD, s.RawFD())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connects.WithLabelValues(kindPlain, "failure")))
}

func TestConnectResolveFailure(t *testing.T) {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("no dns in tests")
		},
	}
	s, _ := newTestSocket(t, WithResolver(r))
	err := s.Connect(context.Background(), "probe.invalid", 80)
	assert.ErrorIs(t, err, api.ErrResolve)
	assert.True(t, s.IsError())
}

func TestSendRecvEcho(t *testing.T) {
	port := peer(t, echo)
	s, m := newTestSocket(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	msg := []byte("hello, transport")
	n, err := s.Send(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)

	buf := make([]byte, len(msg))
	n, err = s.Recv(ctx, buf, false)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
	assert.Equal(t, float64(len(msg)), testutil.ToFloat64(m.bytes.WithLabelValues(kindPlain, "sent")))
	assert.Equal(t, float64(len(msg)), testutil.ToFloat64(m.bytes.WithLabelValues(kindPlain, "received")))
}

func TestSendLargePayloadCompletes(t *testing.T) {
	port := peer(t, func(c net.Conn) {
		buf := make([]byte, 4096)
		for {
			time.Sleep(time.Millisecond)
			if _, err := c.Read(buf); err != nil {
				return
			}
		}
	})
	s, _ := newTestSocket(t, WithTimeout(30*time.Second))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	payload := bytes.Repeat([]byte{0xab}, 4<<20)
	n, err := s.Send(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
}

func cpuTime(t *testing.T) time.Duration {
	t.Helper()
	var ru unix.Rusage
	require.NoError(t, unix.Getrusage(unix.RUSAGE_SELF, &ru))
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}

func TestSendToHalfClosedPeerBlocksWithoutSpinning(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	port := peer(t, func(c net.Conn) {
		_ = c.(*net.TCPConn).CloseWrite()
		<-release
	})
	s, _ := newTestSocket(t, WithTimeout(1500*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	payload := make([]byte, 64<<20)
	wallStart, cpuStart := time.Now(), cpuTime(t)
	n, err := s.Send(ctx, payload)
	wall, cpu := time.Since(wallStart), cpuTime(t)-cpuStart

	assert.ErrorIs(t, err, api.ErrOperationTimeout)
	assert.Less(t, n, len(payload))
	assert.GreaterOrEqual(t, wall, time.Second)
	assert.Less(t, cpu, wall/2, "cpu=%v wall=%v", cpu, wall)
}

func TestSocketCreatedNonBlockingCloseOnExec(t *testing.T) {
	port := peer(t, hold)
	s, _ := newTestSocket(t)
	require.NoError(t, s.Connect(context.Background(), "127.0.0.1", port))

	fl, err := unix.FcntlInt(uintptr(s.RawFD()), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, fl&unix.O_NONBLOCK)
	fd, err := unix.FcntlInt(uintptr(s.RawFD()), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.NotZero(t, fd&unix.FD_CLOEXEC)
}

func TestShimZeroDeadlineUsesArmedTimeout(t *testing.T) {
	port := peer(t, func(c net.Conn) {
		buf := make([]byte, 4)
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
		_, _ = c.Write(buf)
		hold(c)
	})
	s, _ := newTestSocket(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	c := newFDConn(s)
	c.arm(ctx, time.Second)
	require.NoError(t, c.SetDeadline(time.Time{}))
	_, err := c.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestRecvNoWaitReturnsWithoutData(t *testing.T) {
	port := peer(t, hold)
	s, _ := newTestSocket(t, WithRetryWait(50*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	start := time.Now()
	n, err := s.Recv(ctx, make([]byte, 16), true)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, api.ErrWouldBlock)
	assert.Less(t, time.Since(start), time.Second)
	assert.NotEqual(t, api.InvalidFD, s.RawFD(), "noWait miss must not close")
}

func TestRecvNoWaitReturnsFirstChunk(t *testing.T) {
	port := peer(t, func(c net.Conn) {
		_, _ = c.Write([]byte("abc"))
		hold(c)
	})
	s, _ := newTestSocket(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	buf := make([]byte, 64)
	n, err := s.Recv(ctx, buf, true)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

func TestRecvPartialOnIdlePeer(t *testing.T) {
	port := peer(t, func(c net.Conn) {
		_, _ = c.Write([]byte("12345"))
		hold(c)
	})
	s, _ := newTestSocket(t, WithRetryWait(100*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	buf := make([]byte, 10)
	n, err := s.Recv(ctx, buf, false)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(buf[:n]))
	assert.False(t, s.IsError())
}

func TestRecvNothingIsFatal(t *testing.T) {
	port := peer(t, hold)
	s, _ := newTestSocket(t, WithRetryWait(50*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	_, err := s.Recv(ctx, make([]byte, 8), false)
	assert.ErrorIs(t, err, api.ErrWouldBlock)
	assert.True(t, s.IsError())
	assert.Equal(t, api.InvalidFD, s.RawFD())
}

func TestRecvEOF(t *testing.T) {
	port := peer(t, func(net.Conn) {})
	s, _ := newTestSocket(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	_, err := s.Recv(ctx, make([]byte, 8), false)
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, s.IsError())
}

func TestRecvToEndDrainsUntilPeerCloses(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 1000)
	port := peer(t, func(c net.Conn) {
		for i := 0; i < len(body); i += 1000 {
			_, _ = c.Write(body[i : i+1000])
			time.Sleep(2 * time.Millisecond)
		}
	})
	s, _ := newTestSocket(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	buf := make([]byte, api.DefaultBulkBufferSize)
	n, err := s.RecvToEnd(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, body, buf[:n])
}

func TestRecvToEndPartialAtDeadline(t *testing.T) {
	port := peer(t, func(c net.Conn) {
		_, _ = c.Write([]byte("partial"))
		hold(c)
	})
	s, _ := newTestSocket(t, WithTimeout(300*time.Millisecond), WithRetryWait(50*time.Millisecond))
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	buf := make([]byte, 64)
	start := time.Now()
	n, err := s.RecvToEnd(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "partial", string(buf[:n]))
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestRecvChunkedStopsOnPredicate(t *testing.T) {
	header := "HTTP/1.1 200 OK\r\nContent-Length: 1000\r\n\r\n"
	port := peer(t, func(c net.Conn) {
		_, _ = c.Write([]byte(header))
		_, _ = c.Write(bytes.Repeat([]byte("b"), 1000))
		hold(c)
	})
	s, _ := newTestSocket(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	var calls int
	var lastTotal int
	done := func(buf []byte, total int) bool {
		calls++
		assert.Equal(t, total, len(buf))
		assert.Greater(t, total, lastTotal)
		lastTotal = total
		return bytes.Contains(buf, []byte("\r\n\r\n"))
	}
	buf := make([]byte, 4096)
	n, err := s.RecvChunked(ctx, buf, done, 16)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "\r\n\r\n")
	assert.Less(t, n, len(header)+16)
	assert.GreaterOrEqual(t, calls, len(header)/16)
}

func TestCancelInterruptsBlockedRecv(t *testing.T) {
	port := peer(t, hold)
	s, _ := newTestSocket(t, WithTimeout(time.Minute), WithRetryWait(time.Minute))
	ctx, cancel := context.WithCancelCause(context.Background())
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	cause := errors.New("skip")
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel(cause)
	}()
	start := time.Now()
	_, err := s.Recv(ctx, make([]byte, 8), false)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, api.ErrInterrupted)
	assert.ErrorIs(t, err, unix.EINTR)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, api.InvalidFD, s.RawFD())
}

func TestShutdownIdempotent(t *testing.T) {
	port := peer(t, echo)
	s, _ := newTestSocket(t)
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "127.0.0.1", port))

	require.NoError(t, s.Shutdown(api.ShutdownWrite))
	require.NoError(t, s.Shutdown(api.ShutdownWrite))
	_, err := s.Recv(ctx, make([]byte, 4), false)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, s.Shutdown(api.ShutdownHow(42)), api.ErrInvalidArgument)

	require.NoError(t, s.Close())
	require.NoError(t, s.Shutdown(api.ShutdownBoth))
}

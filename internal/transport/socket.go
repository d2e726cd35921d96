// File: internal/transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP client socket gated by a per-socket readiness poller.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/logging"
	"github.com/momentics/hioload-probe/internal/poller"
)

var log = logging.Logger("transport")

// Socket is a plain TCP transport. The descriptor is either api.InvalidFD or
// a live descriptor registered with the socket's own poller.
type Socket struct {
	fd     int
	poll   *poller.Poller
	kind   string
	remote string
	opts   options

	closed bool
	failed bool
}

var _ api.Transport = (*Socket)(nil)

// NewSocket creates an unconnected plain TCP transport.
func NewSocket(opts ...Option) (*Socket, error) {
	return newSocket(kindPlain, buildOptions(api.DefaultPlainTimeout, opts))
}

func newSocket(kind string, o options) (*Socket, error) {
	p, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("socket poller: %w", err)
	}
	return &Socket{fd: api.InvalidFD, poll: p, kind: kind, opts: o}, nil
}

// RawFD returns the OS descriptor, or api.InvalidFD.
func (s *Socket) RawFD() int { return s.fd }

// Remote returns the address Connect settled on.
func (s *Socket) Remote() string { return s.remote }

// Timeout returns the per-operation deadline budget.
func (s *Socket) Timeout() time.Duration { return s.opts.timeout }

// SetTimeout replaces the per-operation deadline budget.
func (s *Socket) SetTimeout(d time.Duration) {
	if d > 0 {
		s.opts.timeout = d
	}
}

// IsError reports whether a fatal error closed the socket.
func (s *Socket) IsError() bool { return s.failed }

// Poller exposes the readiness poller of this socket.
func (s *Socket) Poller() *poller.Poller { return s.poll }

// Connect resolves host and tries every candidate address until one
// completes the TCP handshake. On failure the socket is closed.
func (s *Socket) Connect(ctx context.Context, host string, port uint16) error {
	if s.closed {
		return api.ErrTransportClosed
	}
	if s.fd != api.InvalidFD {
		return fmt.Errorf("connect %s: already connected: %w", host, api.ErrInvalidArgument)
	}
	defer s.watch(ctx)()

	addrs, err := s.opts.resolver.LookupIPAddr(ctx, host)
	if err == nil && len(addrs) == 0 {
		err = errors.New("no addresses")
	}
	if err != nil {
		s.opts.logger.Warn("resolve failed", zap.String("host", host), zap.Error(err))
		s.opts.metrics.connect(s.kind, err)
		s.fail()
		return fmt.Errorf("%w: %s: %v", api.ErrResolve, host, err)
	}

	deadline := time.Now().Add(s.opts.timeout)
	var errs error
	for _, addr := range addrs {
		err := s.dial(ctx, addr.IP, port, deadline)
		if err == nil {
			s.opts.metrics.connect(s.kind, nil)
			s.opts.logger.Debug("connected", zap.String("host", host), zap.String("remote", s.remote), zap.Int("fd", s.fd))
			return nil
		}
		s.opts.logger.Debug("connect candidate failed", zap.String("host", host), zap.Stringer("ip", addr.IP), zap.Error(err))
		errs = multierr.Append(errs, err)
		if errors.Is(err, api.ErrInterrupted) || !time.Now().Before(deadline) {
			break
		}
	}
	s.opts.logger.Warn("connect failed", zap.String("host", host), zap.Uint16("port", port), zap.Error(errs))
	s.opts.metrics.connect(s.kind, errs)
	s.fail()
	return fmt.Errorf("%w: %s:%d: %w", api.ErrConnect, host, port, errs)
}

func (s *Socket) dial(ctx context.Context, ip net.IP, port uint16, deadline time.Time) error {
	remote := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	family, sa := sockaddr(ip, port)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("socket %s: %w", remote, err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if err := s.poll.Register(fd); err != nil {
		_ = unix.Close(fd)
		return err
	}
	s.fd = fd

	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR) {
		_ = s.release()
		return fmt.Errorf("connect %s: %w", remote, err)
	}
	if err != nil {
		if err := s.awaitConnected(ctx, deadline); err != nil {
			_ = s.release()
			return fmt.Errorf("connect %s: %w", remote, err)
		}
	}
	s.remote = remote
	return nil
}

func (s *Socket) awaitConnected(ctx context.Context, deadline time.Time) error {
	for {
		if err := s.await(ctx, "connect", api.StateWritable, deadline); err != nil {
			return err
		}
		soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		switch unix.Errno(soerr) {
		case 0:
			return nil
		case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
			continue
		default:
			return unix.Errno(soerr)
		}
	}
}

func sockaddr(ip net.IP, port uint16) (int, unix.Sockaddr) {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: int(port)}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: int(port)}
	copy(sa.Addr[:], ip.To16())
	return unix.AF_INET6, sa
}

// Send writes all of p. Any failure other than would-block or a plain
// interrupted syscall closes the socket.
func (s *Socket) Send(ctx context.Context, p []byte) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	defer s.watch(ctx)()
	n, err := s.writeAll(ctx, p, time.Now().Add(s.opts.timeout))
	s.opts.metrics.sent(s.kind, n)
	if err != nil {
		return n, s.fatal("send", err)
	}
	return n, nil
}

// Recv reads until p is full, the peer closes, or a readiness wait elapses.
// Data already read when a wait elapses is returned without error. With
// noWait the call returns after the first successful read, and a wait that
// elapses with nothing read yields api.ErrWouldBlock without closing.
func (s *Socket) Recv(ctx context.Context, p []byte, noWait bool) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	defer s.watch(ctx)()
	deadline := time.Now().Add(s.opts.timeout)
	total := 0
	defer func() { s.opts.metrics.received(s.kind, total) }()
	for total < len(p) {
		n, err := s.readOnce(ctx, p[total:], deadline)
		total += n
		switch {
		case err == nil:
			if noWait {
				return total, nil
			}
		case errors.Is(err, io.EOF):
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		case isTimeout(err):
			if total > 0 {
				return total, nil
			}
			if noWait && errors.Is(err, api.ErrWouldBlock) {
				return 0, api.ErrWouldBlock
			}
			return 0, s.fatal("recv", err)
		default:
			return total, s.fatal("recv", err)
		}
	}
	return total, nil
}

// RecvToEnd drains until EOF, a full buffer, or the operation deadline.
// Elapsed readiness waits are retried until the deadline.
func (s *Socket) RecvToEnd(ctx context.Context, p []byte) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	defer s.watch(ctx)()
	deadline := time.Now().Add(s.opts.timeout)
	total := 0
	defer func() { s.opts.metrics.received(s.kind, total) }()
	for total < len(p) {
		n, err := s.readOnce(ctx, p[total:], deadline)
		total += n
		switch {
		case err == nil, errors.Is(err, api.ErrWouldBlock):
		case errors.Is(err, io.EOF):
			return total, nil
		case errors.Is(err, api.ErrOperationTimeout) && total > 0:
			return total, nil
		default:
			return total, s.fatal("recv", err)
		}
	}
	return total, nil
}

// RecvChunked reads at most chunkSize bytes per step into p and asks done
// after every step whether to stop.
func (s *Socket) RecvChunked(ctx context.Context, p []byte, done api.CompletionFunc, chunkSize int) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if chunkSize <= 0 {
		chunkSize = api.DefaultChunkSize
	}
	defer s.watch(ctx)()
	deadline := time.Now().Add(s.opts.timeout)
	total := 0
	defer func() { s.opts.metrics.received(s.kind, total) }()
	for total < len(p) {
		end := min(total+chunkSize, len(p))
		n, err := s.readOnce(ctx, p[total:end], deadline)
		total += n
		switch {
		case err == nil:
			if done != nil && done(p[:total], total) {
				return total, nil
			}
		case errors.Is(err, io.EOF):
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		case isTimeout(err) && total > 0:
			return total, nil
		default:
			return total, s.fatal("recv", err)
		}
	}
	return total, nil
}

// Shutdown disables further sends, receives, or both. It is a no-op on a
// closed socket or one the peer already disconnected.
func (s *Socket) Shutdown(how api.ShutdownHow) error {
	if s.fd == api.InvalidFD {
		return nil
	}
	var mode int
	switch how {
	case api.ShutdownRead:
		mode = unix.SHUT_RD
	case api.ShutdownWrite:
		mode = unix.SHUT_WR
	case api.ShutdownBoth:
		mode = unix.SHUT_RDWR
	default:
		return fmt.Errorf("shutdown mode %d: %w", how, api.ErrInvalidArgument)
	}
	if err := unix.Shutdown(s.fd, mode); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close unregisters and releases the descriptor together with the poller.
// Repeated calls are no-ops.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.release()
	return multierr.Append(err, s.poll.Close())
}

// release drops the current descriptor but keeps the poller for another
// connect candidate.
func (s *Socket) release() error {
	if s.fd == api.InvalidFD {
		return nil
	}
	fd := s.fd
	s.fd = api.InvalidFD
	err := s.poll.Unregister()
	if cerr := unix.Close(fd); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close fd %d: %w", fd, cerr))
	}
	return err
}

func (s *Socket) fail() {
	s.failed = true
	if err := s.Close(); err != nil {
		s.opts.logger.Debug("close after failure", zap.Error(err))
	}
}

// fatal closes the socket and wraps err for the caller.
func (s *Socket) fatal(op string, err error) error {
	s.opts.logger.Warn("transport failure", zap.String("op", op), zap.String("kind", s.kind),
		zap.String("remote", s.remote), zap.Error(err))
	s.opts.metrics.failure(s.kind, op)
	s.fail()
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Socket) usable() error {
	if s.closed || s.fd == api.InvalidFD {
		return api.ErrTransportClosed
	}
	return nil
}

// watch wakes the poller once ctx is done. The returned func detaches it.
func (s *Socket) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, s.poll.Interrupt)
}

func interrupted(ctx context.Context, op string) error {
	if ctx.Err() == nil {
		return nil
	}
	return &api.InterruptedError{Op: op, Errno: unix.EINTR, Cause: context.Cause(ctx)}
}

// await blocks for one readiness window, bounded by the retry wait and the
// deadline. It returns nil when the caller should retry its syscall,
// api.ErrWouldBlock when the window elapsed, and api.ErrOperationTimeout
// once the deadline has passed.
func (s *Socket) await(ctx context.Context, op string, want api.SocketState, deadline time.Time) error {
	if err := interrupted(ctx, op); err != nil {
		return err
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return api.ErrOperationTimeout
	}
	st, err := s.poll.Wait(want, min(s.opts.retryWait, remaining))
	if err != nil {
		return err
	}
	if st.Has(api.StateInterrupted) {
		if err := interrupted(ctx, op); err != nil {
			return err
		}
		// stale wakeup from an earlier operation
		return nil
	}
	// the poller arms peer half-close for read waits only, so StateClosed
	// on a write wait is a full hangup and the retried write reports EPIPE
	if st&(want|api.StateError|api.StateClosed) != 0 {
		return nil
	}
	if !time.Now().Before(deadline) {
		return api.ErrOperationTimeout
	}
	return api.ErrWouldBlock
}

// readOnce returns after one successful read, EOF, or a failed wait.
// It never closes the socket.
func (s *Socket) readOnce(ctx context.Context, p []byte, deadline time.Time) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			if ierr := interrupted(ctx, "recv"); ierr != nil {
				return 0, ierr
			}
		case errors.Is(err, unix.EAGAIN):
			if werr := s.await(ctx, "recv", api.StateReadable, deadline); werr != nil {
				return 0, werr
			}
		default:
			return 0, err
		}
	}
}

// writeAll loops until p is written or a non-retryable error occurs.
// It never closes the socket.
func (s *Socket) writeAll(ctx context.Context, p []byte, deadline time.Time) (int, error) {
	sent := 0
	for sent < len(p) {
		n, err := unix.Write(s.fd, p[sent:])
		if n > 0 {
			sent += n
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
			if ierr := interrupted(ctx, "send"); ierr != nil {
				return sent, ierr
			}
		case errors.Is(err, unix.EAGAIN):
			if werr := s.await(ctx, "send", api.StateWritable, deadline); werr != nil {
				return sent, werr
			}
		default:
			return sent, err
		}
	}
	return sent, nil
}

func isTimeout(err error) bool {
	return errors.Is(err, api.ErrWouldBlock) || errors.Is(err, api.ErrOperationTimeout)
}

//go:build linux

// File: internal/poller/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) readiness poller with eventfd wakeup.

package poller

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/logging"
)

var log = logging.Logger("poller")

var wakeValue = func() []byte {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, 1)
	return b
}()

// Poller is a single-socket epoll wrapper. Wait, Register and Unregister
// belong to the owning goroutine; Interrupt may be called from anywhere.
type Poller struct {
	epfd   int
	wakefd int
	fd     int
	events [2]unix.EpollEvent

	mu     sync.Mutex // guards wakefd against Interrupt racing Close
	closed bool
}

// New creates the epoll instance and registers the wakeup eventfd.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return &Poller{epfd: epfd, wakefd: wakefd, fd: api.InvalidFD}, nil
}

// Register attaches the socket descriptor. Only one socket is watched at a time.
func (p *Poller) Register(fd int) error {
	if p.fd != api.InvalidFD {
		return fmt.Errorf("poller already watches fd %d: %w", p.fd, api.ErrInvalidArgument)
	}
	// interest is armed per Wait
	ev := unix.EpollEvent{Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	p.fd = fd
	return nil
}

// Unregister detaches the watched socket, if any.
func (p *Poller) Unregister() error {
	if p.fd == api.InvalidFD {
		return nil
	}
	fd := p.fd
	p.fd = api.InvalidFD
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// FD returns the watched socket descriptor.
func (p *Poller) FD() int { return p.fd }

// Wait re-arms the registration for the wanted events and blocks up to
// timeout. A zero result means the wait elapsed with nothing ready.
func (p *Poller) Wait(want api.SocketState, timeout time.Duration) (api.SocketState, error) {
	if p.fd == api.InvalidFD {
		return api.StateNone, api.ErrTransportClosed
	}
	// EPOLLRDHUP only matters to readers; a half-closed peer stays
	// writable-blocked and must not wake a writer
	var mask uint32
	if want&api.StateReadable != 0 {
		mask |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if want&api.StateWritable != 0 {
		mask |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: mask, Fd: int32(p.fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, p.fd, &ev); err != nil {
		return api.StateError, fmt.Errorf("epoll ctl mod: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		ms := toMillis(time.Until(deadline))
		n, err := unix.EpollWait(p.epfd, p.events[:], ms)
		if errors.Is(err, unix.EINTR) {
			// runtime preemption signals land here; the budget keeps shrinking
			if time.Now().Before(deadline) {
				continue
			}
			return api.StateNone, nil
		}
		if err != nil {
			return api.StateError, fmt.Errorf("epoll wait: %w", err)
		}
		return p.classify(p.events[:n]), nil
	}
}

func (p *Poller) classify(events []unix.EpollEvent) api.SocketState {
	var st api.SocketState
	for _, ev := range events {
		if int(ev.Fd) == p.wakefd {
			p.drainWake()
			st |= api.StateInterrupted
			continue
		}
		if ev.Events&unix.EPOLLERR != 0 {
			st |= api.StateError
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			st |= api.StateClosed
		}
		if ev.Events&unix.EPOLLIN != 0 {
			st |= api.StateReadable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			st |= api.StateWritable
		}
	}
	return st
}

// CheckSocketState waits for the wanted events and logs how the wait ended.
// Timeouts and errors both surface as a state without the wanted bits.
func (p *Poller) CheckSocketState(want api.SocketState, timeout time.Duration) api.SocketState {
	st, err := p.Wait(want, timeout)
	switch {
	case err != nil:
		log.Warn("readiness wait failed", zap.Int("fd", p.fd), zap.Error(err))
	case st == api.StateNone:
		log.Debug("readiness wait timed out", zap.Int("fd", p.fd), zap.Duration("timeout", timeout))
	case st.Has(api.StateError):
		log.Debug("socket reported error", zap.Int("fd", p.fd))
	case st.Has(api.StateInterrupted):
		log.Debug("readiness wait interrupted", zap.Int("fd", p.fd))
	}
	return st
}

// IsReadyForRecv reports readability. A peer hangup counts as readable so
// that the next read observes EOF.
func (p *Poller) IsReadyForRecv(timeout time.Duration) bool {
	st := p.CheckSocketState(api.StateReadable, timeout)
	return st&(api.StateReadable|api.StateClosed) != 0 && !st.Has(api.StateError)
}

// IsReadyForSend reports writability.
func (p *Poller) IsReadyForSend(timeout time.Duration) bool {
	st := p.CheckSocketState(api.StateWritable, timeout)
	return st.Has(api.StateWritable) && !st.Has(api.StateError)
}

// Interrupt wakes a pending or the next Wait. Safe for concurrent use and
// a no-op after Close.
func (p *Poller) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, err := unix.Write(p.wakefd, wakeValue); err != nil && !errors.Is(err, unix.EAGAIN) {
		log.Warn("wakeup write failed", zap.Error(err))
	}
}

func (p *Poller) drainWake() {
	var buf [8]byte
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		_, _ = unix.Read(p.wakefd, buf[:])
	}
}

// Close releases the epoll instance and the wakeup descriptor. It does not
// close the watched socket. Repeated calls are no-ops.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.fd = api.InvalidFD
	return multierr.Combine(
		wrapClose("eventfd", unix.Close(p.wakefd)),
		wrapClose("epoll", unix.Close(p.epfd)),
	)
}

func wrapClose(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close %s: %w", what, err)
}

func toMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := int(d / time.Millisecond)
	if ms == 0 {
		ms = 1
	}
	return ms
}

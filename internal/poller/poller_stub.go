//go:build !linux

// File: internal/poller/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub poller for platforms without epoll.

package poller

import (
	"time"

	"github.com/momentics/hioload-probe/api"
)

// Poller is unavailable on this platform.
type Poller struct{}

// New always fails with api.ErrNotSupported.
func New() (*Poller, error) { return nil, api.ErrNotSupported }

func (p *Poller) Register(int) error { return api.ErrNotSupported }
func (p *Poller) Unregister() error  { return nil }
func (p *Poller) FD() int            { return api.InvalidFD }
func (p *Poller) Wait(api.SocketState, time.Duration) (api.SocketState, error) {
	return api.StateError, api.ErrNotSupported
}
func (p *Poller) CheckSocketState(api.SocketState, time.Duration) api.SocketState {
	return api.StateError
}
func (p *Poller) IsReadyForRecv(time.Duration) bool { return false }
func (p *Poller) IsReadyForSend(time.Duration) bool { return false }
func (p *Poller) Interrupt()                        {}
func (p *Poller) Close() error                      { return nil }

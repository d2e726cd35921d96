// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for api.Transport.

package fake

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/momentics/hioload-probe/api"
)

// fakeFD is reported by RawFD while the fake is connected.
const fakeFD = 1 << 20

// Transport is a scripted api.Transport. Received data is served from
// queued chunks; sent data is recorded.
type Transport struct {
	mu         sync.Mutex
	sendBuffer [][]byte
	recvBuffer [][]byte
	connected  bool
	closed     bool
	failed     bool
	host       string
	port       uint16
	timeout    time.Duration
	connectErr error
	sendError  error
	recvError  error
	closeError error
	gate       chan struct{}
}

var _ api.Transport = (*Transport)(nil)

// NewTransport creates a new fake transport with default settings.
func NewTransport() *Transport {
	return &Transport{timeout: api.DefaultPlainTimeout}
}

// Connect implements api.Transport.Connect. A held transport blocks until
// Release or ctx cancellation.
func (t *Transport) Connect(ctx context.Context, host string, port uint16) error {
	t.mu.Lock()
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			t.fail()
			return fmt.Errorf("connect %s: %w: %w", host, api.ErrInterrupted, context.Cause(ctx))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return api.ErrTransportClosed
	}
	if t.connectErr != nil {
		t.closed, t.failed = true, true
		return t.connectErr
	}
	t.host, t.port, t.connected = host, port, true
	return nil
}

// Send implements api.Transport.Send.
func (t *Transport) Send(_ context.Context, p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return 0, err
	}
	if t.sendError != nil {
		t.closed, t.failed = true, true
		return 0, t.sendError
	}
	t.sendBuffer = append(t.sendBuffer, append([]byte(nil), p...))
	return len(p), nil
}

// Recv implements api.Transport.Recv.
func (t *Transport) Recv(_ context.Context, p []byte, noWait bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return 0, err
	}
	if t.recvError != nil {
		t.closed, t.failed = true, true
		return 0, t.recvError
	}
	if len(t.recvBuffer) == 0 {
		if noWait {
			return 0, api.ErrWouldBlock
		}
		return 0, io.EOF
	}
	total := 0
	for total < len(p) && len(t.recvBuffer) > 0 {
		total += t.popLocked(p[total:], len(p)-total)
		if noWait {
			break
		}
	}
	return total, nil
}

// RecvToEnd implements api.Transport.RecvToEnd.
func (t *Transport) RecvToEnd(_ context.Context, p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return 0, err
	}
	if t.recvError != nil {
		t.closed, t.failed = true, true
		return 0, t.recvError
	}
	total := 0
	for total < len(p) && len(t.recvBuffer) > 0 {
		total += t.popLocked(p[total:], len(p)-total)
	}
	return total, nil
}

// RecvChunked implements api.Transport.RecvChunked.
func (t *Transport) RecvChunked(_ context.Context, p []byte, done api.CompletionFunc, chunkSize int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usableLocked(); err != nil {
		return 0, err
	}
	if chunkSize <= 0 {
		chunkSize = api.DefaultChunkSize
	}
	total := 0
	for total < len(p) && len(t.recvBuffer) > 0 {
		total += t.popLocked(p[total:], chunkSize)
		if done != nil && done(p[:total], total) {
			break
		}
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// popLocked moves at most limit bytes of the head chunk into p.
func (t *Transport) popLocked(p []byte, limit int) int {
	head := t.recvBuffer[0]
	n := copy(p[:min(limit, len(p))], head)
	if n == len(head) {
		t.recvBuffer = t.recvBuffer[1:]
	} else {
		t.recvBuffer[0] = head[n:]
	}
	return n
}

func (t *Transport) usableLocked() error {
	if t.closed || !t.connected {
		return api.ErrTransportClosed
	}
	return nil
}

func (t *Transport) fail() {
	t.mu.Lock()
	t.closed, t.failed = true, true
	t.mu.Unlock()
}

// Shutdown implements api.Transport.Shutdown.
func (t *Transport) Shutdown(how api.ShutdownHow) error {
	if how < api.ShutdownRead || how > api.ShutdownBoth {
		return api.ErrInvalidArgument
	}
	return nil
}

// Close implements api.Transport.Close.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closeError != nil {
		return t.closeError
	}
	t.closed = true
	t.connected = false
	return nil
}

// IsError implements api.Transport.IsError.
func (t *Transport) IsError() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// RawFD implements api.Transport.RawFD.
func (t *Transport) RawFD() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected && !t.closed {
		return fakeFD
	}
	return api.InvalidFD
}

// Timeout implements api.Transport.Timeout.
func (t *Transport) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// SetTimeout implements api.Transport.SetTimeout.
func (t *Transport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// Hold makes Connect block until Release.
func (t *Transport) Hold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = make(chan struct{})
}

// Release unblocks a held Connect.
func (t *Transport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gate != nil {
		close(t.gate)
		t.gate = nil
	}
}

// SetConnectError configures the transport to fail Connect.
func (t *Transport) SetConnectError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// SetSendError configures the transport to return an error on Send.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// SetRecvError configures the transport to return an error on Recv.
func (t *Transport) SetRecvError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvError = err
}

// SetCloseError configures the transport to return an error on Close.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// AddRecvData queues data for the receive calls.
func (t *Transport) AddRecvData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvBuffer = append(t.recvBuffer, append([]byte(nil), data...))
}

// GetSentData returns all data that has been sent via Send.
func (t *Transport) GetSentData() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	sent := make([][]byte, len(t.sendBuffer))
	copy(sent, t.sendBuffer)
	return sent
}

// Remote returns the host and port of the last successful Connect.
func (t *Transport) Remote() (string, uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.host, t.port
}

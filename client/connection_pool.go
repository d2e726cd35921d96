// File: client/connection_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/logging"
	"github.com/momentics/hioload-probe/pool"
)

var log = logging.Logger("client")

// Handle identifies one Add call. Zero is never issued.
type Handle uint64

// exchange is the per-connection state block. mu is held by the worker for
// the whole exchange, so a successful TryLock means the worker is done.
type exchange struct {
	mu   sync.Mutex
	host string
	port uint16
	kind api.ProtocolKind
	ok   bool
	buf  []byte // pooled, nil once claimed
	n    int
	err  error
}

// ConnectionPool spawns one worker per Add.
type ConnectionPool struct {
	newTransport TransportFactory
	bufs         api.BytePool
	logger       *zap.Logger

	mu    sync.Mutex
	conns map[Handle]*exchange
	next  Handle

	group errgroup.Group

	doneMu sync.Mutex
	done   *queue.Queue

	closed atomic.Bool
}

// PoolOption configures a ConnectionPool.
type PoolOption func(*ConnectionPool)

// WithTransportFactory replaces NewTransport.
func WithTransportFactory(f TransportFactory) PoolOption {
	return func(p *ConnectionPool) { p.newTransport = f }
}

// WithBufferPool sets the pool receive buffers come from.
func WithBufferPool(bp api.BytePool) PoolOption {
	return func(p *ConnectionPool) { p.bufs = bp }
}

// WithMaxWorkers bounds the number of concurrent exchanges; Add blocks
// while the bound is reached. n <= 0 means unbounded.
func WithMaxWorkers(n int) PoolOption {
	return func(p *ConnectionPool) {
		if n > 0 {
			p.group.SetLimit(n)
		}
	}
}

// WithPoolLogger replaces the package logger.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *ConnectionPool) { p.logger = l }
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool(opts ...PoolOption) *ConnectionPool {
	p := &ConnectionPool{
		newTransport: func(kind api.ProtocolKind) (api.Transport, error) { return NewTransport(kind) },
		bufs:         pool.Bulk(),
		logger:       log,
		conns:        make(map[Handle]*exchange),
		done:         queue.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add starts connect, send and RecvToEnd against host:port in a new worker
// and returns its handle at once.
func (p *ConnectionPool) Add(ctx context.Context, host string, req []byte, port uint16, kind api.ProtocolKind) (Handle, error) {
	if p.closed.Load() {
		return 0, fmt.Errorf("add %s: %w", host, api.ErrTransportClosed)
	}
	x := &exchange{host: host, port: port, kind: kind}
	x.mu.Lock()

	p.mu.Lock()
	p.next++
	h := p.next
	p.conns[h] = x
	p.mu.Unlock()

	payload := append([]byte(nil), req...)
	p.group.Go(func() error {
		p.exchange(ctx, x, payload)
		x.mu.Unlock()
		p.doneMu.Lock()
		p.done.Add(h)
		p.doneMu.Unlock()
		return nil
	})
	return h, nil
}

func (p *ConnectionPool) exchange(ctx context.Context, x *exchange, req []byte) {
	t, err := p.newTransport(x.kind)
	if err != nil {
		x.err = err
		return
	}
	defer t.Close()

	if err := t.Connect(ctx, x.host, x.port); err != nil {
		x.err = err
		p.logger.Debug("exchange connect failed", zap.String("host", x.host), zap.Error(err))
		return
	}
	if _, err := t.Send(ctx, req); err != nil {
		x.err = err
		return
	}
	buf := p.bufs.GetBuffer()
	n, err := t.RecvToEnd(ctx, buf)
	if err != nil {
		p.bufs.PutBuffer(buf)
		x.err = err
		return
	}
	x.buf, x.n, x.ok = buf, n, true
	p.logger.Debug("exchange done", zap.String("host", x.host), zap.Stringer("kind", x.kind), zap.Int("bytes", n))
}

// GetData hands over the received bytes of h without blocking. It returns
// false while the worker is running, after a failed exchange, and once the
// data was already claimed. The caller may return the slice to the pool's
// BytePool when done.
func (p *ConnectionPool) GetData(h Handle) ([]byte, bool) {
	x := p.lookup(h)
	if x == nil || !x.mu.TryLock() {
		return nil, false
	}
	defer x.mu.Unlock()
	if !x.ok || x.buf == nil {
		return nil, false
	}
	data := x.buf[:x.n]
	x.buf = nil
	return data, true
}

// Err returns the failure of a finished exchange, or nil when it is
// still running or succeeded.
func (p *ConnectionPool) Err(h Handle) error {
	x := p.lookup(h)
	if x == nil {
		return fmt.Errorf("exchange %d: %w", h, api.ErrNotFound)
	}
	if !x.mu.TryLock() {
		return nil
	}
	defer x.mu.Unlock()
	return x.err
}

func (p *ConnectionPool) lookup(h Handle) *exchange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[h]
}

// Completed drains the handles of exchanges that finished since the last
// call, in completion order.
func (p *ConnectionPool) Completed() []Handle {
	p.doneMu.Lock()
	defer p.doneMu.Unlock()
	out := make([]Handle, 0, p.done.Length())
	for p.done.Length() > 0 {
		out = append(out, p.done.Remove().(Handle))
	}
	return out
}

// WaitAll blocks until every worker started so far has returned.
func (p *ConnectionPool) WaitAll() {
	_ = p.group.Wait()
}

// Close waits for the workers and returns unclaimed buffers to the pool.
// Repeated calls are no-ops.
func (p *ConnectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.WaitAll()
	p.mu.Lock()
	defer p.mu.Unlock()
	for h, x := range p.conns {
		if x.buf != nil {
			p.bufs.PutBuffer(x.buf)
			x.buf = nil
		}
		delete(p.conns, h)
	}
	return nil
}

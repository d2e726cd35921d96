// File: internal/transport/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/api"
)

type options struct {
	timeout   time.Duration
	retryWait time.Duration
	metrics   *Metrics
	logger    *zap.Logger
	resolver  *net.Resolver
	pool      *ContextPool
}

// Option customizes a transport at construction.
type Option func(*options)

// WithTimeout sets the per-operation deadline budget.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetryWait bounds a single readiness wait.
func WithRetryWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryWait = d
		}
	}
}

// WithMetrics routes transport counters to m instead of the default set.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger replaces the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithResolver replaces net.DefaultResolver for Connect.
func WithResolver(r *net.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithContextPool makes a TLSSocket borrow its configuration from p instead
// of the process-wide pool.
func WithContextPool(p *ContextPool) Option {
	return func(o *options) { o.pool = p }
}

func buildOptions(timeout time.Duration, opts []Option) options {
	o := options{
		timeout:   timeout,
		retryWait: api.DefaultRetryWait,
		logger:    log,
		resolver:  net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = DefaultMetrics()
	}
	return o
}

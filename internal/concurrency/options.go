// File: internal/concurrency/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/api"
)

type config struct {
	clock   clock.Clock
	tick    time.Duration
	grace   time.Duration
	logger  *zap.Logger
	metrics *Metrics
	handles func() uint64
	base    context.Context
}

// Option configures a TaskManager.
type Option func(*config) error

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *config) error {
		cfg.clock = c
		return nil
	}
}

// WithTick sets the supervisor scan interval.
func WithTick(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return errors.New("tick must be positive")
		}
		cfg.tick = d
		return nil
	}
}

// WithGracePeriod sets how long an unclaimed task outlives its deadline.
func WithGracePeriod(d time.Duration) Option {
	return func(cfg *config) error {
		if d < 0 {
			return errors.New("grace period must be non-negative")
		}
		cfg.grace = d
		return nil
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *config) error {
		cfg.logger = l
		return nil
	}
}

// WithMetrics routes task counters to m.
func WithMetrics(m *Metrics) Option {
	return func(cfg *config) error {
		cfg.metrics = m
		return nil
	}
}

// WithHandleSource replaces the random handle generator.
func WithHandleSource(next func() uint64) Option {
	return func(cfg *config) error {
		cfg.handles = next
		return nil
	}
}

// WithBaseContext parents every task context on ctx.
func WithBaseContext(ctx context.Context) Option {
	return func(cfg *config) error {
		cfg.base = ctx
		return nil
	}
}

func defaultConfig() config {
	return config{
		clock:   clock.New(),
		tick:    api.DefaultSupervisorTick,
		grace:   api.DefaultGracePeriod,
		logger:  log,
		handles: rand.Uint64,
		base:    context.Background(),
	}
}

// File: internal/concurrency/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TaskManager runs workers in their own goroutines and supervises their
// deadlines from a single ticker loop.

package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/logging"
)

var log = logging.Logger("tasks")

type entry struct {
	tc     *TaskContext
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// TaskManager keeps a registry of running and unclaimed tasks. The registry
// is guarded by mu; TaskContext fields are read without it.
type TaskManager struct {
	cfg config

	mu    sync.Mutex
	tasks map[api.TaskHandle]*entry
	live  map[api.TaskHandle]chan struct{} // worker goroutines not yet returned

	workers sync.WaitGroup
	ticker  *clock.Ticker
	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ api.Scheduler = (*TaskManager)(nil)

// NewTaskManager starts the supervisory loop.
func NewTaskManager(opts ...Option) (*TaskManager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.metrics == nil {
		cfg.metrics = DefaultMetrics()
	}
	m := &TaskManager{
		cfg:     cfg,
		tasks:   make(map[api.TaskHandle]*entry),
		live:    make(map[api.TaskHandle]chan struct{}),
		ticker:  cfg.clock.Ticker(cfg.tick),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.supervise()
	return m, nil
}

// AddTask starts fn in a new goroutine and registers tc under a fresh
// random handle.
func (m *TaskManager) AddTask(fn WorkerFunc, tc *TaskContext) (api.TaskHandle, error) {
	if fn == nil || tc == nil {
		return 0, fmt.Errorf("add task: %w", api.ErrInvalidArgument)
	}
	if m.closed.Load() {
		return 0, api.ErrSchedulerClosed
	}
	tc.SetStatus(api.TaskInit)
	tc.SetExitCode(0)
	tc.setStart(m.cfg.clock.Now())

	ctx, cancel := context.WithCancelCause(m.cfg.base)
	e := &entry{tc: tc, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	h := m.newHandleLocked()
	m.tasks[h] = e
	m.live[h] = e.done
	m.workers.Add(1)
	m.mu.Unlock()

	tc.CompareAndSwapStatus(api.TaskInit, api.TaskInProgress)
	m.cfg.metrics.start()
	m.cfg.logger.Debug("task started", zap.String("task", tc.Name()), zap.Uint64("handle", uint64(h)),
		zap.Duration("timeout", tc.Timeout()))
	go m.run(ctx, h, e, fn)
	return h, nil
}

func (m *TaskManager) newHandleLocked() api.TaskHandle {
	for {
		h := api.TaskHandle(m.cfg.handles())
		if h == 0 {
			continue
		}
		if _, ok := m.tasks[h]; ok {
			continue
		}
		if _, ok := m.live[h]; ok {
			continue
		}
		return h
	}
}

func (m *TaskManager) run(ctx context.Context, h api.TaskHandle, e *entry, fn WorkerFunc) {
	tc := e.tc
	defer func() {
		if r := recover(); r != nil {
			m.cfg.logger.Error("task panicked", zap.String("task", tc.Name()), zap.Any("panic", r))
			tc.SetExitCode(-1)
			m.finish(tc, api.TaskError)
		}
		e.cancel(nil)
		close(e.done)
		m.mu.Lock()
		delete(m.live, h)
		m.mu.Unlock()
		m.workers.Done()
	}()

	if err := fn(ctx, tc); err != nil {
		if tc.ExitCode() == 0 {
			tc.SetExitCode(1)
		}
		m.cfg.logger.Debug("task failed", zap.String("task", tc.Name()), zap.Error(err))
		m.finish(tc, api.TaskError)
		return
	}
	m.finish(tc, api.TaskPending)
}

// finish moves a running task to s. A task already evicted by SkipTask or
// the supervisor keeps its eviction status.
func (m *TaskManager) finish(tc *TaskContext, s api.TaskStatus) {
	for {
		cur := tc.Status()
		if !cur.Running() {
			return
		}
		if tc.CompareAndSwapStatus(cur, s) {
			m.cfg.metrics.end(s)
			return
		}
	}
}

func (m *TaskManager) supervise() {
	defer close(m.stopped)
	for {
		select {
		case <-m.stop:
			return
		case <-m.ticker.C:
			m.scan()
		}
	}
}

// scan applies the eviction policy once over the registry.
func (m *TaskManager) scan() {
	now := m.cfg.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, e := range m.tasks {
		tc := e.tc
		st := tc.Status()
		deadline := tc.Deadline()
		switch {
		case st == api.TaskFinished || st == api.TaskSkip:
			delete(m.tasks, h)
		case st.Running() && !now.Before(deadline):
			if tc.CompareAndSwapStatus(st, api.TaskTimeout) {
				m.cfg.metrics.end(api.TaskTimeout)
				m.cfg.logger.Info("task timed out", zap.String("task", tc.Name()),
					zap.Uint64("handle", uint64(h)), zap.Duration("timeout", tc.Timeout()))
				e.cancel(api.ErrTaskTimeout)
			}
		case !st.Running() && !now.Before(deadline.Add(m.cfg.grace)):
			m.cfg.logger.Debug("abandoned task removed", zap.String("task", tc.Name()),
				zap.Uint64("handle", uint64(h)), zap.Stringer("status", st))
			delete(m.tasks, h)
		}
	}
	m.cfg.metrics.size(len(m.tasks))
}

func (m *TaskManager) lookup(h api.TaskHandle) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[h]
	return e, ok
}

// SkipTask marks the task Skip and cancels its context. The worker stops
// once it observes the cancellation.
func (m *TaskManager) SkipTask(h api.TaskHandle) error {
	e, ok := m.lookup(h)
	if !ok {
		return fmt.Errorf("skip task %d: %w", h, api.ErrNotFound)
	}
	for {
		cur := e.tc.Status()
		if cur == api.TaskSkip {
			return nil
		}
		if e.tc.CompareAndSwapStatus(cur, api.TaskSkip) {
			// a finished task already counted its terminal status
			if cur.Running() {
				m.cfg.metrics.end(api.TaskSkip)
			}
			break
		}
	}
	e.cancel(api.ErrTaskSkipped)
	return nil
}

// ChangeTimeout replaces the task timeout; the supervisor sees it on its
// next tick.
func (m *TaskManager) ChangeTimeout(h api.TaskHandle, d time.Duration) error {
	e, ok := m.lookup(h)
	if !ok {
		return fmt.Errorf("change timeout %d: %w", h, api.ErrNotFound)
	}
	e.tc.SetTimeout(d)
	return nil
}

// Status returns the task state, or ErrNotFound after removal.
func (m *TaskManager) Status(h api.TaskHandle) (api.TaskStatus, error) {
	e, ok := m.lookup(h)
	if !ok {
		return api.TaskIdle, fmt.Errorf("task %d: %w", h, api.ErrNotFound)
	}
	return e.tc.Status(), nil
}

// Collect claims the result of a task that stopped running and returns its
// exit code. The task becomes Finished and is dropped on the next tick.
func (m *TaskManager) Collect(h api.TaskHandle) (int32, error) {
	e, ok := m.lookup(h)
	if !ok {
		return 0, fmt.Errorf("collect %d: %w", h, api.ErrNotFound)
	}
	tc := e.tc
	for {
		st := tc.Status()
		switch st {
		case api.TaskInit, api.TaskInProgress:
			return 0, fmt.Errorf("collect %d: %w", h, api.ErrTaskRunning)
		case api.TaskFinished, api.TaskSkip:
			return tc.ExitCode(), nil
		}
		if tc.CompareAndSwapStatus(st, api.TaskFinished) {
			return tc.ExitCode(), nil
		}
	}
}

// Wait blocks until the worker goroutine of h returns or ctx is done.
// A handle with no live worker returns at once.
func (m *TaskManager) Wait(ctx context.Context, h api.TaskHandle) error {
	m.mu.Lock()
	done, ok := m.live[h]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// WaitAll blocks until every worker goroutine has returned.
func (m *TaskManager) WaitAll() {
	m.workers.Wait()
}

// Len returns the number of registry entries.
func (m *TaskManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Stats counts registry entries by status name.
func (m *TaskManager) Stats() map[string]int {
	out := make(map[string]int)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.tasks {
		out[e.tc.Status().String()]++
	}
	return out
}

// TaskInfo is a point-in-time view of one registry entry.
type TaskInfo struct {
	Handle   api.TaskHandle `json:"handle"`
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Started  time.Time      `json:"started"`
	Timeout  time.Duration  `json:"timeout"`
	ExitCode int32          `json:"exit_code"`
}

// Snapshot lists the registry, for debug probes.
func (m *TaskManager) Snapshot() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskInfo, 0, len(m.tasks))
	for h, e := range m.tasks {
		out = append(out, TaskInfo{
			Handle:   h,
			Name:     e.tc.Name(),
			Status:   e.tc.Status().String(),
			Started:  e.tc.StartTime(),
			Timeout:  e.tc.Timeout(),
			ExitCode: e.tc.ExitCode(),
		})
	}
	return out
}

// Close stops and joins the supervisory loop. Running workers are left to
// their contexts. Repeated calls are no-ops.
func (m *TaskManager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stop)
	m.ticker.Stop()
	<-m.stopped
	return nil
}

// File: internal/concurrency/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-task state shared by the caller, the worker and the supervisor.

package concurrency

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-probe/api"
)

// WorkerFunc is the body of a scheduled task. ctx is cancelled with
// api.ErrTaskTimeout or api.ErrTaskSkipped as cause when the task is evicted;
// the worker must return promptly once it observes that.
type WorkerFunc func(ctx context.Context, tc *TaskContext) error

// TaskContext carries one task's timing and status. Every field is
// individually atomic so no registry lock is needed to observe it.
type TaskContext struct {
	name     string
	start    atomic.Int64 // unix nanoseconds
	timeout  atomic.Int64
	status   atomic.Uint32
	exitCode atomic.Int32
}

// NewTaskContext creates an idle task record.
func NewTaskContext(name string, timeout time.Duration) *TaskContext {
	tc := &TaskContext{name: name}
	tc.timeout.Store(int64(timeout))
	return tc
}

// Name returns the immutable task name.
func (tc *TaskContext) Name() string { return tc.name }

// StartTime returns when the task was last started.
func (tc *TaskContext) StartTime() time.Time { return time.Unix(0, tc.start.Load()) }

func (tc *TaskContext) setStart(t time.Time) { tc.start.Store(t.UnixNano()) }

// Timeout returns the allowed run time.
func (tc *TaskContext) Timeout() time.Duration { return time.Duration(tc.timeout.Load()) }

// SetTimeout replaces the allowed run time.
func (tc *TaskContext) SetTimeout(d time.Duration) { tc.timeout.Store(int64(d)) }

// Deadline is StartTime plus Timeout.
func (tc *TaskContext) Deadline() time.Time { return tc.StartTime().Add(tc.Timeout()) }

// Status returns the current lifecycle state.
func (tc *TaskContext) Status() api.TaskStatus { return api.TaskStatus(tc.status.Load()) }

// SetStatus stores s unconditionally.
func (tc *TaskContext) SetStatus(s api.TaskStatus) { tc.status.Store(uint32(s)) }

// CompareAndSwapStatus moves from old to new only if the state is still old.
func (tc *TaskContext) CompareAndSwapStatus(old, new api.TaskStatus) bool {
	return tc.status.CompareAndSwap(uint32(old), uint32(new))
}

// ExitCode returns the worker-reported exit code.
func (tc *TaskContext) ExitCode() int32 { return tc.exitCode.Load() }

// SetExitCode records the worker's exit code.
func (tc *TaskContext) SetExitCode(code int32) { tc.exitCode.Store(code) }

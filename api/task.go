// File: api/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task lifecycle contract shared by the task manager and its workers.

package api

// TaskHandle identifies a registered task. Zero is never issued.
type TaskHandle uint64

// TaskStatus is the lifecycle state of a scheduled task:
// Idle -> Init -> InProgress -> {Pending, Error, Timeout, Skip} -> Finished.
type TaskStatus uint32

const (
	TaskIdle TaskStatus = iota
	TaskInit
	TaskInProgress
	TaskPending
	TaskError
	TaskTimeout
	TaskSkip
	TaskFinished
)

func (s TaskStatus) String() string {
	switch s {
	case TaskIdle:
		return "idle"
	case TaskInit:
		return "init"
	case TaskInProgress:
		return "in-progress"
	case TaskPending:
		return "pending"
	case TaskError:
		return "error"
	case TaskTimeout:
		return "timeout"
	case TaskSkip:
		return "skip"
	case TaskFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Running reports whether the worker is still expected to be executing.
func (s TaskStatus) Running() bool {
	return s == TaskInit || s == TaskInProgress
}

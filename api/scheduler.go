// Package api
// Author: momentics
//
// Handle-level control of scheduled tasks.

package api

import (
	"context"
	"time"
)

// Scheduler controls tasks by handle once they were started.
type Scheduler interface {
	// SkipTask cancels a task cooperatively and marks it skipped.
	SkipTask(h TaskHandle) error

	// ChangeTimeout replaces a task's allowed run time.
	ChangeTimeout(h TaskHandle, d time.Duration) error

	// Status reports a registered task's state.
	Status(h TaskHandle) (TaskStatus, error)

	// Collect claims the result of a task that stopped running.
	Collect(h TaskHandle) (int32, error)

	// Wait blocks until the task's worker returned.
	Wait(ctx context.Context, h TaskHandle) error

	// WaitAll blocks until every worker returned.
	WaitAll()
}

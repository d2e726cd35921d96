// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task scheduling with deadline supervision. A TaskManager runs each worker
// in its own goroutine, keeps the worker's TaskContext in a mutex-guarded
// registry under a random 64-bit handle, and scans the registry once per
// tick to time out overdue tasks and reclaim finished or abandoned ones.
//
// Cancellation is cooperative: a timed-out or skipped task has its context
// cancelled with api.ErrTaskTimeout or api.ErrTaskSkipped as cause, which
// wakes any transport call blocked in a readiness wait.
package concurrency

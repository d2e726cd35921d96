package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/hioload-probe/api"
)

func newTestManager(t *testing.T, opts ...Option) (*TaskManager, *clock.Mock, *Metrics) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMetrics(prometheus.NewRegistry())
	tm, err := NewTaskManager(append([]Option{WithClock(mock), WithMetrics(m)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tm.Close() })
	return tm, mock, m
}

// blockUntilCancelled never finishes on its own.
func blockUntilCancelled(ctx context.Context, _ *TaskContext) error {
	<-ctx.Done()
	return context.Cause(ctx)
}

func statusOf(tm *TaskManager, h api.TaskHandle) api.TaskStatus {
	s, _ := tm.Status(h)
	return s
}

func TestAddTaskRunsToPending(t *testing.T) {
	tm, _, m := newTestManager(t)
	tc := NewTaskContext("ok", time.Second)

	h, err := tm.AddTask(func(ctx context.Context, tc *TaskContext) error {
		tc.SetExitCode(7)
		return nil
	}, tc)
	require.NoError(t, err)
	assert.NotZero(t, h)

	require.NoError(t, tm.Wait(context.Background(), h))
	assert.Equal(t, api.TaskPending, statusOf(tm, h))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.started))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ended.WithLabelValues("pending")))

	code, err := tm.Collect(h)
	require.NoError(t, err)
	assert.Equal(t, int32(7), code)
	assert.Equal(t, api.TaskFinished, tc.Status())
}

func TestTimeoutWithinOneTickAndEviction(t *testing.T) {
	tm, mock, m := newTestManager(t)
	tc := NewTaskContext("stuck", time.Second)

	var cause atomic.Value
	h, err := tm.AddTask(func(ctx context.Context, tc *TaskContext) error {
		<-ctx.Done()
		cause.Store(context.Cause(ctx))
		return context.Cause(ctx)
	}, tc)
	require.NoError(t, err)
	assert.Equal(t, api.TaskInProgress, tc.Status())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return tc.Status() == api.TaskTimeout },
		time.Second, time.Millisecond)
	require.NoError(t, tm.Wait(context.Background(), h))
	assert.ErrorIs(t, cause.Load().(error), api.ErrTaskTimeout)
	assert.Equal(t, api.TaskTimeout, tc.Status(), "worker exit must not override timeout")
	assert.Equal(t, 1, tm.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ended.WithLabelValues("timeout")))

	mock.Add(2 * time.Minute)
	require.Eventually(t, func() bool { return tm.Len() == 0 }, time.Second, time.Millisecond)
	_, err = tm.Status(h)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestChangeTimeoutSeenOnNextTick(t *testing.T) {
	tm, mock, _ := newTestManager(t)
	tc := NewTaskContext("extend", time.Second)
	h, err := tm.AddTask(blockUntilCancelled, tc)
	require.NoError(t, err)

	require.NoError(t, tm.ChangeTimeout(h, 10*time.Second))
	mock.Add(2 * time.Second)
	// let the supervisor drain the tick before asserting
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, api.TaskInProgress, tc.Status())

	mock.Add(8 * time.Second)
	require.Eventually(t, func() bool { return tc.Status() == api.TaskTimeout },
		time.Second, time.Millisecond)
	assert.ErrorIs(t, tm.ChangeTimeout(api.TaskHandle(0), time.Second), api.ErrNotFound)
}

func TestSkipTaskCancelsWorker(t *testing.T) {
	tm, mock, _ := newTestManager(t)
	tc := NewTaskContext("skip", time.Minute)
	errc := make(chan error, 1)
	h, err := tm.AddTask(func(ctx context.Context, tc *TaskContext) error {
		err := blockUntilCancelled(ctx, tc)
		errc <- err
		return err
	}, tc)
	require.NoError(t, err)

	require.NoError(t, tm.SkipTask(h))
	assert.ErrorIs(t, <-errc, api.ErrTaskSkipped)
	require.NoError(t, tm.Wait(context.Background(), h))
	assert.Equal(t, api.TaskSkip, tc.Status())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return tm.Len() == 0 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, tm.SkipTask(h), api.ErrNotFound)
}

func TestSkipAfterFinishCountsOneTerminalStatus(t *testing.T) {
	tm, mock, m := newTestManager(t)
	tc := NewTaskContext("done", time.Minute)
	h, err := tm.AddTask(func(context.Context, *TaskContext) error { return nil }, tc)
	require.NoError(t, err)
	require.NoError(t, tm.Wait(context.Background(), h))
	require.Equal(t, api.TaskPending, tc.Status())

	require.NoError(t, tm.SkipTask(h))
	require.NoError(t, tm.SkipTask(h))
	assert.Equal(t, api.TaskSkip, tc.Status())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ended.WithLabelValues("pending")))
	assert.Zero(t, testutil.ToFloat64(m.ended.WithLabelValues("skip")))

	running := NewTaskContext("running", time.Minute)
	h2, err := tm.AddTask(blockUntilCancelled, running)
	require.NoError(t, err)
	require.NoError(t, tm.SkipTask(h2))
	require.NoError(t, tm.SkipTask(h2))
	require.NoError(t, tm.Wait(context.Background(), h2))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ended.WithLabelValues("skip")))
	assert.Zero(t, testutil.ToFloat64(m.ended.WithLabelValues("error")))

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return tm.Len() == 0 }, time.Second, time.Millisecond)
}

func TestWorkerErrorAndPanic(t *testing.T) {
	tm, _, m := newTestManager(t)

	failing := NewTaskContext("fail", time.Second)
	h1, err := tm.AddTask(func(context.Context, *TaskContext) error {
		return errors.New("boom")
	}, failing)
	require.NoError(t, err)

	panicking := NewTaskContext("panic", time.Second)
	h2, err := tm.AddTask(func(context.Context, *TaskContext) error {
		panic("unexpected")
	}, panicking)
	require.NoError(t, err)

	tm.WaitAll()
	assert.Equal(t, api.TaskError, statusOf(tm, h1))
	assert.Equal(t, int32(1), failing.ExitCode())
	assert.Equal(t, api.TaskError, statusOf(tm, h2))
	assert.Equal(t, int32(-1), panicking.ExitCode())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ended.WithLabelValues("error")))
	assert.Equal(t, map[string]int{"error": 2}, tm.Stats())

	code, err := tm.Collect(h2)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), code)
}

func TestCollectWhileRunning(t *testing.T) {
	tm, _, _ := newTestManager(t)
	h, err := tm.AddTask(blockUntilCancelled, NewTaskContext("busy", time.Minute))
	require.NoError(t, err)

	_, err = tm.Collect(h)
	assert.ErrorIs(t, err, api.ErrTaskRunning)
	require.NoError(t, tm.SkipTask(h))
	tm.WaitAll()
}

func TestHandleCollisionRetried(t *testing.T) {
	seq := []uint64{0, 42, 42, 42, 43}
	var i atomic.Int32
	next := func() uint64 { return seq[int(i.Add(1)-1)%len(seq)] }
	tm, _, _ := newTestManager(t, WithHandleSource(next))

	h1, err := tm.AddTask(blockUntilCancelled, NewTaskContext("a", time.Minute))
	require.NoError(t, err)
	h2, err := tm.AddTask(blockUntilCancelled, NewTaskContext("b", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, api.TaskHandle(42), h1)
	assert.Equal(t, api.TaskHandle(43), h2)

	require.NoError(t, tm.SkipTask(h1))
	require.NoError(t, tm.SkipTask(h2))
	tm.WaitAll()
}

func TestWaitHonorsContext(t *testing.T) {
	tm, _, _ := newTestManager(t)
	h, err := tm.AddTask(blockUntilCancelled, NewTaskContext("wait", time.Minute))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tm.Wait(ctx, h), context.DeadlineExceeded)

	require.NoError(t, tm.SkipTask(h))
	require.NoError(t, tm.Wait(context.Background(), h))
	assert.NoError(t, tm.Wait(context.Background(), api.TaskHandle(1)))
}

func TestCloseRejectsNewTasks(t *testing.T) {
	tm, _, _ := newTestManager(t)
	require.NoError(t, tm.Close())
	require.NoError(t, tm.Close())

	_, err := tm.AddTask(blockUntilCancelled, NewTaskContext("late", time.Second))
	assert.ErrorIs(t, err, api.ErrSchedulerClosed)
	_, err = tm.AddTask(nil, NewTaskContext("nil", time.Second))
	assert.Error(t, err)
}

func TestTimeoutIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tm, mock, _ := newTestManager(t, WithLogger(zap.New(core)))
	h, err := tm.AddTask(blockUntilCancelled, NewTaskContext("logged", time.Second))
	require.NoError(t, err)

	mock.Add(time.Second)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("task timed out").Len() == 1
	}, time.Second, time.Millisecond)
	entry := logs.FilterMessage("task timed out").All()[0]
	assert.Equal(t, "logged", entry.ContextMap()["task"])
	require.NoError(t, tm.Wait(context.Background(), h))
}

func TestSnapshot(t *testing.T) {
	tm, _, _ := newTestManager(t)
	h, err := tm.AddTask(blockUntilCancelled, NewTaskContext("snap", 3*time.Second))
	require.NoError(t, err)

	snap := tm.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, h, snap[0].Handle)
	assert.Equal(t, "snap", snap[0].Name)
	assert.Equal(t, "in-progress", snap[0].Status)
	assert.Equal(t, 3*time.Second, snap[0].Timeout)

	require.NoError(t, tm.SkipTask(h))
	tm.WaitAll()
}

func TestOptionValidation(t *testing.T) {
	_, err := NewTaskManager(WithTick(0))
	assert.Error(t, err)
	_, err = NewTaskManager(WithGracePeriod(-time.Second))
	assert.Error(t, err)
}

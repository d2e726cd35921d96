package api_test

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-probe/api"
)

func TestSocketStateFlags(t *testing.T) {
	assert.Equal(t, api.SocketState(1), api.StateReadable)
	assert.Equal(t, api.SocketState(2), api.StateWritable)
	assert.Equal(t, "none", api.StateNone.String())
	assert.Equal(t, "read-write", (api.StateReadable | api.StateWritable).String())
	assert.Equal(t, "closed", api.StateClosed.String())
	assert.Equal(t, "readable", (api.StateReadable | api.StateClosed).String())
	assert.Equal(t, "error", (api.StateError | api.StateReadable).String())
	assert.Equal(t, "interrupted", (api.StateInterrupted | api.StateError).String())
	assert.True(t, (api.StateReadable | api.StateWritable).Has(api.StateWritable))
	assert.False(t, api.StateReadable.Has(api.StateReadable|api.StateWritable))
}

func TestProtocolKinds(t *testing.T) {
	assert.False(t, api.KindPlain.IsTLS())
	assert.Equal(t, "tcp", api.KindPlain.String())
	for v := api.TLS10; v < api.NumTLSVersions; v++ {
		k := api.KindFor(v)
		assert.True(t, k.IsTLS())
		assert.Equal(t, v, k.TLSVersion())
		assert.Equal(t, v.String(), k.String())
	}
	assert.False(t, api.NumTLSVersions.Valid())
}

func TestWouldBlockIsTemporaryNetError(t *testing.T) {
	var ne net.Error
	assert.True(t, errors.As(api.ErrWouldBlock, &ne))
	assert.True(t, ne.Timeout())
}

func TestInterruptedErrorMatches(t *testing.T) {
	cause := errors.New("skip")
	err := fmt.Errorf("recv: %w", &api.InterruptedError{Op: "recv", Errno: syscall.EINTR, Cause: cause})
	assert.ErrorIs(t, err, api.ErrInterrupted)
	assert.ErrorIs(t, err, syscall.EINTR)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, api.ErrCodeInterrupted, api.Classify(err))
}

func TestClassify(t *testing.T) {
	cases := map[error]api.ErrorCode{
		nil:                                          api.ErrCodeOK,
		fmt.Errorf("x: %w", api.ErrResolve):          api.ErrCodeResolve,
		fmt.Errorf("x: %w", api.ErrConnect):          api.ErrCodeConnect,
		fmt.Errorf("x: %w", api.ErrWouldBlock):       api.ErrCodeTimeout,
		fmt.Errorf("x: %w", api.ErrOperationTimeout): api.ErrCodeTimeout,
		fmt.Errorf("x: %w", api.ErrHandshake):        api.ErrCodeHandshake,
		fmt.Errorf("x: %w", api.ErrInvalidArgument):  api.ErrCodeInvalidArgument,
		errors.New("connection reset by peer"):       api.ErrCodeIO,
	}
	for err, want := range cases {
		assert.Equal(t, want, api.Classify(err), "%v", err)
	}
}

func TestStructuredError(t *testing.T) {
	cause := errors.New("refused")
	err := api.NewError(api.ErrCodeConnect, "probe failed").WithContext("host", "a.test").Wrap(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "probe failed: refused")
	assert.Contains(t, err.Error(), "a.test")
	assert.Equal(t, "connect", err.Code.String())
}

func TestTaskStatusRunning(t *testing.T) {
	assert.True(t, api.TaskInit.Running())
	assert.True(t, api.TaskInProgress.Running())
	for _, s := range []api.TaskStatus{api.TaskIdle, api.TaskPending, api.TaskError, api.TaskTimeout, api.TaskSkip, api.TaskFinished} {
		assert.False(t, s.Running(), s.String())
	}
}

// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-probe.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrTransportClosed  = errors.New("transport is closed")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrNotSupported     = errors.New("operation not supported")
	ErrNotFound         = errors.New("resource not found")
	ErrResolve          = errors.New("address resolution failed")
	ErrConnect          = errors.New("connect failed")
	ErrHandshake        = errors.New("tls handshake failed")
	ErrNoCiphers        = errors.New("no usable cipher suites")
	ErrBadALPN          = errors.New("malformed ALPN protocol list")
	ErrTaskTimeout      = errors.New("task timed out")
	ErrTaskSkipped      = errors.New("task skipped")
	ErrTaskRunning      = errors.New("task still running")
	ErrSchedulerClosed  = errors.New("task manager is closed")
)

// ErrWouldBlock reports that a readiness wait elapsed without the descriptor
// becoming ready. It satisfies net.Error as a temporary timeout so that TLS
// record processing treats it as retryable.
var ErrWouldBlock error = wouldBlockError{}

type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "operation would block" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }

// InterruptedError is returned when a blocking operation was woken up by
// cancellation. It matches unix.EINTR (through Errno) and the context cause.
type InterruptedError struct {
	Op    string
	Errno error
	Cause error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("%s: interrupted: %v", e.Op, e.Cause)
}

// Unwrap exposes both the errno and the cancellation cause to errors.Is.
func (e *InterruptedError) Unwrap() []error {
	return []error{ErrInterrupted, e.Errno, e.Cause}
}

// ErrInterrupted is the sentinel carried by every InterruptedError.
var ErrInterrupted = errors.New("operation interrupted")

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResolve
	ErrCodeConnect
	ErrCodeHandshake
	ErrCodeTimeout
	ErrCodeInterrupted
	ErrCodeIO
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid-argument"
	case ErrCodeResolve:
		return "resolve"
	case ErrCodeConnect:
		return "connect"
	case ErrCodeHandshake:
		return "handshake"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeInterrupted:
		return "interrupted"
	case ErrCodeIO:
		return "io"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// Classify maps a transport error onto an ErrorCode.
func Classify(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeOK
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	case errors.Is(err, ErrResolve):
		return ErrCodeResolve
	case errors.Is(err, ErrConnect):
		return ErrCodeConnect
	case errors.Is(err, ErrInterrupted):
		return ErrCodeInterrupted
	case errors.Is(err, ErrOperationTimeout), errors.Is(err, ErrWouldBlock):
		return ErrCodeTimeout
	case errors.Is(err, ErrHandshake), errors.Is(err, ErrNoCiphers), errors.Is(err, ErrBadALPN):
		return ErrCodeHandshake
	default:
		return ErrCodeIO
	}
}

// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the client transport abstraction shared by the plain TCP and the
// TLS socket variants. Callers hold "a transport", never a concrete type.

package api

import (
	"context"
	"time"
)

// CompletionFunc is consulted by chunked receives after every chunk that
// added data. buf holds everything read so far; returning true stops the read.
type CompletionFunc func(buf []byte, total int) bool

// Transport is a single-owner, non-blocking client connection.
// Implementations are not safe for concurrent use by multiple goroutines.
type Transport interface {
	// Connect resolves host and establishes the connection.
	Connect(ctx context.Context, host string, port uint16) error

	// Send writes all of p, or fails and closes the transport.
	Send(ctx context.Context, p []byte) (int, error)

	// Recv reads until p is full, the peer closes, or the deadline passes.
	// With noWait it returns after the first successful read.
	Recv(ctx context.Context, p []byte, noWait bool) (int, error)

	// RecvToEnd drains until EOF, buffer exhaustion, or deadline.
	RecvToEnd(ctx context.Context, p []byte) (int, error)

	// RecvChunked reads chunkSize-bounded chunks until done reports true.
	RecvChunked(ctx context.Context, p []byte, done CompletionFunc, chunkSize int) (int, error)

	// Shutdown half- or fully closes the connection without releasing it.
	Shutdown(how ShutdownHow) error

	// Close releases the descriptor and its poller. Safe to call repeatedly.
	Close() error

	// IsError reports whether the transport was closed by a fatal error.
	IsError() bool

	// RawFD returns the OS descriptor, or InvalidFD once closed.
	RawFD() int

	// Timeout returns the per-operation deadline budget.
	Timeout() time.Duration

	// SetTimeout replaces the per-operation deadline budget.
	SetTimeout(d time.Duration)
}

// InvalidFD marks a transport without a live descriptor.
const InvalidFD = -1

// ShutdownHow selects which direction Shutdown closes.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// SocketState is the classified result of one readiness wait.
type SocketState uint32

const (
	// StateNone means the wait timed out without events.
	StateNone     SocketState = 0
	StateReadable SocketState = 1 << (iota - 1)
	StateWritable
	StateClosed
	StateError
	StateInterrupted
)

// Has reports whether every bit of flag is set.
func (s SocketState) Has(flag SocketState) bool { return s&flag == flag }

func (s SocketState) String() string {
	switch {
	case s == StateNone:
		return "none"
	case s.Has(StateInterrupted):
		return "interrupted"
	case s.Has(StateError):
		return "error"
	case s.Has(StateClosed) && !s.Has(StateReadable):
		return "closed"
	case s.Has(StateReadable | StateWritable):
		return "read-write"
	case s.Has(StateReadable):
		return "readable"
	case s.Has(StateWritable):
		return "writable"
	default:
		return "other"
	}
}

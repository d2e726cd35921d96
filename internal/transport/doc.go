// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking client transports for protocol probing: a plain TCP Socket and
// a TLSSocket layering crypto/tls over the same descriptor. Every blocking
// step is a readiness-gated retry loop around the transport's own poller,
// bounded by a per-attempt retry wait and a per-operation deadline.
// Cancellation arrives through context.Context and wakes the poller.
//
// A transport is owned by one goroutine. Only the process-wide TLS context
// pool is shared, and it is read-only after construction.

package transport

// Package probe inspects what a TLS server supports: which protocol
// versions complete a handshake, the ALPN protocol and cipher it selects,
// and the status line it answers a HEAD request with.
//
// Every handshake runs as a task on a concurrency.TaskManager, so slow or
// silent servers are evicted by the task supervisor rather than stalling
// the probe.
package probe

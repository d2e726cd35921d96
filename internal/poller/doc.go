// File: internal/poller/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package poller implements the per-descriptor readiness primitive used by
// the client transports. Each Poller owns one epoll instance watching exactly
// one socket plus an eventfd that cancellation uses to wake a pending wait.
// The design targets a bounded number of outbound connections, one poller per
// transport, rather than a shared reactor.
package poller

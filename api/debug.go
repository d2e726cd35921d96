// Package api
// Author: momentics
//
// Diagnostics contract for a running probe process.

package api

// Debug collects named state providers, such as the task registry or the
// descriptor limit, and renders them together on demand.
type Debug interface {
	// DumpState calls every provider and keys the results by name.
	DumpState() map[string]any

	// RegisterProbe adds or replaces the provider stored under name.
	RegisterProbe(name string, fn func() any)
}

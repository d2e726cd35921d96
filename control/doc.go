// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, metrics exposure and debug introspection for
// the probe tool.
//
// Provides concurrent-safe state handling primitives including:
//   - YAML configuration with defaults and validation
//   - A config store with reload listeners and SIGHUP-driven reload
//   - A Prometheus /metrics endpoint
//   - Named debug probes served as JSON
package control

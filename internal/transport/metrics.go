// File: internal/transport/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus counters for transport activity.

package transport

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	kindPlain = "tcp"
	kindTLS   = "tls"
)

// Metrics holds the transport counters. A nil *Metrics records nothing.
type Metrics struct {
	connects   *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	handshakes *prometheus.CounterVec
}

// NewMetrics creates the transport counters and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hioload_probe",
			Subsystem: "transport",
			Name:      "connects_total",
			Help:      "Connect attempts by transport kind and result.",
		}, []string{"kind", "result"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hioload_probe",
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Payload bytes moved by transport kind and direction.",
		}, []string{"kind", "direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hioload_probe",
			Subsystem: "transport",
			Name:      "fatal_errors_total",
			Help:      "Operations that closed the transport, by kind and operation.",
		}, []string{"kind", "op"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hioload_probe",
			Subsystem: "tls",
			Name:      "handshakes_total",
			Help:      "TLS handshakes by offered version and result.",
		}, []string{"version", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.connects, m.bytes, m.failures, m.handshakes)
	}
	return m
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
})

// DefaultMetrics returns the counters registered with the default registry.
func DefaultMetrics() *Metrics { return defaultMetrics() }

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) connect(kind string, err error) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) sent(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(kind, "sent").Add(float64(n))
}

func (m *Metrics) received(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(kind, "received").Add(float64(n))
}

func (m *Metrics) failure(kind, op string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind, op).Inc()
}

func (m *Metrics) handshake(version string, err error) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(version, result(err)).Inc()
}

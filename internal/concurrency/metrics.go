// File: internal/concurrency/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-probe/api"
)

// Metrics holds task manager counters. A nil *Metrics records nothing.
type Metrics struct {
	started    prometheus.Counter
	ended      *prometheus.CounterVec
	registered prometheus.Gauge
}

// NewMetrics creates the task counters and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hioload_probe",
			Subsystem: "tasks",
			Name:      "started_total",
			Help:      "Tasks handed to a worker goroutine.",
		}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hioload_probe",
			Subsystem: "tasks",
			Name:      "ended_total",
			Help:      "Tasks leaving the running state, by resulting status.",
		}, []string{"status"}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hioload_probe",
			Subsystem: "tasks",
			Name:      "registered",
			Help:      "Entries in the task registry after the last scan.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.started, m.ended, m.registered)
	}
	return m
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
})

// DefaultMetrics returns the counters registered with the default registry.
func DefaultMetrics() *Metrics { return defaultMetrics() }

func (m *Metrics) start() {
	if m != nil {
		m.started.Inc()
	}
}

func (m *Metrics) end(s api.TaskStatus) {
	if m != nil {
		m.ended.WithLabelValues(s.String()).Inc()
	}
}

func (m *Metrics) size(n int) {
	if m != nil {
		m.registered.Set(float64(n))
	}
}

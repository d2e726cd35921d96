// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// HTTP endpoint exposing Prometheus metrics and debug probes.

package control

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/internal/logging"
)

var log = logging.Logger("control")

// MetricsServer serves /metrics and, when probes are given, /debug/probes.
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// ServeMetrics listens on addr and serves in the background. A nil
// gatherer means prometheus.DefaultGatherer.
func ServeMetrics(addr string, gatherer prometheus.Gatherer, probes *DebugProbes) (*MetricsServer, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if probes != nil {
		mux.Handle("/debug/probes", probes)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ms := &MetricsServer{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	log.Info("metrics server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return ms, nil
}

// Addr returns the bound listen address.
func (ms *MetricsServer) Addr() string { return ms.ln.Addr().String() }

// Close stops the server.
func (ms *MetricsServer) Close() error { return ms.srv.Close() }

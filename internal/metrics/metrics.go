// Package metrics exposes a Prometheus registry for the server's own
// operational signals — JSON-RPC call latency and outcome counts — and
// persists the same measurements as performance samples so get_performance_report
// can serve percentiles without scraping Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/babar-raza/tbcv-sub003/internal/store"
)

// Recorder observes one JSON-RPC call's duration and outcome, both into
// Prometheus and into the relational performance-sample table.
type Recorder struct {
	store    *store.Store
	logger   *slog.Logger
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	calls    *prometheus.CounterVec
}

// New builds a Recorder backed by st, registering its collectors on a
// fresh Prometheus registry.
func New(st *store.Store, logger *slog.Logger) *Recorder {
	reg := prometheus.NewRegistry()

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mdvalidate",
		Subsystem: "rpc",
		Name:      "duration_ms",
		Help:      "JSON-RPC method call duration in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"method", "status"})

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mdvalidate",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "JSON-RPC method calls by outcome.",
	}, []string{"method", "status"})

	reg.MustRegister(duration, calls)

	return &Recorder{store: st, logger: logger, registry: reg, duration: duration, calls: calls}
}

// Observe records one completed call's duration and outcome.
func (r *Recorder) Observe(ctx context.Context, method string, elapsed time.Duration, status string) {
	durationMs := float64(elapsed.Microseconds()) / 1000.0

	r.duration.WithLabelValues(method, status).Observe(durationMs)
	r.calls.WithLabelValues(method, status).Inc()

	err := r.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.RecordPerformanceSample(ctx, method, durationMs)
	})
	if err != nil {
		r.logger.Error("failed to persist performance sample", "method", method, "error", err)
	}
}

// Handler serves the registry's collected metrics in the Prometheus
// exposition format, for wiring onto the http transport's /metrics route.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

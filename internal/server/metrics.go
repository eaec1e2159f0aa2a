package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/tutor-go/internal/tutor"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// askRequestsTotal counts answered /api/ask requests, partitioned by the
	// mode that served them and by outcome: "ok", "downgraded", "timeout",
	// or "error".
	askRequestsTotal *prometheus.CounterVec

	// askDurationSeconds records the wall-clock duration of each /api/ask
	// request.
	askDurationSeconds *prometheus.HistogramVec

	// askInFlight is the number of /api/ask requests currently being answered.
	askInFlight prometheus.Gauge

	// ingestRunsTotal counts /api/ingest runs by outcome: "ok", "empty", or
	// "error".
	ingestRunsTotal *prometheus.CounterVec

	// indexChunks is the last observed number of chunks in the index.
	indexChunks prometheus.Gauge

	// rateLimitedTotal counts requests rejected by the per-IP rate limiter.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		askRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "ask",
			Name:      "requests_total",
			Help:      "Total number of /api/ask requests answered, partitioned by mode and outcome.",
		}, []string{"mode", "outcome"}),

		askDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "ask",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/ask requests.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 180},
		}, []string{"mode"}),

		askInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tutor",
			Subsystem: "ask",
			Name:      "in_flight",
			Help:      "Number of /api/ask requests currently being answered.",
		}),

		ingestRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of index rebuilds, partitioned by outcome.",
		}, []string{"outcome"}),

		indexChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tutor",
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Number of chunks in the vector index at the last observation.",
		}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the per-IP rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// askOutcome maps an answer to its metric outcome label.
func askOutcome(ans tutor.Answer) string {
	switch {
	case errors.Is(ans.Err, context.DeadlineExceeded):
		return "timeout"
	case ans.Err != nil:
		return "error"
	case ans.Downgraded:
		return "downgraded"
	default:
		return "ok"
	}
}

// observeAsk records one answered /api/ask request.
func (m *serverMetrics) observeAsk(ans tutor.Answer, elapsed time.Duration) {
	mode := string(ans.Mode)
	m.askRequestsTotal.WithLabelValues(mode, askOutcome(ans)).Inc()
	m.askDurationSeconds.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// instrument records request count and latency per route pattern. It must
// wrap the mux directly so that r.Pattern is populated once the mux has
// routed the request.
func (m *serverMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

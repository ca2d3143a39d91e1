// Package telemetry wires Prometheus metrics and OpenTelemetry tracing into
// the prepare server.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrijr/prepare/pkg/api"
)

const unmatched = "unmatched"

// Metrics is an api.Observer recording Prometheus metrics for fetches,
// entries and HTTP requests.
type Metrics struct {
	api.NoopObserver

	fulfills        *prometheus.CounterVec
	fulfillDuration prometheus.Histogram
	entries         *prometheus.CounterVec
	entryDuration   *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fulfills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepare_fulfills_total",
				Help: "Total number of fetches resolved, by result.",
			},
			[]string{"result"},
		),
		fulfillDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prepare_fulfill_duration_seconds",
				Help:    "Duration of a whole fetch in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepare_entries_total",
				Help: "Total number of entries resolved, by action type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		entryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prepare_entry_duration_seconds",
				Help:    "Handler duration in seconds, by action type and phase.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type", "phase"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prepare_fulfills_in_flight",
				Help: "Number of fetches currently being resolved.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepare_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prepare_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.fulfills,
		m.fulfillDuration,
		m.entries,
		m.entryDuration,
		m.inFlight,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) OnFulfillStart(ctx context.Context, run api.Run) {
	m.inFlight.Inc()
}

func (m *Metrics) OnEntryCompleted(ctx context.Context, run api.Run, entry api.EntryInfo, outcome api.Outcome, err error, d time.Duration) {
	m.entries.WithLabelValues(entry.Action.Type, string(outcome)).Inc()
	m.entryDuration.WithLabelValues(entry.Action.Type, string(entry.Phase)).Observe(d.Seconds())
}

func (m *Metrics) OnFulfillCompleted(ctx context.Context, run api.Run, err error, d time.Duration) {
	m.inFlight.Dec()
	m.fulfillDuration.Observe(d.Seconds())

	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fulfills.WithLabelValues(result).Inc()
}

// Middleware records request count and duration for every HTTP request.
// It labels by chi route pattern rather than raw path to bound cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

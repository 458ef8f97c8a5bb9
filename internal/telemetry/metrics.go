package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for event and batch counters.
const (
	OutcomeQueued    = "queued"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped"
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assign_evaluations_total",
			Help: "Assignments served, by kind and source",
		},
		[]string{"kind", "source"},
	)
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assign_telemetry_events_total",
			Help: "Telemetry events recorded, by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assign_telemetry_queue_depth",
		Help: "Events waiting in the outbound telemetry queue",
	})
	Batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assign_telemetry_batches_total",
			Help: "Telemetry batches handed to the sink, by outcome",
		},
		[]string{"outcome"},
	)
	RegistryKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "assign_registry_keys",
		Help: "Number of flags and experiments in the loaded registry",
	})
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(httpReqs, httpDur, Evaluations, Events, QueueDepth, Batches, RegistryKeys)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// the pattern is only complete after routing
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

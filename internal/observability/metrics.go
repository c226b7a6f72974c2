package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics of the quote service. All methods
// are safe on a nil receiver.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	computations       *prometheus.CounterVec
	autosaveWrites     *prometheus.CounterVec
	autosaveSuperseded prometheus.Counter
	exports            *prometheus.CounterVec
}

// NewMetrics initialises the registry and the service metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	computations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_pricing_computations_total",
		Help: "Budget breakdown computations by caller.",
	}, []string{"source"})
	autosave := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_autosave_writes_total",
		Help: "Debounced budget writes by result.",
	}, []string{"result"})
	superseded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_autosave_superseded_total",
		Help: "Pending budget writes replaced by a newer edit before they ran.",
	})
	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_budget_exports_total",
		Help: "Rendered budget documents by format and result.",
	}, []string{"format", "result"})
	registry.MustRegister(requests, duration, computations, autosave, superseded, exports)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		computations:       computations,
		autosaveWrites:     autosave,
		autosaveSuperseded: superseded,
		exports:            exports,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for component specific collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveComputation counts one breakdown computation.
func (m *Metrics) ObserveComputation(source string) {
	if m == nil {
		return
	}
	m.computations.WithLabelValues(source).Inc()
}

// ObserveAutosave counts a debounced write attempt.
func (m *Metrics) ObserveAutosave(err error) {
	if m == nil {
		return
	}
	m.autosaveWrites.WithLabelValues(result(err)).Inc()
}

// ObserveSuperseded counts a pending write that was replaced.
func (m *Metrics) ObserveSuperseded() {
	if m == nil {
		return
	}
	m.autosaveSuperseded.Inc()
}

// ObserveExport counts one rendered document.
func (m *Metrics) ObserveExport(format string, err error) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

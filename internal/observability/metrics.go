package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the HTTP and billing Prometheus metrics of the server.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	invoicesOpened  prometheus.Counter
	invoicesClosed  prometheus.Counter
	closeRejected   prometheus.Counter
	linesAdded      *prometheus.CounterVec
}

// NewMetrics initialises a dedicated registry with the base collectors.
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
	opened := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_invoices_opened_total",
		Help: "Invoices opened by reception.",
	})
	closed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_invoices_closed_total",
		Help: "Invoices closed after full settlement.",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_invoice_close_rejected_total",
		Help: "Close attempts rejected because lines were unpaid.",
	})
	lines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_lines_added_total",
		Help: "Service lines added to invoices by ledger.",
	}, []string{"type"})
	registry.MustRegister(
		requests, duration, opened, closed, rejected, lines,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		invoicesOpened:  opened,
		invoicesClosed:  closed,
		closeRejected:   rejected,
		linesAdded:      lines,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency by chi route pattern.
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

// Registerer exposes the registry so other packages can add collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// InvoiceOpened counts an opened invoice.
func (m *Metrics) InvoiceOpened() {
	if m != nil {
		m.invoicesOpened.Inc()
	}
}

// InvoiceClosed counts a closed invoice.
func (m *Metrics) InvoiceClosed() {
	if m != nil {
		m.invoicesClosed.Inc()
	}
}

// CloseRejected counts a close blocked by unpaid lines.
func (m *Metrics) CloseRejected() {
	if m != nil {
		m.closeRejected.Inc()
	}
}

// LineAdded counts a line added to one of the four ledgers.
func (m *Metrics) LineAdded(itemType string) {
	if m != nil {
		m.linesAdded.WithLabelValues(itemType).Inc()
	}
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

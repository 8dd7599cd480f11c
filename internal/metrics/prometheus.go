// Package metrics provides Prometheus metrics for the telemetry service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	RateLimitRejected prometheus.Counter

	// Ingestion metrics
	EventsTotal    *prometheus.CounterVec
	ActiveAuctions prometheus.Gauge
	EvictionsTotal prometheus.Counter

	// Delivery metrics
	ReportsTotal         *prometheus.CounterVec
	DeliveryCircuitState prometheus.Gauge

	// Bid metrics
	BidsReceived *prometheus.CounterVec
	BidCPM       *prometheus.HistogramVec
	BidderErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "telemetry"
	}

	m := &Metrics{
		// Request metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Total requests rejected by the rate limiter",
			},
		),

		// Ingestion metrics
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total lifecycle events processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ActiveAuctions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_auctions",
				Help:      "Number of auction records currently cached",
			},
		),
		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auction_evictions_total",
				Help:      "Total auction records evicted after the grace period",
			},
		),

		// Delivery metrics
		ReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_total",
				Help:      "Total report deliveries by kind and status",
			},
			[]string{"kind", "status"},
		),
		DeliveryCircuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "delivery_circuit_breaker_state",
				Help:      "Delivery circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),

		// Bid metrics
		BidsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_received_total",
				Help:      "Total bid responses recorded",
			},
			[]string{"bidder"},
		),
		BidCPM: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bid_cpm_usd",
				Help:      "Bid CPM distribution in USD",
				Buckets:   []float64{0.1, 0.5, 1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"bidder"},
		),
		BidderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bidder_errors_total",
				Help:      "Total bidder errors recorded",
			},
			[]string{"bidder"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RateLimitRejected,
		m.EventsTotal,
		m.ActiveAuctions,
		m.EvictionsTotal,
		m.ReportsTotal,
		m.DeliveryCircuitState,
		m.BidsReceived,
		m.BidCPM,
		m.BidderErrors,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		m.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		m.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordEvent counts one lifecycle event.
// Implements ingest.Recorder.
func (m *Metrics) RecordEvent(kind, outcome string) {
	m.EventsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordReport counts one report delivery outcome.
// Implements delivery.ReportRecorder.
func (m *Metrics) RecordReport(kind, status string) {
	m.ReportsTotal.WithLabelValues(kind, status).Inc()
}

// SetActiveAuctions sets the cached record gauge.
// Implements delivery.StoreObserver.
func (m *Metrics) SetActiveAuctions(n int) {
	m.ActiveAuctions.Set(float64(n))
}

// RecordEviction counts one record eviction.
// Implements delivery.StoreObserver.
func (m *Metrics) RecordEviction() {
	m.EvictionsTotal.Inc()
}

// IncRateLimitRejected counts one rate-limited request.
// Implements middleware.RateLimitMetrics.
func (m *Metrics) IncRateLimitRejected() {
	m.RateLimitRejected.Inc()
}

// RecordBid records a bid response
func (m *Metrics) RecordBid(bidder string, cpmUSD float64) {
	m.BidsReceived.WithLabelValues(bidder).Inc()
	if cpmUSD > 0 {
		m.BidCPM.WithLabelValues(bidder).Observe(cpmUSD)
	}
}

// RecordBidderError counts one bidder error
func (m *Metrics) RecordBidderError(bidder string) {
	m.BidderErrors.WithLabelValues(bidder).Inc()
}

// SetDeliveryCircuitState sets the delivery circuit breaker state metric
func (m *Metrics) SetDeliveryCircuitState(state string) {
	var value float64
	switch state {
	case "closed":
		value = 0
	case "open":
		value = 1
	case "half-open":
		value = 2
	}
	m.DeliveryCircuitState.Set(value)
}

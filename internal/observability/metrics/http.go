package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers outbound requests to the collection endpoint and the
// location service, labelled by endpoint mode (write, jsonp, stats, geo).
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	inFlight        *prometheus.GaugeVec
}

// NewHTTPMetrics creates outbound HTTP metrics and registers them with registry.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanrelay_http_client_requests_total",
			Help: "Outbound HTTP requests by endpoint mode, method and status code",
		}, []string{"endpoint", "method", "status_code"}), // status_code is "error" when no response arrived
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanrelay_http_client_request_duration_seconds",
			Help:    "Time until response headers by endpoint mode",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanrelay_http_client_errors_total",
			Help: "Outbound HTTP requests that failed before a response",
		}, []string{"endpoint"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scanrelay_http_client_in_flight_requests",
			Help: "Outbound HTTP requests currently waiting for a response",
		}, []string{"endpoint"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

// RequestStarted marks a request to endpoint as in flight.
func (m *HTTPMetrics) RequestStarted(endpoint string) {
	m.inFlight.WithLabelValues(endpoint).Inc()
}

// RequestFinished records the result of a request started with RequestStarted.
func (m *HTTPMetrics) RequestFinished(endpoint, method string, statusCode int, err error, seconds float64) {
	m.inFlight.WithLabelValues(endpoint).Dec()
	m.requestDuration.WithLabelValues(endpoint).Observe(seconds)

	status := "error"
	if err != nil {
		m.requestErrors.WithLabelValues(endpoint).Inc()
	} else {
		status = strconv.Itoa(statusCode)
	}
	m.requestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RequestCount returns the request counter for the given labels.
func (m *HTTPMetrics) RequestCount(endpoint, method, status string) prometheus.Counter {
	return m.requestsTotal.WithLabelValues(endpoint, method, status)
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.requestErrors.Collect(ch)
	m.inFlight.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.requestErrors.Describe(ch)
	m.inFlight.Describe(ch)
}

// Package metrics exposes the Prometheus collectors of the vCon registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
	CacheLookupTotal         *prometheus.CounterVec

	// Event publishing metrics
	EventPublishTotal    *prometheus.CounterVec
	EventPublishDuration *prometheus.HistogramVec

	// Document validation metrics
	ValidationTotal          *prometheus.CounterVec
	ValidationDuration       *prometheus.HistogramVec
	ValidationViolationTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics returns the process-wide Metrics, creating and registering it on first use.
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcon_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"})),

		HTTPRequestDuration: registerOrGet(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})),

		StorageOperationTotal: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcon_storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"})),

		StorageOperationDuration: registerOrGet(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcon_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"})),

		CacheLookupTotal: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcon_cache_lookups_total",
			Help: "Document cache lookups by result (hit, miss, error)",
		}, []string{"result"})),

		EventPublishTotal: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcon_event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"})),

		EventPublishDuration: registerOrGet(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcon_event_publish_duration_seconds",
			Help:    "Event publish duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"event_type", "status"})),

		ValidationTotal: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcon_validation_total",
			Help: "Document validations by failing phase (none when valid)",
		}, []string{"phase", "outcome"})),

		ValidationDuration: registerOrGet(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcon_validation_duration_seconds",
			Help:    "Time spent running every validation phase",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"})),

		ValidationViolationTotal: registerOrGet(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcon_validation_violations_total",
			Help: "Violations reported, by kind",
		}, []string{"kind"})),
	}

	globalMetrics = m
	return m
}

// ObserveStorage records one storage call.
func (m *Metrics) ObserveStorage(operation string, err error, elapsed time.Duration) {
	status := statusOf(err)
	m.StorageOperationTotal.WithLabelValues(operation, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

// ObserveEvent records one publish attempt.
func (m *Metrics) ObserveEvent(eventType string, err error, elapsed time.Duration) {
	status := statusOf(err)
	m.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	m.EventPublishDuration.WithLabelValues(eventType, status).Observe(elapsed.Seconds())
}

// ObserveValidation records one document validation. phase is the phase
// that rejected the document, empty when it passed.
func (m *Metrics) ObserveValidation(phase string, violationKinds []string, elapsed time.Duration) {
	outcome := "valid"
	if phase != "" {
		outcome = "invalid"
	} else {
		phase = "none"
	}
	m.ValidationTotal.WithLabelValues(phase, outcome).Inc()
	m.ValidationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	for _, k := range violationKinds {
		m.ValidationViolationTotal.WithLabelValues(k).Inc()
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// registerOrGet registers c with the default registry and returns the
// collector that ends up registered under its name.
func registerOrGet[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics contains HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// DispatchMetrics tracks request dispatches to service blocks over the broker
type DispatchMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    prometheus.Counter
	BreakerState    *prometheus.GaugeVec
	PendingRequests prometheus.Gauge
}

// BrokerMetrics tracks the health of the AMQP client itself
type BrokerMetrics struct {
	ReconnectsTotal  prometheus.Counter
	PublishedTotal   *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	DeliveriesTotal  *prometheus.CounterVec
	ConnectionStatus prometheus.Gauge
}

// ConsumerMetrics tracks request handling inside a service block
type ConsumerMetrics struct {
	ProcessedTotal  *prometheus.CounterVec
	DuplicatesTotal prometheus.Counter
	HandlerDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates HTTP metrics for a service
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// NewDispatchMetrics creates dispatch metrics for the core's router
func NewDispatchMetrics(serviceName string) *DispatchMetrics {
	return &DispatchMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_dispatch_requests_total",
				Help: "Total number of requests dispatched to service blocks",
			},
			[]string{"service", "outcome"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_dispatch_duration_seconds",
				Help:    "Dispatch round-trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		RetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_dispatch_retries_total",
				Help: "Total number of dispatch retry attempts",
			},
		),
		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: serviceName + "_circuit_breaker_state",
				Help: "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		PendingRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_pending_requests",
				Help: "Number of dispatched requests awaiting a response",
			},
		),
	}
}

// NewBrokerMetrics creates metrics for the AMQP client
func NewBrokerMetrics(serviceName string) *BrokerMetrics {
	return &BrokerMetrics{
		ReconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_reconnects_total",
				Help: "Total number of broker reconnect attempts",
			},
		),
		PublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_published_total",
				Help: "Total number of messages published per exchange",
			},
			[]string{"exchange"},
		),
		PublishFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_publish_failures_total",
				Help: "Total number of failed publishes",
			},
		),
		DeliveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_deliveries_total",
				Help: "Total number of deliveries received per queue",
			},
			[]string{"queue"},
		),
		ConnectionStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_broker_connected",
				Help: "Whether the broker connection is up (1) or down (0)",
			},
		),
	}
}

// NewConsumerMetrics creates metrics for a service block's request consumer
func NewConsumerMetrics(serviceName string) *ConsumerMetrics {
	return &ConsumerMetrics{
		ProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_consumer_processed_total",
				Help: "Total number of request envelopes processed",
			},
			[]string{"endpoint", "method", "status"},
		),
		DuplicatesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_consumer_duplicates_total",
				Help: "Total number of duplicate deliveries suppressed",
			},
		),
		HandlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_consumer_handler_duration_seconds",
				Help:    "Handler execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records a completed dispatch round trip
func (m *DispatchMetrics) RecordDispatch(service, outcome string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, outcome).Inc()
	m.RequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordProcessed records a handled request envelope
func (m *ConsumerMetrics) RecordProcessed(endpoint, method, status string, duration time.Duration) {
	m.ProcessedTotal.WithLabelValues(endpoint, method, status).Inc()
	m.HandlerDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

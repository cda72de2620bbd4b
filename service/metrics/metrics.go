package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Import pipeline metrics
	messagesFetchedTotal     *prometheus.CounterVec
	messagesParsedTotal      *prometheus.CounterVec
	transactionsStoredTotal  *prometheus.CounterVec
	importWorkflowDuration   *prometheus.HistogramVec
	importWorkflowExecutions *prometheus.CounterVec
	importActivityDuration   *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRateLimitedTotal *prometheus.CounterVec
	summaryCacheLookups  *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		messagesFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_messages_fetched_total",
				Help: "Total number of SMS messages read from a message source",
			},
			[]string{"sender"},
		),
		messagesParsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_messages_parsed_total",
				Help: "Total number of SMS bodies run through a provider parser",
			},
			[]string{"provider", "status"},
		),
		transactionsStoredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_stored_total",
				Help: "Total number of transactions submitted to the store by outcome",
			},
			[]string{"provider", "status"},
		),
		importWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "import_workflow_duration_seconds",
				Help:    "Duration of import workflow execution in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"status"},
		),
		importWorkflowExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "import_workflow_executions_total",
				Help: "Total number of import workflow executions",
			},
			[]string{"status"},
		),
		importActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "import_activity_duration_seconds",
				Help:    "Duration of import workflow activities in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		httpRateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of HTTP requests rejected by the rate limiter",
			},
			[]string{"path"},
		),
		summaryCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summary_cache_lookups_total",
				Help: "Summary cache lookups by result",
			},
			[]string{"result"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"provider"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"provider", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Import pipeline metric helpers

// RecordMessagesFetched records messages read from a source for one sender.
func (m *Metrics) RecordMessagesFetched(sender string, count int) {
	m.messagesFetchedTotal.WithLabelValues(sender).Add(float64(count))
}

// RecordMessagesParsed records parse outcomes. status is "matched" or "unmatched".
func (m *Metrics) RecordMessagesParsed(provider, status string, count int) {
	m.messagesParsedTotal.WithLabelValues(provider, status).Add(float64(count))
}

// RecordTransactionStored records one store outcome (created, duplicate, failed).
func (m *Metrics) RecordTransactionStored(provider, status string) {
	m.transactionsStoredTotal.WithLabelValues(provider, status).Inc()
}

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.importWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.importWorkflowExecutions.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.importActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordRateLimited records a request rejected with 429.
func (m *Metrics) RecordRateLimited(path string) {
	m.httpRateLimitedTotal.WithLabelValues(path).Inc()
}

// RecordCacheLookup records a summary cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.summaryCacheLookups.WithLabelValues(result).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(provider string, delta float64) {
	m.sseActiveConnections.WithLabelValues(provider).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(provider, eventType string) {
	m.sseEventsSent.WithLabelValues(provider, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}

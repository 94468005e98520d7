package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "vault_scanner"

// PrometheusMetrics contains all Prometheus metrics for the vault event scanner
type PrometheusMetrics struct {
	// Scan metrics
	ScansTotal         *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	RangesScannedTotal prometheus.Counter
	LogsFetchedTotal   *prometheus.CounterVec
	FetchRetriesTotal  *prometheus.CounterVec
	RateLimitWait      prometheus.Histogram
	LatestChainBlock   prometheus.Gauge
	LastScannedBlock   prometheus.Gauge

	// Connection and error metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Sink metrics
	SinkDeliveriesTotal *prometheus.CounterVec
	SinkDuration        *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total number of scans by outcome",
			},
			[]string{"outcome"},
		),

		ScanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Wall time of complete scans",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),

		RangesScannedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ranges_scanned_total",
				Help:      "Total number of block ranges fully fetched",
			},
		),

		LogsFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logs_fetched_total",
				Help:      "Total number of logs returned by the node",
			},
			[]string{"event_name"},
		),

		FetchRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_retries_total",
				Help:      "Total number of retried log fetches",
			},
			[]string{"event_name"},
		),

		RateLimitWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limit_wait_seconds",
				Help:      "Time spent waiting for the request rate limiter",
				Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),

		LatestChainBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latest_chain_block",
				Help:      "Latest block number reported by the node",
			},
		),

		LastScannedBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_scanned_block",
				Help:      "Upper bound of the last successful scan",
			},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of connection errors to RPC nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of RPC requests made to nodes",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "Duration of RPC requests to nodes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "database_operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "database_operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		SinkDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_deliveries_total",
				Help:      "Total number of scan result deliveries by sink",
			},
			[]string{"sink", "status"},
		),

		SinkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_delivery_duration_seconds",
				Help:      "Duration of scan result deliveries",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health",
				Help:      "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),
	}
}

// RecordScan records a finished scan
func (m *PrometheusMetrics) RecordScan(outcome string, duration time.Duration) {
	m.ScansTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.ScanDuration.Observe(duration.Seconds())
	}
}

// RecordRangeScanned records a fully fetched block range
func (m *PrometheusMetrics) RecordRangeScanned() {
	m.RangesScannedTotal.Inc()
}

// RecordLogsFetched records logs returned for one event type
func (m *PrometheusMetrics) RecordLogsFetched(eventName string, count int) {
	m.LogsFetchedTotal.WithLabelValues(eventName).Add(float64(count))
}

// RecordFetchRetry records a retried log fetch
func (m *PrometheusMetrics) RecordFetchRetry(eventName string) {
	m.FetchRetriesTotal.WithLabelValues(eventName).Inc()
}

// RecordRateLimitWait records time spent in the rate limiter
func (m *PrometheusMetrics) RecordRateLimitWait(wait time.Duration) {
	m.RateLimitWait.Observe(wait.Seconds())
}

// UpdateLatestChainBlock updates the latest chain block metric
func (m *PrometheusMetrics) UpdateLatestChainBlock(block uint64) {
	m.LatestChainBlock.Set(float64(block))
}

// UpdateLastScannedBlock updates the last scanned block metric
func (m *PrometheusMetrics) UpdateLastScannedBlock(block uint64) {
	m.LastScannedBlock.Set(float64(block))
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordSinkDelivery records a delivery attempt to a result sink
func (m *PrometheusMetrics) RecordSinkDelivery(sink, status string, duration time.Duration) {
	m.SinkDeliveriesTotal.WithLabelValues(sink, status).Inc()
	m.SinkDuration.WithLabelValues(sink).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

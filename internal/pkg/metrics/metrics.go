// Package metrics provides prometheus metrics for uploads, retention and reports
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for the dataset pipeline
type Metrics struct {
	registry *prometheus.Registry

	// Upload metrics
	uploadsTotal *prometheus.CounterVec
	uploadRows   prometheus.Histogram
	uploadBytes  prometheus.Histogram

	// Retention metrics
	evictionsTotal     prometheus.Counter
	blobDeleteFailures prometheus.Counter
	retentionRunsTotal *prometheus.CounterVec

	// Report metrics
	reportRendersTotal   *prometheus.CounterVec
	reportRenderDuration prometheus.Histogram

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates and registers the metrics on registry
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNop returns metrics registered on a private registry, for tests and
// one-off CLI runs.
func NewNop() *Metrics {
	m, _ := New(prometheus.NewRegistry())
	return m
}

// Registry returns the registry the metrics were registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) initMetrics() {
	m.uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemviz_uploads_total",
			Help: "Total number of dataset uploads by outcome",
		},
		[]string{"status"}, // status: success, invalid, too_large, throttled, error
	)

	m.uploadRows = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chemviz_upload_rows",
		Help:    "Equipment rows per accepted upload",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	m.uploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chemviz_upload_bytes",
		Help:    "Size of uploaded CSV files",
		Buckets: prometheus.ExponentialBuckets(256, 4, 9), // 256B to ~16MB
	})

	m.evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chemviz_retention_evictions_total",
		Help: "Datasets removed by the retention policy",
	})

	m.blobDeleteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chemviz_retention_blob_delete_failures_total",
		Help: "Stored uploads that could not be removed after their dataset was evicted",
	})

	m.retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemviz_retention_runs_total",
			Help: "Retention enforcement runs by outcome",
		},
		[]string{"status"},
	)

	m.reportRendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemviz_report_renders_total",
			Help: "PDF report renders by outcome",
		},
		[]string{"status"},
	)

	m.reportRenderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chemviz_report_render_duration_seconds",
		Help:    "Time taken to render a PDF report",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemviz_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chemviz_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.uploadsTotal.Describe(ch)
	m.uploadRows.Describe(ch)
	m.uploadBytes.Describe(ch)
	m.evictionsTotal.Describe(ch)
	m.blobDeleteFailures.Describe(ch)
	m.retentionRunsTotal.Describe(ch)
	m.reportRendersTotal.Describe(ch)
	m.reportRenderDuration.Describe(ch)
	m.httpRequestsTotal.Describe(ch)
	m.httpRequestDuration.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.uploadsTotal.Collect(ch)
	m.uploadRows.Collect(ch)
	m.uploadBytes.Collect(ch)
	m.evictionsTotal.Collect(ch)
	m.blobDeleteFailures.Collect(ch)
	m.retentionRunsTotal.Collect(ch)
	m.reportRendersTotal.Collect(ch)
	m.reportRenderDuration.Collect(ch)
	m.httpRequestsTotal.Collect(ch)
	m.httpRequestDuration.Collect(ch)
}

// RecordUpload records an upload outcome. rows and size are only observed
// for successful uploads.
func (m *Metrics) RecordUpload(status string, rows int, size int64) {
	m.uploadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.uploadRows.Observe(float64(rows))
		m.uploadBytes.Observe(float64(size))
	}
}

// RecordEviction counts one evicted dataset
func (m *Metrics) RecordEviction() {
	m.evictionsTotal.Inc()
}

// RecordBlobDeleteFailure counts a blob left behind after eviction
func (m *Metrics) RecordBlobDeleteFailure() {
	m.blobDeleteFailures.Inc()
}

// RecordRetentionRun records the outcome of one Enforce call
func (m *Metrics) RecordRetentionRun(status string) {
	m.retentionRunsTotal.WithLabelValues(status).Inc()
}

// RecordReportRender records a render outcome and its duration
func (m *Metrics) RecordReportRender(status string, d time.Duration) {
	m.reportRendersTotal.WithLabelValues(status).Inc()
	m.reportRenderDuration.Observe(d.Seconds())
}

// RecordHTTPRequest records a served request
func (m *Metrics) RecordHTTPRequest(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

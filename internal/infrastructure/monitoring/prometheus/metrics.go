package prometheus

import (
	"fmt"
	"time"
)

// AppMetrics holds all application metrics, grouped by layer. A single
// instance is created at startup and shared via dependency injection.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPRequestSize     HistogramVec
	HTTPResponseSize    HistogramVec
	HTTPActiveRequests  GaugeVec

	// Detection engine layer
	AnalysesTotal      CounterVec
	AnalysisDuration   HistogramVec
	SentencesPerReport HistogramVec
	DefectsDetected    CounterVec
	DefectConfidence   HistogramVec
	TaxonomyRuleCount  GaugeVec

	// Document extraction layer
	ExtractionsTotal   CounterVec
	ExtractionDuration HistogramVec

	// Classifier layer
	ClassifierRequestsTotal CounterVec
	ClassifierLatency       SummaryVec
	ClassifierCacheHits     CounterVec
	ClassifierCacheMisses   CounterVec

	// Worker layer
	WorkerTasksTotal   CounterVec
	WorkerTaskDuration HistogramVec
	WorkerQueueDepth   GaugeVec
	WorkerActive       GaugeVec
	WorkerRetries      CounterVec

	// Infrastructure layer
	DBConnectionPoolSize   GaugeVec
	DBConnectionPoolActive GaugeVec
	DBQueryDuration        HistogramVec
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	SearchRequestDuration  HistogramVec
	SearchIndexTotal       CounterVec
	ObjectStoreOpsTotal    CounterVec
	MessagePublishTotal    CounterVec
	MessageProcessDuration HistogramVec

	// System health
	ServiceUptime     GaugeVec
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Default buckets per concern.
var (
	DefaultHTTPDurationBuckets     = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultAnalysisDurationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultSentenceCountBuckets    = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}
	DefaultConfidenceBuckets       = []float64{.25, .4, .55, .7, .85, 1}
	DefaultSizeBuckets             = []float64{100, 1000, 10000, 100000, 1000000, 10000000}
	DefaultDBDurationBuckets       = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewAppMetrics registers every application metric on the collector and
// returns the populated struct.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// HTTP
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.HTTPRequestSize = collector.RegisterHistogram("http_request_size_bytes", "HTTP request size", DefaultSizeBuckets, "method", "path")
	m.HTTPResponseSize = collector.RegisterHistogram("http_response_size_bytes", "HTTP response size", DefaultSizeBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests", "Active HTTP requests", "method")

	// Detection engine
	m.AnalysesTotal = collector.RegisterCounter("analyses_total", "Completed defect analyses", "mode", "status")
	m.AnalysisDuration = collector.RegisterHistogram("analysis_duration_seconds", "Defect analysis duration", DefaultAnalysisDurationBuckets, "mode")
	m.SentencesPerReport = collector.RegisterHistogram("analysis_sentences", "Sentences per analyzed report", DefaultSentenceCountBuckets)
	m.DefectsDetected = collector.RegisterCounter("defects_detected_total", "Detected defects", "category", "severity")
	m.DefectConfidence = collector.RegisterHistogram("defect_confidence", "Confidence of detected defects", DefaultConfidenceBuckets, "category")
	m.TaxonomyRuleCount = collector.RegisterGauge("taxonomy_rules", "Active taxonomy rules", "category")

	// Extraction
	m.ExtractionsTotal = collector.RegisterCounter("extractions_total", "Document text extractions", "format", "status")
	m.ExtractionDuration = collector.RegisterHistogram("extraction_duration_seconds", "Document text extraction duration", DefaultHTTPDurationBuckets, "format")

	// Classifier
	m.ClassifierRequestsTotal = collector.RegisterCounter("classifier_requests_total", "Classifier scoring requests", "provider", "status")
	m.ClassifierLatency = collector.RegisterSummary("classifier_latency_seconds", "Classifier scoring latency", nil, "provider")
	m.ClassifierCacheHits = collector.RegisterCounter("classifier_cache_hits_total", "Classifier score cache hits", "provider")
	m.ClassifierCacheMisses = collector.RegisterCounter("classifier_cache_misses_total", "Classifier score cache misses", "provider")

	// Worker
	m.WorkerTasksTotal = collector.RegisterCounter("worker_tasks_total", "Worker tasks processed", "topic", "status")
	m.WorkerTaskDuration = collector.RegisterHistogram("worker_task_duration_seconds", "Worker task duration", DefaultAnalysisDurationBuckets, "topic")
	m.WorkerQueueDepth = collector.RegisterGauge("worker_queue_depth", "Worker queue depth", "topic")
	m.WorkerActive = collector.RegisterGauge("worker_active", "Active worker goroutines", "topic")
	m.WorkerRetries = collector.RegisterCounter("worker_retries_total", "Worker task retries", "topic", "reason")

	// Infrastructure
	m.DBConnectionPoolSize = collector.RegisterGauge("db_pool_size", "Database connection pool size", "db")
	m.DBConnectionPoolActive = collector.RegisterGauge("db_pool_active", "Database active connections", "db")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "db", "operation")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.SearchRequestDuration = collector.RegisterHistogram("search_request_duration_seconds", "Search request duration", DefaultHTTPDurationBuckets, "operation")
	m.SearchIndexTotal = collector.RegisterCounter("search_index_total", "Search index operations", "status")
	m.ObjectStoreOpsTotal = collector.RegisterCounter("object_store_ops_total", "Object storage operations", "operation", "status")
	m.MessagePublishTotal = collector.RegisterCounter("mq_publish_total", "Messages published", "topic", "status")
	m.MessageProcessDuration = collector.RegisterHistogram("mq_process_duration_seconds", "Message processing duration", DefaultHTTPDurationBuckets, "topic")

	// System health
	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Service uptime", "service")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type", "severity")

	return m
}

// RecordHTTPRequest records the standard per-request HTTP metrics.
func RecordHTTPRequest(metrics *AppMetrics, method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	status := fmt.Sprintf("%d", statusCode)
	metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	metrics.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordAnalysis records one completed (or failed) analysis run.
func RecordAnalysis(metrics *AppMetrics, mode string, success bool, duration time.Duration, sentences int) {
	status := "success"
	if !success {
		status = "failure"
	}
	metrics.AnalysesTotal.WithLabelValues(mode, status).Inc()
	metrics.AnalysisDuration.WithLabelValues(mode).Observe(duration.Seconds())
	metrics.SentencesPerReport.WithLabelValues().Observe(float64(sentences))
}

// RecordDefect records one detected defect with its confidence.
func RecordDefect(metrics *AppMetrics, category, severity string, confidence float64) {
	metrics.DefectsDetected.WithLabelValues(category, severity).Inc()
	metrics.DefectConfidence.WithLabelValues(category).Observe(confidence)
}

// RecordExtraction records a document text extraction attempt.
func RecordExtraction(metrics *AppMetrics, format string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ExtractionsTotal.WithLabelValues(format, status).Inc()
	metrics.ExtractionDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// RecordClassifierCall records a classifier scoring round trip.
func RecordClassifierCall(metrics *AppMetrics, provider string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ClassifierRequestsTotal.WithLabelValues(provider, status).Inc()
	metrics.ClassifierLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration and error.
func RecordDBQuery(metrics *AppMetrics, db, operation string, duration time.Duration, err error) {
	metrics.DBQueryDuration.WithLabelValues(db, operation).Observe(duration.Seconds())
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(db, "query_error", "error").Inc()
	}
}

// RecordCacheAccess records a cache hit or miss.
func RecordCacheAccess(metrics *AppMetrics, cache string, hit bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		metrics.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordError increments the error counter for a component.
func RecordError(metrics *AppMetrics, component, errorType, severity string) {
	metrics.ErrorsTotal.WithLabelValues(component, errorType, severity).Inc()
}

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/prometheus"
)

// MetricsMiddleware records request counts, latency and sizes into
// AppMetrics. The path label is the chi route pattern, not the raw URL,
// so IDs do not explode label cardinality.
type MetricsMiddleware struct {
	metrics *prometheus.AppMetrics
}

// NewMetricsMiddleware builds the recorder.
func NewMetricsMiddleware(metrics *prometheus.AppMetrics) *MetricsMiddleware {
	return &MetricsMiddleware{metrics: metrics}
}

// Handler is the middleware function.
func (m *MetricsMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.HTTPActiveRequests.WithLabelValues(r.Method).Inc()
		defer m.metrics.HTTPActiveRequests.WithLabelValues(r.Method).Dec()

		start := time.Now()
		rec := newResponseRecorder(w)
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		prometheus.RecordHTTPRequest(m.metrics, r.Method, path, rec.status,
			time.Since(start), r.ContentLength, rec.bytes)
	})
}

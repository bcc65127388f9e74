// Package middleware holds the HTTP middleware stack: request logging,
// CORS, per-client rate limiting, and metrics recording.
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
)

// LoggingConfig tunes the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are not logged; probes and metrics scrapes are noise.
	SkipPaths []string

	// SlowThreshold promotes requests above it to warning level.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig skips probe endpoints and flags requests over 3s.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/health", "/health/live", "/health/ready", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// responseRecorder captures the status code and bytes written.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (w *responseRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (w *responseRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs one line per completed request, leveled by the
// response status.
type LoggingMiddleware struct {
	logger logging.Logger
	cfg    LoggingConfig
	skip   map[string]struct{}
}

// NewLoggingMiddleware builds the request logger.
func NewLoggingMiddleware(logger logging.Logger, cfg LoggingConfig) *LoggingMiddleware {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}
	return &LoggingMiddleware{logger: logger, cfg: cfg, skip: skip}
}

// Handler is the middleware function.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := newResponseRecorder(w)
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		fields := []logging.Field{
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Duration("duration", elapsed),
			logging.Int64("bytes", rec.bytes),
			logging.String("remote_addr", r.RemoteAddr),
			logging.String("request_id", chimw.GetReqID(r.Context())),
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			m.logger.Error("http request", fields...)
		case rec.status >= http.StatusBadRequest:
			m.logger.Warn("http request", fields...)
		case m.cfg.SlowThreshold > 0 && elapsed >= m.cfg.SlowThreshold:
			m.logger.Warn("slow http request", fields...)
		default:
			m.logger.Info("http request", fields...)
		}
	})
}

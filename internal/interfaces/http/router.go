// Package http assembles the REST surface: the chi route tree, the
// middleware chain and the server lifecycle.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/prometheus"
	"github.com/defectwise/defectwise/internal/interfaces/http/handlers"
	"github.com/defectwise/defectwise/internal/interfaces/http/middleware"
)

// RouterDeps carries everything the route tree mounts. Analysis, Reporting
// and Taxonomy handlers are required; the rest are optional and leave their
// endpoints or middleware out when absent.
type RouterDeps struct {
	Analysis  *handlers.AnalysisHandler
	Reporting *handlers.ReportingHandler
	Taxonomy  *handlers.TaxonomyHandler
	Health    *handlers.HealthHandler

	// MetricsHandler serves GET /metrics, typically the collector's
	// promhttp handler.
	MetricsHandler http.Handler

	Metrics *prometheus.AppMetrics
	Logger  logging.Logger
}

// NewRouter builds the full route tree with the standard middleware chain.
func NewRouter(cfg config.ServerConfig, deps RouterDeps) *chi.Mux {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger, middleware.DefaultLoggingConfig()).Handler)
	r.Use(chimw.Recoverer)

	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics).Handler)
	}
	if cfg.EnableCORS {
		r.Use(middleware.NewCORSMiddleware(middleware.DefaultCORSConfig()).Handler)
	}
	if cfg.MaxBodySize > 0 {
		r.Use(bodyLimit(cfg.MaxBodySize))
	}

	if deps.Health != nil {
		r.Get("/health", deps.Health.Detail)
		r.Get("/health/live", deps.Health.Live)
		r.Get("/health/ready", deps.Health.Ready)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimitRPS > 0 {
			rl := middleware.DefaultRateLimitConfig()
			rl.RequestsPerSecond = cfg.RateLimitRPS
			rl.Burst = cfg.RateLimitBurst
			api.Use(middleware.NewRateLimitMiddleware(rl).Handler)
		}

		api.Route("/analyses", func(ar chi.Router) {
			ar.Post("/", deps.Analysis.Create)
			ar.Post("/upload", deps.Analysis.Upload)
			ar.Post("/submit", deps.Analysis.Submit)
			ar.Get("/", deps.Analysis.List)
			ar.Get("/{analysisID}", deps.Analysis.Get)
			ar.Delete("/{analysisID}", deps.Analysis.Delete)
			ar.Post("/{analysisID}/reanalyze", deps.Analysis.Reanalyze)
			ar.Get("/{analysisID}/export", deps.Reporting.Export)
		})

		api.Get("/defects/search", deps.Reporting.Search)
		api.Get("/stats/dashboard", deps.Reporting.Dashboard)
		api.Get("/taxonomy", deps.Taxonomy.Get)
	})

	return r
}

// bodyLimit rejects request bodies larger than maxBytes.
func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

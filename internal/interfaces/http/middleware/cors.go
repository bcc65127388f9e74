package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the API. "*" allows
	// every origin; entries like "*.example.com" match subdomains.
	AllowedOrigins []string

	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool

	// MaxAge is how long, in seconds, browsers may cache a preflight.
	MaxAge int
}

// DefaultCORSConfig allows no origins until configured; the method and
// header lists cover the whole API surface.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		MaxAge: 86400,
	}
}

// CORSMiddleware answers preflights and stamps CORS headers on responses
// to allowed origins. Disallowed origins pass through without headers and
// the browser rejects the response.
type CORSMiddleware struct {
	cfg       CORSConfig
	exact     map[string]struct{}
	suffixes  []string
	allowAll  bool
	methods   string
	headers   string
	exposed   string
	maxAgeStr string
}

// NewCORSMiddleware precomputes origin matching and joined header values.
func NewCORSMiddleware(cfg CORSConfig) *CORSMiddleware {
	m := &CORSMiddleware{
		cfg:       cfg,
		exact:     make(map[string]struct{}),
		methods:   strings.Join(cfg.AllowedMethods, ", "),
		headers:   strings.Join(cfg.AllowedHeaders, ", "),
		exposed:   strings.Join(cfg.ExposedHeaders, ", "),
		maxAgeStr: strconv.Itoa(cfg.MaxAge),
	}
	for _, origin := range cfg.AllowedOrigins {
		switch {
		case origin == "*":
			m.allowAll = true
		case strings.HasPrefix(origin, "*."):
			m.suffixes = append(m.suffixes, strings.ToLower(origin[1:]))
		default:
			m.exact[strings.ToLower(origin)] = struct{}{}
		}
	}
	return m
}

func (m *CORSMiddleware) allowed(origin string) bool {
	if m.allowAll {
		return true
	}
	origin = strings.ToLower(origin)
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}

// Handler is the middleware function.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !m.allowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		if m.allowAll && !m.cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		if m.cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", m.methods)
			h.Set("Access-Control-Allow-Headers", m.headers)
			if m.cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", m.maxAgeStr)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if m.exposed != "" {
			h.Set("Access-Control-Expose-Headers", m.exposed)
		}
		next.ServeHTTP(w, r)
	})
}

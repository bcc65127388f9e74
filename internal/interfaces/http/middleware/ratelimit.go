package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-client limiter.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64

	// Burst is how far a client may run ahead of the sustained rate.
	Burst int

	// KeyFunc derives the client key; defaults to the client IP.
	KeyFunc func(r *http.Request) string

	// SkipPaths bypass limiting entirely.
	SkipPaths []string

	// IdleTTL evicts limiters for clients not seen within it.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig allows 10 rps with a burst of 20 per client and
// leaves probe endpoints unmetered.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		SkipPaths:         []string{"/health", "/health/live", "/health/ready", "/metrics"},
		IdleTTL:           5 * time.Minute,
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware keeps one token bucket per client key and answers
// 429 when a bucket is empty. Idle buckets are evicted lazily on the next
// pass so the map stays bounded without a background goroutine.
type RateLimitMiddleware struct {
	cfg     RateLimitConfig
	keyFunc func(r *http.Request) string
	skip    map[string]struct{}

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

// NewRateLimitMiddleware builds the limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimitConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond) * 2
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = clientIP
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}
	return &RateLimitMiddleware{
		cfg:       cfg,
		keyFunc:   keyFunc,
		skip:      skip,
		clients:   make(map[string]*clientLimiter),
		lastSweep: time.Now(),
	}
}

func (m *RateLimitMiddleware) limiterFor(key string) *rate.Limiter {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= m.cfg.IdleTTL {
		cutoff := now.Add(-m.cfg.IdleTTL)
		for k, c := range m.clients {
			if c.lastSeen.Before(cutoff) {
				delete(m.clients, k)
			}
		}
		m.lastSweep = now
	}

	c, ok := m.clients[key]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(m.cfg.RequestsPerSecond), m.cfg.Burst),
		}
		m.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

// ClientCount reports the number of tracked clients.
func (m *RateLimitMiddleware) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Handler is the middleware function.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		limiter := m.limiterFor(m.keyFunc(r))
		tokens := int(limiter.Tokens())
		if tokens < 0 {
			tokens = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.cfg.Burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(tokens))

		if !limiter.Allow() {
			w.Header().Set("X-RateLimit-Reset",
				strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":{"code":"COMMON_007","message":"rate limit exceeded"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Package auth provides the request gate applied in front of the API:
// CORS, IP whitelisting, API key checks and per-caller rate limiting.
package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"activityd/pkg/logger"
	"activityd/pkg/utils"
)

// SecConfig is the flattened security configuration for the gate.
// Empty BackendKeys disables API key auth entirely (open instance).
type SecConfig struct {
	AllowedOrigins []string
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	RPS            float64
	Burst          int
}

// limiters hands out one token bucket per caller key. Rate and burst
// are resolved from SecConfig once at construction.
type limiters struct {
	mu    sync.Mutex
	pool  map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func newLimiters(cfg SecConfig) *limiters {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &limiters{pool: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (l *limiters) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.pool[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.pool[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// exemptPath reports paths probes and scrapers may hit unauthenticated.
func exemptPath(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// Middleware wires the full request gate around next. Rate limiting is
// keyed by API key when present, client IP otherwise.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	lims := newLimiters(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(r)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					utils.JSONError(w, http.StatusForbidden, "forbidden")
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", r.URL.Path)
					return
				}
			}

			if exemptPath(r) {
				next.ServeHTTP(w, r)
				return
			}

			key, hasKey := apiKey(r)
			if len(cfg.BackendKeys) > 0 {
				if !hasKey {
					utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
					logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
					return
				}
				if _, ok := cfg.BackendKeys[key]; !ok {
					utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
					logger.Warn("request_unauthorized", "reason", "unknown_key", "path", r.URL.Path)
					return
				}
			}

			limKey := key
			if limKey == "" {
				limKey = clientIP(r)
			}
			if !lims.allow(limKey) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "has_api_key", hasKey, "path", r.URL.Path)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func apiKey(r *http.Request) (string, bool) {
	// prefer authorization: bearer <key>, fallback to x-api-key
	auth := r.Header.Get("Authorization")
	var key string
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		key = strings.TrimSpace(auth[7:])
	}
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	return key, key != ""
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

// Package auth is the request perimeter: basic-auth credential check, CORS,
// IP whitelisting and per-caller rate limiting.
package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/utils"
)

// SecConfig drives authentication, CORS and rate limiting behavior.
type SecConfig struct {
	AdminUsername  string
	AdminPassword  string
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
}

// open reports whether no credential pair is configured, in which case the
// credential check is skipped entirely.
func (c SecConfig) open() bool {
	return c.AdminUsername == "" && c.AdminPassword == ""
}

func AuthenticateRequestMiddleware(cfg SecConfig) func(http.Handler) http.Handler {
	// rate limiters keyed by username or remote ip
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// ip whitelist
			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(r)
				logger.Debug("ip_check", "ip", ip)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					utils.JSONError(w, http.StatusForbidden, "forbidden")
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", r.URL.Path)
					return
				}
			}

			// allow unauthenticated health checks for probes
			if (r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics") && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIP(r)
			if !cfg.open() {
				user, pass, ok := r.BasicAuth()
				if !ok || !credentialsMatch(cfg, user, pass) {
					w.Header().Set("WWW-Authenticate", `Basic realm="chat-sync"`)
					utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
					logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
					return
				}
				key = user
			}

			// rate limiting
			if !limiters.Allow(key) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "path", r.URL.Path)
				return
			}

			logger.Debug("request_allowed", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}

func credentialsMatch(cfg SecConfig, user, pass string) bool {
	u := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AdminUsername))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.AdminPassword))
	return u == 1 && p == 1
}

func originAllowed(origin string, allowed []string) bool {
	// check if origin is allowed
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
	// get client ip from remoteaddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipWhitelisted(ip string, list []string) bool {
	// check if ip is in whitelist
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}

// Package middleware holds the HTTP middleware wrapped around the router's
// endpoints.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/security"
)

// SecurityConfig configures the security middleware
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`

	// WebhookRateLimit is the number of webhook calls accepted per client
	// and channel within WebhookRateWindow. Zero disables the limit.
	WebhookRateLimit  int           `yaml:"webhook_rate_limit"`
	WebhookRateWindow time.Duration `yaml:"webhook_rate_window"`
}

// SecurityMiddleware combines authentication, rate limiting and response headers
type SecurityMiddleware struct {
	auth   *security.Authenticator
	config SecurityConfig
	logger *logrus.Logger
}

// NewSecurityMiddleware creates the security middleware stack
func NewSecurityMiddleware(config SecurityConfig, auth *security.Authenticator, logger *logrus.Logger) *SecurityMiddleware {
	if config.WebhookRateWindow <= 0 {
		config.WebhookRateWindow = time.Minute
	}
	return &SecurityMiddleware{auth: auth, config: config, logger: logger}
}

// Dashboard guards the operator endpoints with API key or JWT auth
func (s *SecurityMiddleware) Dashboard() func(http.Handler) http.Handler {
	return s.auth.Middleware()
}

// Webhook rate limits per client and channel, then checks the webhook secret
func (s *SecurityMiddleware) Webhook() func(http.Handler) http.Handler {
	verify := s.auth.WebhookMiddleware()
	if s.config.WebhookRateLimit <= 0 {
		return verify
	}

	limit := httprate.Limit(
		s.config.WebhookRateLimit,
		s.config.WebhookRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(s.rateLimitExceeded),
	)
	return func(next http.Handler) http.Handler {
		return limit(verify(next))
	}
}

// Headers adds security headers to every response
func (s *SecurityMiddleware) Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Server", "crm-reply-router")
		if id := r.Header.Get("X-Request-ID"); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS answers preflight requests and tags responses for allowed origins
func (s *SecurityMiddleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Content-Type", "Authorization", "X-API-Key", security.WebhookSecretHeader,
			}, ", "))
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *SecurityMiddleware) originAllowed(origin string) bool {
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *SecurityMiddleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	s.logger.WithFields(logrus.Fields{
		"path":      r.URL.Path,
		"remote_ip": security.ClientIP(r),
	}).Warn("Webhook rate limit exceeded")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(int(s.config.WebhookRateWindow.Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": "rate limit exceeded",
			"type":    "rate_limit_error",
			"code":    http.StatusTooManyRequests,
		},
		"timestamp": time.Now().Unix(),
	})
}

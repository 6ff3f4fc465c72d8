// Package security authenticates dashboard callers and inbound webhooks.
package security

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// WebhookSecretHeader carries the shared secret on inbound webhooks
const WebhookSecretHeader = "X-Webhook-Secret"

const issuer = "crm-reply-router"

var (
	ErrMissingToken         = errors.New("missing authentication token")
	ErrInvalidToken         = errors.New("invalid authentication token")
	ErrInvalidWebhookSecret = errors.New("invalid webhook secret")
)

// AuthInfo describes an authenticated dashboard caller
type AuthInfo struct {
	Subject     string     `json:"subject"`
	Method      string     `json:"method"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Claims are the JWT claims issued to dashboard users
type Claims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration
type Config struct {
	RequireAuth   bool          `yaml:"require_auth"`
	APIKeys       []string      `yaml:"api_keys"`
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiry     time.Duration `yaml:"jwt_expiry"`
	WebhookSecret string        `yaml:"webhook_secret"`
}

// Authenticator validates API keys, HS256 JWTs and webhook secrets
type Authenticator struct {
	config Config
	logger *logrus.Logger
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(config Config, logger *logrus.Logger) *Authenticator {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	return &Authenticator{config: config, logger: logger}
}

// Authenticate accepts either a configured API key or a valid JWT
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	if info, err := a.ValidateAPIKey(token); err == nil {
		return info, nil
	}

	claims, err := a.ValidateJWT(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	info := &AuthInfo{
		Subject:     claims.Subject,
		Method:      "jwt",
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		expires := claims.ExpiresAt.Time
		info.ExpiresAt = &expires
	}
	return info, nil
}

// ValidateAPIKey compares apiKey against every configured key in constant time
func (a *Authenticator) ValidateAPIKey(apiKey string) (*AuthInfo, error) {
	if apiKey == "" {
		return nil, ErrMissingToken
	}

	for _, valid := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(valid)) == 1 {
			return &AuthInfo{
				Subject:     "key_" + maskAPIKey(apiKey),
				Method:      "api_key",
				Permissions: []string{"dashboard:read", "dashboard:write"},
			}, nil
		}
	}
	return nil, ErrInvalidToken
}

// GenerateJWT issues a dashboard token for subject
func (a *Authenticator) GenerateJWT(subject string, permissions []string) (string, error) {
	if a.config.JWTSecret == "" {
		return "", errors.New("jwt secret is not configured")
	}

	now := time.Now()
	claims := &Claims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.JWTSecret))
}

// ValidateJWT parses an HS256 token signed with the configured secret
func (a *Authenticator) ValidateJWT(tokenString string) (*Claims, error) {
	if a.config.JWTSecret == "" {
		return nil, errors.New("jwt secret is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.JWTSecret), nil
	}, jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyWebhook checks the shared secret header. An empty configured
// secret accepts every webhook.
func (a *Authenticator) VerifyWebhook(r *http.Request) error {
	if a.config.WebhookSecret == "" {
		return nil
	}
	got := r.Header.Get(WebhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(a.config.WebhookSecret)) != 1 {
		return ErrInvalidWebhookSecret
	}
	return nil
}

// Middleware guards dashboard endpoints
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.config.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}

			info, err := a.Authenticate(r.Context(), extractToken(r))
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"error":     err.Error(),
					"path":      r.URL.Path,
					"method":    r.Method,
					"remote_ip": ClientIP(r),
				}).Warn("Authentication failed")
				writeUnauthorized(w, err.Error())
				return
			}

			a.logger.WithFields(logrus.Fields{
				"subject": info.Subject,
				"method":  info.Method,
				"path":    r.URL.Path,
			}).Debug("Authentication successful")

			next.ServeHTTP(w, r.WithContext(WithAuthInfo(r.Context(), info)))
		})
	}
}

// WebhookMiddleware guards webhook endpoints with the shared secret
func (a *Authenticator) WebhookMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := a.VerifyWebhook(r); err != nil {
				a.logger.WithFields(logrus.Fields{
					"path":      r.URL.Path,
					"remote_ip": ClientIP(r),
				}).Warn("Webhook rejected")
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type contextKey struct{}

// WithAuthInfo stores info on ctx
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// GetAuthInfo extracts authentication info from a request context
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(contextKey{}).(*AuthInfo)
	return info, ok
}

// ClientIP returns the caller address, preferring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i != -1 {
		ip = ip[:i]
	}
	return ip
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:4] + "****" + apiKey[len(apiKey)-4:]
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "authentication_error",
			"code":    http.StatusUnauthorized,
		},
		"timestamp": time.Now().Unix(),
	})
}

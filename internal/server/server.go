package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/api"
	"github.com/tributary-ai/crm-reply-router/internal/alerting"
	"github.com/tributary-ai/crm-reply-router/internal/middleware"
	"github.com/tributary-ai/crm-reply-router/internal/security"
	"github.com/tributary-ai/crm-reply-router/internal/telemetry"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

const defaultAlertWindow = 24 * time.Hour

// Router produces replies and routing decisions
type Router interface {
	ExecuteWithFallback(ctx context.Context, msg types.MessageContext) types.Result
	Decide(msg types.MessageContext) types.RoutingDecision
}

// HealthReporter exposes provider health
type HealthReporter interface {
	Snapshot() map[types.ProviderID]types.ProviderHealth
	BestProvider() types.ProviderID
	CheckAllAPIs(ctx context.Context) map[types.ProviderID]types.ProviderHealth
}

// AlertStore exposes the alert log
type AlertStore interface {
	Alerts(window time.Duration) []types.Alert
	Active() []types.Alert
	Resolve(id string) (types.Alert, error)
}

// MetricsSource exposes collected metrics
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]telemetry.MetricSummary, error)
}

// Dependencies are the collaborators behind the HTTP surface. Health, Alerts
// and Metrics are optional; their endpoints answer 503 when absent.
type Dependencies struct {
	Router  Router
	Health  HealthReporter
	Alerts  AlertStore
	Metrics MetricsSource
	Auth    *security.Authenticator
}

// Config holds server configuration
type Config struct {
	Port             string                    `yaml:"port"`
	ReadTimeout      time.Duration             `yaml:"read_timeout"`
	WriteTimeout     time.Duration             `yaml:"write_timeout"`
	MaxHeaderBytes   int                       `yaml:"max_header_bytes"`
	MaxBodyBytes     int64                     `yaml:"max_body_bytes"`
	ValidateRequests bool                      `yaml:"validate_requests"`
	Security         middleware.SecurityConfig `yaml:"security"`
}

// Server represents the HTTP server
type Server struct {
	deps       Dependencies
	config     *Config
	logger     *logrus.Logger
	security   *middleware.SecurityMiddleware
	validation *middleware.ValidationMiddleware
	handler    http.Handler
	httpServer *http.Server
	now        func() time.Time
}

// NewServer creates a new server instance
func NewServer(deps Dependencies, config *Config, logger *logrus.Logger) (*Server, error) {
	if deps.Router == nil {
		return nil, errors.New("router is required")
	}
	if deps.Auth == nil {
		deps.Auth = security.NewAuthenticator(security.Config{}, logger)
	}

	s := &Server{
		deps:     deps,
		config:   config,
		logger:   logger,
		security: middleware.NewSecurityMiddleware(config.Security, deps.Auth, logger),
		now:      time.Now,
	}

	if config.ValidateRequests {
		validation, err := middleware.NewValidationMiddleware(api.OpenAPI, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize request validation: %w", err)
		}
		s.validation = validation
	}

	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the fully wired HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting CRM reply router")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping CRM reply router")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.security.Headers)
	r.Use(s.loggingMiddleware)
	r.Use(s.security.CORS)
	r.Use(s.contentTypeMiddleware)
	r.Use(s.bodyLimitMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()

	hooks := v1.PathPrefix("/webhooks").Subrouter()
	hooks.Use(s.security.Webhook())
	s.useValidation(hooks)
	hooks.HandleFunc("/{channel}", s.handleWebhook).Methods(http.MethodPost)

	dash := v1.NewRoute().Subrouter()
	dash.Use(s.security.Dashboard())
	s.useValidation(dash)
	dash.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods(http.MethodPost)
	dash.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	dash.HandleFunc("/health/check", s.handleHealthCheck).Methods(http.MethodPost)
	dash.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	dash.HandleFunc("/alerts/{id}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	dash.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	// Liveness (no /v1 prefix, no auth)
	r.HandleFunc("/health", s.handleLiveness).Methods(http.MethodGet)

	s.setupDocsRoutes(r)

	// Preflight for any path; CORS middleware writes the response
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (s *Server) useValidation(r *mux.Router) {
	if s.validation != nil {
		r.Use(s.validation.Middleware)
	}
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_ip":   security.ClientIP(r),
		}).Info("HTTP request")
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.ContentLength != 0 {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && !isJSON(contentType) {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.MaxBodyBytes > 0 && r.Body != nil {
			if r.ContentLength > s.config.MaxBodyBytes {
				s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func isJSON(contentType string) bool {
	return contentType == "application/json" || strings.HasPrefix(contentType, "application/json;")
}

// Handlers

// inboundMessage is the webhook payload. HourOfDay is a pointer so that an
// explicit midnight survives defaulting.
type inboundMessage struct {
	ID            string         `json:"id"`
	Sender        string         `json:"sender"`
	SenderName    string         `json:"sender_name"`
	Text          string         `json:"text"`
	UserValue     float64        `json:"user_value"`
	Intent        types.Intent   `json:"intent"`
	Urgency       types.Urgency  `json:"urgency"`
	Complexity    float64        `json:"complexity"`
	HourOfDay     *int           `json:"hour_of_day"`
	CreditBalance int            `json:"credit_balance"`
	Plan          types.PlanTier `json:"plan"`
}

func (s *Server) decodeMessage(r *http.Request, channel types.Channel) (types.MessageContext, error) {
	var in inboundMessage
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return types.MessageContext{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if in.Sender == "" || in.Text == "" {
		return types.MessageContext{}, errors.New("sender and text are required")
	}

	now := s.now()
	msg := types.MessageContext{
		ID:            in.ID,
		Channel:       channel,
		Sender:        in.Sender,
		SenderName:    in.SenderName,
		Text:          in.Text,
		UserValue:     in.UserValue,
		Intent:        in.Intent,
		Urgency:       in.Urgency,
		Complexity:    in.Complexity,
		HourOfDay:     now.Hour(),
		CreditBalance: in.CreditBalance,
		Plan:          in.Plan,
	}
	if in.HourOfDay != nil {
		msg.HourOfDay = *in.HourOfDay
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return msg.WithDefaults(now), nil
}

// handleWebhook routes one inbound message through the fallback chain. The
// chain always produces a reply, so the response is 200 even when every
// level failed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	channel := types.Channel(mux.Vars(r)["channel"])
	switch channel {
	case types.ChannelWhatsApp, types.ChannelInstagram, types.ChannelTelegram:
	default:
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown channel %q", channel))
		return
	}

	msg, err := s.decodeMessage(r, channel)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.deps.Router.ExecuteWithFallback(r.Context(), msg)

	s.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"channel":    channel,
		"method":     result.Method,
		"level":      result.Level,
		"attempts":   result.Attempts,
	}).Debug("Webhook handled")

	s.writeJSON(w, http.StatusOK, result)
}

// handleRoutingDecision returns the routing decision without executing it
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	msg, err := s.decodeMessage(r, "")
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Router.Decide(msg))
}

// handleHealth returns the last probe result per provider
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "health monitoring is disabled")
		return
	}
	s.writeHealth(w, s.deps.Health.Snapshot())
}

// handleHealthCheck probes every provider before answering
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "health monitoring is disabled")
		return
	}
	s.writeHealth(w, s.deps.Health.CheckAllAPIs(r.Context()))
}

func (s *Server) writeHealth(w http.ResponseWriter, snapshot map[types.ProviderID]types.ProviderHealth) {
	status := "healthy"
	for _, h := range snapshot {
		if h.Status != types.HealthHealthy {
			status = "degraded"
			break
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"providers":     snapshot,
		"best_provider": s.deps.Health.BestProvider(),
		"timestamp":     s.now().Unix(),
	})
}

// handleAlerts lists alerts raised within ?window= (default 24h), or only
// unresolved ones with ?active=true
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "alerting is disabled")
		return
	}

	query := r.URL.Query()
	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid active flag %q", raw))
			return
		}
		if active {
			alerts := s.deps.Alerts.Active()
			s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
			return
		}
	}

	window := defaultAlertWindow
	if raw := query.Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", raw))
			return
		}
		window = parsed
	}

	alerts := s.deps.Alerts.Alerts(window)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
		"window": window.String(),
	})
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "alerting is disabled")
		return
	}

	id := mux.Vars(r)["id"]
	alert, err := s.deps.Alerts.Resolve(id)
	if errors.Is(err, alerting.ErrAlertNotFound) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("alert %s not found", id))
		return
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "telemetry is disabled")
		return
	}

	metrics, err := s.deps.Metrics.Snapshot(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Metric collection failed")
		s.writeErrorResponse(w, http.StatusInternalServerError, "metric collection failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metrics":   metrics,
		"timestamp": s.now().Unix(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.now().Unix(),
	})
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

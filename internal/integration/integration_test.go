package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/crm-reply-router/internal/alerting"
	"github.com/tributary-ai/crm-reply-router/internal/credits"
	"github.com/tributary-ai/crm-reply-router/internal/health"
	"github.com/tributary-ai/crm-reply-router/internal/providers"
	"github.com/tributary-ai/crm-reply-router/internal/providers/basic"
	"github.com/tributary-ai/crm-reply-router/internal/providers/openai"
	"github.com/tributary-ai/crm-reply-router/internal/providers/template"
	"github.com/tributary-ai/crm-reply-router/internal/retry"
	"github.com/tributary-ai/crm-reply-router/internal/routing"
	"github.com/tributary-ai/crm-reply-router/internal/server"
	"github.com/tributary-ai/crm-reply-router/internal/telemetry"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// chatBackend is an OpenAI-compatible API whose availability can be toggled
type chatBackend struct {
	model string
	reply string
	down  atomic.Bool
	calls atomic.Int32
}

func (b *chatBackend) start(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if b.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-it",
			"object": "chat.completion",
			"model":  b.model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": b.reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 30, "completion_tokens": 15, "total_tokens": 45},
		})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if b.down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"` + b.model + `","object":"model"}]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	handler   http.Handler
	primary   *chatBackend
	secondary *chatBackend
	alerts    *alerting.Manager
	telemetry *telemetry.Provider
}

func newStack(t *testing.T) *stack {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := &stack{
		primary:   &chatBackend{model: "gpt-4o-mini", reply: "Olá Marina! Posso fechar o plano anual agora mesmo."},
		secondary: &chatBackend{model: "deepseek-chat", reply: "Olá! Enviamos as condições por aqui."},
	}
	primaryURL := s.primary.start(t).URL + "/v1"
	secondaryURL := s.secondary.start(t).URL + "/v1"

	s.telemetry = telemetry.Init(telemetry.Config{Enabled: true, ServiceName: "integration"})
	t.Cleanup(func() { s.telemetry.Shutdown(context.Background()) })
	metrics, err := telemetry.NewMetrics(s.telemetry.Meter)
	require.NoError(t, err)

	s.alerts = alerting.NewManager(alerting.DefaultThresholds(), logger, alerting.WithMetrics(metrics))

	primary := openai.NewOpenAIProvider(types.ProviderPrimaryAI, &openai.OpenAIConfig{
		APIKey: "sk-test", BaseURL: primaryURL, Model: "gpt-4o-mini", Timeout: 2 * time.Second,
	}, logger)
	secondary := openai.NewOpenAIProvider(types.ProviderSecondaryAI, &openai.OpenAIConfig{
		APIKey: "sk-test", BaseURL: secondaryURL, Model: "deepseek-chat", Timeout: 2 * time.Second,
	}, logger)

	set := providers.NewSet(primary, secondary,
		template.NewProvider(template.DefaultConfig(), logger),
		basic.NewProvider(""),
	)

	monitor := health.NewMonitor(health.Config{ProbeTimeout: 2 * time.Second}, logger, health.WithMetrics(metrics))
	monitor.Register(types.ProviderPrimaryAI, primary)
	monitor.Register(types.ProviderSecondaryAI, secondary)

	executor := retry.NewExecutor(retry.Config{
		MaxAttempts:    3,
		AttemptTimeout: 2 * time.Second,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
	}, logger)

	policy := routing.NewPolicy(routing.DefaultScoringPolicy(), credits.NewSelector(credits.DefaultConfig(), logger), logger)
	orchestrator := routing.NewOrchestrator(policy, set, executor, logger,
		routing.WithHealth(monitor),
		routing.WithOutcomes(s.alerts),
		routing.WithMetrics(metrics),
	)

	srv, err := server.NewServer(server.Dependencies{
		Router:  orchestrator,
		Health:  monitor,
		Alerts:  s.alerts,
		Metrics: s.telemetry,
	}, &server.Config{MaxBodyBytes: 64 << 10, ValidateRequests: true}, logger)
	require.NoError(t, err)

	s.handler = srv.Handler()
	return s
}

func (s *stack) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *stack) webhook(t *testing.T, body string) types.Result {
	t.Helper()
	w := s.post(t, "/v1/webhooks/whatsapp", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result types.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

const salesLead = `{"sender":"5511988887777","sender_name":"Marina","text":"Quero fechar o plano anual","user_value":5000,"intent":"vendas","urgency":"Alta","credit_balance":1000}`

func TestHighValueSalesAnsweredByPrimary(t *testing.T) {
	s := newStack(t)

	result := s.webhook(t, salesLead)
	assert.True(t, result.Success)
	assert.Equal(t, types.ProviderPrimaryAI, result.Provider)
	assert.Equal(t, s.primary.reply, result.Content)
	require.NotNil(t, result.Decision)
	assert.GreaterOrEqual(t, result.Decision.Confidence, 0.6)
	assert.EqualValues(t, 0, s.secondary.calls.Load())
}

func TestPrimaryOutageFallsBackToSecondary(t *testing.T) {
	s := newStack(t)
	s.primary.down.Store(true)

	result := s.webhook(t, salesLead)
	assert.True(t, result.Success)
	assert.Equal(t, types.ProviderSecondaryAI, result.Provider)
	assert.Equal(t, s.secondary.reply, result.Content)
	assert.Equal(t, 4, result.Attempts)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, string(types.ProviderPrimaryAI), result.Failed[0].Level)
	assert.EqualValues(t, 3, s.primary.calls.Load())
}

func TestTotalAIOutageServesTemplate(t *testing.T) {
	s := newStack(t)
	s.primary.down.Store(true)
	s.secondary.down.Store(true)

	result := s.webhook(t, salesLead)
	assert.True(t, result.Success)
	assert.Equal(t, string(types.ProviderTemplate), result.Method)
	assert.Contains(t, result.Content, "Marina")
	assert.Len(t, result.Failed, 2)
}

func TestHealthCheckSkipsUnhealthyPrimary(t *testing.T) {
	s := newStack(t)
	s.primary.down.Store(true)

	w := s.post(t, "/v1/health/check", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot struct {
		Status    string                                    `json:"status"`
		Providers map[types.ProviderID]types.ProviderHealth `json:"providers"`
		Best      types.ProviderID                          `json:"best_provider"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, "degraded", snapshot.Status)
	assert.Equal(t, types.HealthUnhealthy, snapshot.Providers[types.ProviderPrimaryAI].Status)
	assert.Equal(t, types.HealthHealthy, snapshot.Providers[types.ProviderSecondaryAI].Status)
	assert.Equal(t, types.ProviderSecondaryAI, snapshot.Best)

	result := s.webhook(t, salesLead)
	assert.Equal(t, types.ProviderSecondaryAI, result.Provider)
	assert.EqualValues(t, 0, s.primary.calls.Load())
	require.NotEmpty(t, result.Skipped)
	assert.Equal(t, routing.SkipUnhealthy, result.Skipped[0].Reason)
}

func TestRepeatedOutageTripsBreakerAndIsMeasured(t *testing.T) {
	s := newStack(t)
	s.primary.down.Store(true)

	for i := 0; i < 5; i++ {
		result := s.webhook(t, salesLead)
		assert.Equal(t, types.ProviderSecondaryAI, result.Provider)
	}

	// the breaker opens on the fifth consecutive failure and stops further calls
	assert.EqualValues(t, 5, s.primary.calls.Load())
	assert.EqualValues(t, 5, s.secondary.calls.Load())
	assert.Zero(t, s.alerts.ConsecutiveFailures())

	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Metrics []telemetry.MetricSummary `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	names := map[string]bool{}
	for _, m := range body.Metrics {
		names[m.Name] = true
	}
	assert.True(t, names["crm_router.routing.results"])
	assert.True(t, names["crm_router.level.failures"])
}

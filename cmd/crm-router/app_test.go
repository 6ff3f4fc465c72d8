package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/crm-reply-router/internal/config"
	"github.com/tributary-ai/crm-reply-router/internal/providers/anthropic"
	"github.com/tributary-ai/crm-reply-router/internal/providers/openai"
	"github.com/tributary-ai/crm-reply-router/internal/simulation"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"OPENAI_API_KEY", "DEEPSEEK_API_KEY", "ANTHROPIC_API_KEY",
		"CRM_ROUTER_PORT", "CRM_ROUTER_LOG_LEVEL", "CRM_ROUTER_LOG_FORMAT",
		"CRM_ROUTER_JWT_SECRET", "CRM_ROUTER_WEBHOOK_SECRET",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_ALERT_CHAT_ID",
	} {
		t.Setenv(key, "")
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuildProviders(t *testing.T) {
	clearEnv(t)
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	set := buildProviders(cfg, quietLogger())
	assert.Len(t, set, 2)
	assert.Contains(t, set, types.ProviderTemplate)
	assert.Contains(t, set, types.ProviderBasic)

	cfg.Providers.Primary.APIKey = "sk-openai"
	cfg.Providers.Secondary.APIKey = "sk-deepseek"
	set = buildProviders(cfg, quietLogger())
	require.Len(t, set, 4)
	assert.IsType(t, &openai.OpenAIProvider{}, set[types.ProviderPrimaryAI])
	assert.IsType(t, &openai.OpenAIProvider{}, set[types.ProviderSecondaryAI])

	cfg.Providers.Primary.Backend = config.BackendAnthropic
	set = buildProviders(cfg, quietLogger())
	assert.IsType(t, &anthropic.AnthropicProvider{}, set[types.ProviderPrimaryAI])
	assert.Equal(t, types.ProviderPrimaryAI, set[types.ProviderPrimaryAI].ID())
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  config.LoggingConfig
		wantErr bool
	}{
		{"json stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, false},
		{"text stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, false},
		{"file output", config.LoggingConfig{Level: "warn", Format: "json", Output: filepath.Join(t.TempDir(), "router.log")}, false},
		{"bad level", config.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"}, true},
		{"bad format", config.LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := setupLogger(logrus.New(), tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSelectScenarios(t *testing.T) {
	all := simulation.Scenarios()

	selected, err := selectScenarios(all, nil)
	require.NoError(t, err)
	assert.Len(t, selected, len(all))

	selected, err = selectScenarios(all, []string{"high-value-sales"})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "high-value-sales", selected[0].Name)

	_, err = selectScenarios(all, []string{"nope"})
	assert.Error(t, err)
}

func TestNewApplication_ServesTemplatesWithoutKeys(t *testing.T) {
	clearEnv(t)
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	app, err := newApplication(cfg, quietLogger())
	require.NoError(t, err)

	body := `{"sender":"5511911112222","sender_name":"Rita","text":"Quero saber o preço","intent":"vendas","credit_balance":1000}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result types.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, string(types.ProviderTemplate), result.Method)
	assert.Contains(t, result.Content, "Rita")
	assert.Len(t, result.Failed, 2)

	req = httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	w = httptest.NewRecorder()
	app.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSimulateCommand(t *testing.T) {
	clearEnv(t)
	configPath = ""

	cmd := simulateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--scenario", "high-value-sales,credits-exhausted"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "high-value-sales")
	assert.Contains(t, out.String(), "2 passed, 0 failed")
}

func TestVersionCommand(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "crm-router v"+version+"\n", out.String())
}

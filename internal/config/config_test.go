package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tributary-ai/crm-reply-router/internal/credits"
	"github.com/tributary-ai/crm-reply-router/internal/providers/openai"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

var envVars = []string{
	"CRM_ROUTER_PORT",
	"CRM_ROUTER_LOG_LEVEL",
	"CRM_ROUTER_LOG_FORMAT",
	"OPENAI_API_KEY",
	"DEEPSEEK_API_KEY",
	"ANTHROPIC_API_KEY",
	"TELEGRAM_BOT_TOKEN",
	"TELEGRAM_ALERT_CHAT_ID",
	"CRM_ROUTER_JWT_SECRET",
	"CRM_ROUTER_WEBHOOK_SECRET",
}

// clearEnv blanks every variable the loader reads
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port '8080', got %s", cfg.Server.Port)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level 'info', got %s", cfg.Logging.Level)
	}

	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.AttemptTimeout != 30*time.Second {
		t.Errorf("Expected retry 3 attempts / 30s, got %d / %v", cfg.Retry.MaxAttempts, cfg.Retry.AttemptTimeout)
	}

	if cfg.Health.Interval != 5*time.Minute {
		t.Errorf("Expected health interval 5m, got %v", cfg.Health.Interval)
	}

	if cfg.Breaker.ConsecutiveFailures != 5 {
		t.Errorf("Expected breaker threshold 5, got %d", cfg.Breaker.ConsecutiveFailures)
	}

	if cfg.Alerting.Thresholds.ErrorRate != 0.10 {
		t.Errorf("Expected error rate threshold 0.10, got %v", cfg.Alerting.Thresholds.ErrorRate)
	}

	if got := cfg.Credits.BaseCosts[credits.ComplexityMedium]; got.Premium != 25 || got.Economy != 8 {
		t.Errorf("Expected medium cost 25/8, got %d/%d", got.Premium, got.Economy)
	}

	if cfg.Scoring.PremiumThreshold != 0.6 {
		t.Errorf("Expected premium threshold 0.6, got %v", cfg.Scoring.PremiumThreshold)
	}

	if cfg.Providers.Secondary.Backend != BackendDeepSeek {
		t.Errorf("Expected secondary backend deepseek, got %s", cfg.Providers.Secondary.Backend)
	}

	if len(cfg.GetEnabledProviders()) != 0 {
		t.Errorf("Expected no enabled providers without keys, got %v", cfg.GetEnabledProviders())
	}
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CRM_ROUTER_PORT", "9090")
	t.Setenv("CRM_ROUTER_LOG_LEVEL", "debug")
	t.Setenv("CRM_ROUTER_LOG_FORMAT", "text")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("DEEPSEEK_API_KEY", "sk-deepseek")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ALERT_CHAT_ID", "-100200300")
	t.Setenv("CRM_ROUTER_JWT_SECRET", "jwt-secret")
	t.Setenv("CRM_ROUTER_WEBHOOK_SECRET", "hook-secret")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected port '9090', got %s", cfg.Server.Port)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level 'debug', got %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected log format 'text', got %s", cfg.Logging.Format)
	}

	if cfg.Providers.Primary.APIKey != "sk-openai" {
		t.Errorf("Expected primary key from OPENAI_API_KEY, got %q", cfg.Providers.Primary.APIKey)
	}

	if cfg.Providers.Secondary.APIKey != "sk-deepseek" {
		t.Errorf("Expected secondary key from DEEPSEEK_API_KEY, got %q", cfg.Providers.Secondary.APIKey)
	}

	if cfg.Alerting.Telegram.ChatID != -100200300 {
		t.Errorf("Expected telegram chat id -100200300, got %d", cfg.Alerting.Telegram.ChatID)
	}

	if cfg.Auth.JWTSecret != "jwt-secret" || cfg.Auth.WebhookSecret != "hook-secret" {
		t.Errorf("Expected auth secrets from environment, got %q / %q", cfg.Auth.JWTSecret, cfg.Auth.WebhookSecret)
	}
}

func TestLoadConfig_AnthropicKeyFollowsBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	path := writeConfig(t, `
providers:
  secondary:
    backend: anthropic
    model: claude-3-5-haiku-latest
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Providers.Secondary.APIKey != "sk-ant" {
		t.Errorf("Expected anthropic key on secondary, got %q", cfg.Providers.Secondary.APIKey)
	}
	if cfg.Providers.Primary.APIKey != "" {
		t.Errorf("Expected primary to stay without key, got %q", cfg.Providers.Primary.APIKey)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		file   string
		errMsg string
	}{
		{
			name:   "Invalid log level",
			env:    map[string]string{"CRM_ROUTER_LOG_LEVEL": "invalid"},
			errMsg: "invalid log level",
		},
		{
			name:   "Invalid log format",
			env:    map[string]string{"CRM_ROUTER_LOG_FORMAT": "xml"},
			errMsg: "invalid log format",
		},
		{
			name:   "Invalid chat id",
			env:    map[string]string{"TELEGRAM_ALERT_CHAT_ID": "ops-room"},
			errMsg: "TELEGRAM_ALERT_CHAT_ID must be an integer",
		},
		{
			name:   "Bot token without chat",
			env:    map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"},
			errMsg: "chat id is required",
		},
		{
			name:   "Unknown backend",
			file:   "providers:\n  primary:\n    backend: gemini\n",
			errMsg: "invalid primary provider backend",
		},
		{
			name:   "Non-positive plan multiplier",
			file:   "credits:\n  plan_multipliers:\n    pro: 0\n",
			errMsg: "plan multiplier for pro must be positive",
		},
		{
			name:   "Premium threshold out of range",
			file:   "scoring:\n  premium_threshold: 1.5\n",
			errMsg: "premium threshold",
		},
		{
			name:   "Auth without credentials",
			file:   "auth:\n  require_auth: true\n",
			errMsg: "neither API keys nor a JWT secret",
		},
		{
			name:   "Malformed YAML",
			file:   "server: [port",
			errMsg: "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}

			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected read error, got %v", err)
	}
}

func TestLoadConfig_FileLoading(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
server:
  port: "3000"
  read_timeout: 60s

logging:
  level: "warn"
  format: "text"

providers:
  primary:
    api_key: "file-openai-key"
    model: "gpt-4o"

credits:
  base_costs:
    simple:
      premium: 12
      economy: 4

retry:
  max_attempts: 5
  base_delay: 500ms

alerting:
  thresholds:
    response_time: 3s

replies:
  emergency: "Voltamos já!"
  templates:
    templates:
      vendas: "{greeting}{name}! Promoção ativa."
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "3000" {
		t.Errorf("Expected port '3000', got %s", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("Expected read timeout 60s, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level 'warn', got %s", cfg.Logging.Level)
	}

	if cfg.Providers.Primary.APIKey != "file-openai-key" || cfg.Providers.Primary.Model != "gpt-4o" {
		t.Errorf("Expected primary from file, got %+v", cfg.Providers.Primary)
	}

	// untouched fields keep their defaults
	if cfg.Providers.Primary.Backend != BackendOpenAI {
		t.Errorf("Expected primary backend default, got %s", cfg.Providers.Primary.Backend)
	}

	if got := cfg.Credits.BaseCosts[credits.ComplexitySimple]; got.Premium != 12 || got.Economy != 4 {
		t.Errorf("Expected simple cost 12/4, got %d/%d", got.Premium, got.Economy)
	}
	if got := cfg.Credits.BaseCosts[credits.ComplexityComplex]; got.Premium != 50 {
		t.Errorf("Expected complex cost default 50, got %d", got.Premium)
	}

	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 500*time.Millisecond {
		t.Errorf("Expected retry 5 / 500ms, got %d / %v", cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxDelay != 10*time.Second {
		t.Errorf("Expected max delay default 10s, got %v", cfg.Retry.MaxDelay)
	}

	if cfg.Alerting.Thresholds.ResponseTime != 3*time.Second {
		t.Errorf("Expected response time threshold 3s, got %v", cfg.Alerting.Thresholds.ResponseTime)
	}

	if cfg.Replies.Emergency != "Voltamos já!" {
		t.Errorf("Expected emergency reply from file, got %q", cfg.Replies.Emergency)
	}

	if cfg.Replies.Templates.Templates[types.IntentSales] != "{greeting}{name}! Promoção ativa." {
		t.Errorf("Expected sales template from file, got %q", cfg.Replies.Templates.Templates[types.IntentSales])
	}
	if cfg.Replies.Templates.Templates[types.IntentSupport] == "" {
		t.Error("Expected support template default to survive")
	}
}

func TestConfig_GetEnabledProviders(t *testing.T) {
	tests := []struct {
		name         string
		primaryKey   string
		secondaryKey string
		expected     []types.ProviderID
	}{
		{"Both providers enabled", "sk-1", "sk-2", []types.ProviderID{types.ProviderPrimaryAI, types.ProviderSecondaryAI}},
		{"Only primary enabled", "sk-1", "", []types.ProviderID{types.ProviderPrimaryAI}},
		{"Only secondary enabled", "", "sk-2", []types.ProviderID{types.ProviderSecondaryAI}},
		{"No providers enabled", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.setDefaults()
			cfg.Providers.Primary.APIKey = tt.primaryKey
			cfg.Providers.Secondary.APIKey = tt.secondaryKey

			enabled := cfg.GetEnabledProviders()

			if len(enabled) != len(tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, enabled)
			}
			for i := range enabled {
				if enabled[i] != tt.expected[i] {
					t.Errorf("Expected %v, got %v", tt.expected, enabled)
				}
			}
		})
	}
}

func TestProviderConfig_Conversions(t *testing.T) {
	deepseek := ProviderConfig{Backend: BackendDeepSeek, APIKey: "sk", Model: "deepseek-chat", MaxTokens: 200}
	oc := deepseek.ToOpenAIConfig()
	if oc.BaseURL != openai.DeepSeekBaseURL {
		t.Errorf("Expected DeepSeek base URL, got %q", oc.BaseURL)
	}
	if oc.Model != "deepseek-chat" || oc.MaxTokens != 200 || oc.APIKey != "sk" {
		t.Errorf("Unexpected conversion: %+v", oc)
	}

	plain := ProviderConfig{Backend: BackendOpenAI, APIKey: "sk"}
	if got := plain.ToOpenAIConfig().BaseURL; got != "" {
		t.Errorf("Expected empty base URL for openai, got %q", got)
	}

	claude := ProviderConfig{Backend: BackendAnthropic, APIKey: "sk-ant", Model: "claude-3-5-haiku-latest", Timeout: 5 * time.Second}
	ac := claude.ToAnthropicConfig()
	if ac.APIKey != "sk-ant" || ac.Model != "claude-3-5-haiku-latest" || ac.Timeout != 5*time.Second {
		t.Errorf("Unexpected conversion: %+v", ac)
	}
}

func TestConfig_ToServerConfig(t *testing.T) {
	cfg := &Config{}
	cfg.setDefaults()
	cfg.Server.Port = "9999"
	cfg.Server.ReadTimeout = 45 * time.Second
	cfg.Server.WriteTimeout = 50 * time.Second
	cfg.Server.MaxHeaderBytes = 2048
	cfg.Server.Security.WebhookRateLimit = 7

	serverConfig := cfg.ToServerConfig()

	if serverConfig.Port != "9999" {
		t.Errorf("Expected port '9999', got %s", serverConfig.Port)
	}

	if serverConfig.ReadTimeout != 45*time.Second {
		t.Errorf("Expected read timeout 45s, got %v", serverConfig.ReadTimeout)
	}

	if serverConfig.WriteTimeout != 50*time.Second {
		t.Errorf("Expected write timeout 50s, got %v", serverConfig.WriteTimeout)
	}

	if serverConfig.MaxHeaderBytes != 2048 {
		t.Errorf("Expected max header bytes 2048, got %d", serverConfig.MaxHeaderBytes)
	}

	if !serverConfig.ValidateRequests {
		t.Error("Expected request validation enabled by default")
	}

	if serverConfig.Security.WebhookRateLimit != 7 {
		t.Errorf("Expected webhook rate limit 7, got %d", serverConfig.Security.WebhookRateLimit)
	}
}

func TestConfig_SaveToFile(t *testing.T) {
	clearEnv(t)

	cfg := &Config{}
	cfg.setDefaults()
	cfg.Server.Port = "4000"

	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, `port: "4000"`) {
		t.Error("Saved config should contain the custom port")
	}

	if !strings.Contains(content, "backend: deepseek") {
		t.Error("Saved config should contain the secondary backend")
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Reloading saved config failed: %v", err)
	}
	if reloaded.Server.Port != "4000" || reloaded.Retry.AttemptTimeout != 30*time.Second {
		t.Errorf("Reloaded config differs: port %s, attempt timeout %v", reloaded.Server.Port, reloaded.Retry.AttemptTimeout)
	}
}

func BenchmarkLoadConfig_Defaults(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = LoadConfig("")
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/crm-reply-router/internal/alerting"
	"github.com/tributary-ai/crm-reply-router/internal/credits"
	"github.com/tributary-ai/crm-reply-router/internal/health"
	"github.com/tributary-ai/crm-reply-router/internal/middleware"
	"github.com/tributary-ai/crm-reply-router/internal/providers/anthropic"
	"github.com/tributary-ai/crm-reply-router/internal/providers/openai"
	"github.com/tributary-ai/crm-reply-router/internal/providers/template"
	"github.com/tributary-ai/crm-reply-router/internal/retry"
	"github.com/tributary-ai/crm-reply-router/internal/routing"
	"github.com/tributary-ai/crm-reply-router/internal/security"
	"github.com/tributary-ai/crm-reply-router/internal/server"
	"github.com/tributary-ai/crm-reply-router/internal/telemetry"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// Provider backends
const (
	BackendOpenAI    = "openai"
	BackendDeepSeek  = "deepseek"
	BackendAnthropic = "anthropic"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig          `yaml:"server"`
	Logging   LoggingConfig         `yaml:"logging"`
	Auth      security.Config       `yaml:"auth"`
	Providers ProvidersConfig       `yaml:"providers"`
	Credits   credits.Config        `yaml:"credits"`
	Scoring   routing.ScoringPolicy `yaml:"scoring"`
	Retry     retry.Config          `yaml:"retry"`
	Breaker   routing.BreakerConfig `yaml:"breaker"`
	Health    health.Config         `yaml:"health"`
	Alerting  AlertingConfig        `yaml:"alerting"`
	Telemetry telemetry.Config      `yaml:"telemetry"`
	Replies   RepliesConfig         `yaml:"replies"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port             string                    `yaml:"port"`
	ReadTimeout      time.Duration             `yaml:"read_timeout"`
	WriteTimeout     time.Duration             `yaml:"write_timeout"`
	MaxHeaderBytes   int                       `yaml:"max_header_bytes"`
	MaxBodyBytes     int64                     `yaml:"max_body_bytes"`
	ValidateRequests bool                      `yaml:"validate_requests"`
	Security         middleware.SecurityConfig `yaml:"security"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// ProvidersConfig holds the two AI levels
type ProvidersConfig struct {
	Primary   ProviderConfig `yaml:"primary"`
	Secondary ProviderConfig `yaml:"secondary"`
}

// ProviderConfig configures one AI level. Backend is openai, deepseek or
// anthropic; a level without an API key is not registered.
type ProviderConfig struct {
	Backend      string        `yaml:"backend"`
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float32       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// AlertingConfig holds alert thresholds and notification settings
type AlertingConfig struct {
	Thresholds       alerting.Thresholds     `yaml:"thresholds"`
	Telegram         alerting.TelegramConfig `yaml:"telegram"`
	ResourceInterval time.Duration           `yaml:"resource_interval"`
}

// RepliesConfig holds the non-AI reply texts
type RepliesConfig struct {
	Templates template.Config `yaml:"templates"`
	Basic     string          `yaml:"basic"`
	Emergency string          `yaml:"emergency"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := config.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:             "8080",
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     90 * time.Second,
		MaxHeaderBytes:   1 << 20, // 1MB
		MaxBodyBytes:     64 << 10,
		ValidateRequests: true,
		Security: middleware.SecurityConfig{
			AllowedOrigins:    []string{"*"},
			WebhookRateLimit:  120,
			WebhookRateWindow: time.Minute,
		},
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Auth = security.Config{
		RequireAuth: false,
		APIKeys:     []string{},
		JWTExpiry:   24 * time.Hour,
	}

	c.Providers = ProvidersConfig{
		Primary: ProviderConfig{
			Backend:   BackendOpenAI,
			Model:     "gpt-4o-mini",
			MaxTokens: 300,
			Timeout:   30 * time.Second,
		},
		Secondary: ProviderConfig{
			Backend:   BackendDeepSeek,
			BaseURL:   openai.DeepSeekBaseURL,
			Model:     "deepseek-chat",
			MaxTokens: 300,
			Timeout:   30 * time.Second,
		},
	}

	c.Credits = credits.DefaultConfig()
	c.Scoring = routing.DefaultScoringPolicy()
	c.Retry = retry.DefaultConfig()
	c.Breaker = routing.DefaultBreakerConfig()
	c.Health = health.DefaultConfig()

	c.Alerting = AlertingConfig{
		Thresholds:       alerting.DefaultThresholds(),
		ResourceInterval: time.Minute,
	}

	c.Telemetry = telemetry.Config{
		Enabled:     true,
		ServiceName: "crm-reply-router",
	}

	c.Replies = RepliesConfig{
		Templates: template.DefaultConfig(),
		Emergency: routing.DefaultEmergencyReply,
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() error {
	if port := os.Getenv("CRM_ROUTER_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := os.Getenv("CRM_ROUTER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("CRM_ROUTER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	// API keys go to whichever level uses the backend
	keys := map[string]string{
		BackendOpenAI:    os.Getenv("OPENAI_API_KEY"),
		BackendDeepSeek:  os.Getenv("DEEPSEEK_API_KEY"),
		BackendAnthropic: os.Getenv("ANTHROPIC_API_KEY"),
	}
	for _, p := range []*ProviderConfig{&c.Providers.Primary, &c.Providers.Secondary} {
		if key := keys[p.Backend]; key != "" {
			p.APIKey = key
		}
	}

	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Alerting.Telegram.BotToken = token
	}

	if chat := os.Getenv("TELEGRAM_ALERT_CHAT_ID"); chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_ALERT_CHAT_ID must be an integer: %w", err)
		}
		c.Alerting.Telegram.ChatID = id
	}

	if secret := os.Getenv("CRM_ROUTER_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}

	if secret := os.Getenv("CRM_ROUTER_WEBHOOK_SECRET"); secret != "" {
		c.Auth.WebhookSecret = secret
	}

	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validBackends := map[string]bool{
		BackendOpenAI:    true,
		BackendDeepSeek:  true,
		BackendAnthropic: true,
	}
	if !validBackends[c.Providers.Primary.Backend] {
		return fmt.Errorf("invalid primary provider backend: %s", c.Providers.Primary.Backend)
	}
	if !validBackends[c.Providers.Secondary.Backend] {
		return fmt.Errorf("invalid secondary provider backend: %s", c.Providers.Secondary.Backend)
	}

	for plan, m := range c.Credits.PlanMultipliers {
		if m <= 0 {
			return fmt.Errorf("plan multiplier for %s must be positive", plan)
		}
	}
	for class, cost := range c.Credits.BaseCosts {
		if cost.Premium < 0 || cost.Economy < 0 {
			return fmt.Errorf("base cost for %s cannot be negative", class)
		}
	}

	if c.Scoring.PremiumThreshold < 0 || c.Scoring.PremiumThreshold > 1 {
		return fmt.Errorf("premium threshold must be within [0, 1], got %v", c.Scoring.PremiumThreshold)
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts cannot be negative")
	}

	if c.Auth.RequireAuth && len(c.Auth.APIKeys) == 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is required but neither API keys nor a JWT secret are configured")
	}

	if c.Alerting.Telegram.BotToken != "" && c.Alerting.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram alert chat id is required when a bot token is set")
	}

	return nil
}

// ToServerConfig converts to server.Config
func (c *Config) ToServerConfig() *server.Config {
	return &server.Config{
		Port:             c.Server.Port,
		ReadTimeout:      c.Server.ReadTimeout,
		WriteTimeout:     c.Server.WriteTimeout,
		MaxHeaderBytes:   c.Server.MaxHeaderBytes,
		MaxBodyBytes:     c.Server.MaxBodyBytes,
		ValidateRequests: c.Server.ValidateRequests,
		Security:         c.Server.Security,
	}
}

// ToOpenAIConfig converts an openai or deepseek level
func (p ProviderConfig) ToOpenAIConfig() *openai.OpenAIConfig {
	baseURL := p.BaseURL
	if baseURL == "" && p.Backend == BackendDeepSeek {
		baseURL = openai.DeepSeekBaseURL
	}
	return &openai.OpenAIConfig{
		APIKey:       p.APIKey,
		BaseURL:      baseURL,
		Model:        p.Model,
		SystemPrompt: p.SystemPrompt,
		MaxTokens:    p.MaxTokens,
		Temperature:  p.Temperature,
		Timeout:      p.Timeout,
	}
}

// ToAnthropicConfig converts an anthropic level
func (p ProviderConfig) ToAnthropicConfig() *anthropic.AnthropicConfig {
	return &anthropic.AnthropicConfig{
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		Model:        p.Model,
		SystemPrompt: p.SystemPrompt,
		MaxTokens:    p.MaxTokens,
		Timeout:      p.Timeout,
	}
}

// Enabled reports whether the level has credentials
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// SaveToFile saves the current configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetEnabledProviders returns the AI levels that have credentials
func (c *Config) GetEnabledProviders() []types.ProviderID {
	var enabled []types.ProviderID

	if c.Providers.Primary.Enabled() {
		enabled = append(enabled, types.ProviderPrimaryAI)
	}
	if c.Providers.Secondary.Enabled() {
		enabled = append(enabled, types.ProviderSecondaryAI)
	}

	return enabled
}

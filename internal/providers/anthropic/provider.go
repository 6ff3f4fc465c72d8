package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

const defaultModel = "claude-3-5-haiku-latest"

// AnthropicProvider answers messages through the Anthropic Messages API
type AnthropicProvider struct {
	id     types.ProviderID
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout"`
}

// NewAnthropicProvider creates a provider serving the given level
func NewAnthropicProvider(id types.ProviderID, config *AnthropicConfig, logger *logrus.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		// attempts are owned by the retry executor
		option.WithMaxRetries(0),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 300
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		id:     id,
		client: &client,
		config: config,
		logger: logger,
	}
}

// ID returns the level this provider serves
func (p *AnthropicProvider) ID() types.ProviderID {
	return p.id
}

// SendMessage asks Claude for a reply
func (p *AnthropicProvider) SendMessage(ctx context.Context, msg types.MessageContext) (*types.ProviderResponse, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)),
		},
	}
	if p.config.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.config.SystemPrompt}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		p.logger.WithError(err).WithField("provider", p.id).Error("Anthropic API call failed")
		return nil, fmt.Errorf("%s anthropic api call failed: %w", p.id, err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	content := strings.TrimSpace(text.String())
	if content == "" {
		return &types.ProviderResponse{
			Success: false,
			Error:   fmt.Sprintf("no text content (stop reason %s)", resp.StopReason),
			Model:   string(resp.Model),
		}, nil
	}

	return &types.ProviderResponse{
		Success: true,
		Content: content,
		Model:   string(resp.Model),
		Tokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}

// HealthCheck sends a one-token message
func (p *AnthropicProvider) HealthCheck(ctx context.Context) (*types.ProviderResponse, error) {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model: anthropic.Model(p.config.Model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
		MaxTokens: 1,
	})
	if err != nil {
		p.logger.WithError(err).WithField("provider", p.id).Warn("Anthropic health check failed")
		return nil, fmt.Errorf("%s health check failed: %w", p.id, err)
	}

	p.logger.WithField("provider", p.id).Debug("Anthropic health check passed")
	return &types.ProviderResponse{Success: true, Model: p.config.Model}, nil
}

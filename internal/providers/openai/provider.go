package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// DeepSeekBaseURL is the OpenAI-compatible endpoint of DeepSeek
const DeepSeekBaseURL = "https://api.deepseek.com/v1"

const defaultSystemPrompt = "Você é o assistente de atendimento da empresa. Responda em português, " +
	"de forma cordial e objetiva, em no máximo três frases."

// OpenAIProvider answers messages through an OpenAI-compatible chat API
type OpenAIProvider struct {
	id     types.ProviderID
	client *openai.Client
	config *OpenAIConfig
	logger *logrus.Logger
}

// OpenAIConfig holds OpenAI-compatible client configuration
type OpenAIConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	OrgID        string        `yaml:"org_id"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float32       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// NewOpenAIProvider creates a provider serving the given level
func NewOpenAIProvider(id types.ProviderID, config *OpenAIConfig, logger *logrus.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 300
	}

	return &OpenAIProvider{
		id:     id,
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// ID returns the level this provider serves
func (p *OpenAIProvider) ID() types.ProviderID {
	return p.id
}

// SendMessage asks the chat completion API for a reply
func (p *OpenAIProvider) SendMessage(ctx context.Context, msg types.MessageContext) (*types.ProviderResponse, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(msg))
	if err != nil {
		p.logger.WithError(err).WithField("provider", p.id).Error("Chat completion failed")
		return nil, fmt.Errorf("%s chat completion failed: %w", p.id, err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if content == "" {
		return &types.ProviderResponse{
			Success: false,
			Error:   "empty completion",
			Model:   resp.Model,
		}, nil
	}

	p.logger.WithFields(logrus.Fields{
		"provider": p.id,
		"model":    resp.Model,
		"tokens":   resp.Usage.TotalTokens,
	}).Debug("Chat completion succeeded")

	return &types.ProviderResponse{
		Success: true,
		Content: content,
		Model:   resp.Model,
		Tokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck lists models as a lightweight probe
func (p *OpenAIProvider) HealthCheck(ctx context.Context) (*types.ProviderResponse, error) {
	models, err := p.client.ListModels(ctx)
	if err != nil {
		p.logger.WithError(err).WithField("provider", p.id).Warn("Health check failed")
		return nil, fmt.Errorf("%s health check failed: %w", p.id, err)
	}

	for _, m := range models.Models {
		if m.ID == p.config.Model {
			return &types.ProviderResponse{Success: true, Model: m.ID}, nil
		}
	}

	// Reachable, but the configured model is not offered
	return &types.ProviderResponse{
		Success: false,
		Error:   fmt.Sprintf("model %s not listed", p.config.Model),
	}, nil
}

// buildRequest converts an inbound message into a chat completion request
func (p *OpenAIProvider) buildRequest(msg types.MessageContext) openai.ChatCompletionRequest {
	system := p.config.SystemPrompt
	var hints []string
	if msg.SenderName != "" {
		hints = append(hints, "Nome do cliente: "+msg.SenderName)
	}
	if msg.Intent != "" {
		hints = append(hints, "Intenção: "+string(msg.Intent))
	}
	if msg.Urgency != "" {
		hints = append(hints, "Urgência: "+string(msg.Urgency))
	}
	if len(hints) > 0 {
		system += "\n" + strings.Join(hints, "\n")
	}

	return openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: msg.Text},
		},
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
}

// Package template answers messages from canned per-intent templates.
package template

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// Config holds the template set. Bodies may use {greeting} and {name}.
type Config struct {
	Templates map[types.Intent]string `yaml:"templates"`
	// FallbackIntent is used when the message intent has no template
	FallbackIntent types.Intent `yaml:"fallback_intent"`
}

// DefaultConfig returns the built-in Portuguese templates
func DefaultConfig() Config {
	return Config{
		Templates: map[types.Intent]string{
			types.IntentSales:       "{greeting}{name}! Obrigado pelo interesse. Um consultor vai te enviar as condições e valores em instantes.",
			types.IntentSupport:     "{greeting}{name}! Recebemos sua solicitação de suporte e já estamos verificando. Retornamos em breve.",
			types.IntentInformation: "{greeting}{name}! Nosso horário de atendimento é de segunda a sexta, das 8h às 18h. Como podemos ajudar?",
			types.IntentComplaint:   "{greeting}{name}. Lamentamos o ocorrido. Sua reclamação foi registrada e um responsável vai entrar em contato.",
			types.IntentOther:       "{greeting}{name}! Recebemos sua mensagem e responderemos assim que possível.",
		},
		FallbackIntent: types.IntentOther,
	}
}

// Provider renders smart templates locally
type Provider struct {
	config Config
	logger *logrus.Logger
}

// NewProvider creates a template provider
func NewProvider(config Config, logger *logrus.Logger) *Provider {
	if config.Templates == nil {
		config.Templates = DefaultConfig().Templates
	}
	return &Provider{config: config, logger: logger}
}

// ID returns the template level
func (p *Provider) ID() types.ProviderID {
	return types.ProviderTemplate
}

// SendMessage renders the template matching the message intent
func (p *Provider) SendMessage(ctx context.Context, msg types.MessageContext) (*types.ProviderResponse, error) {
	body, ok := p.config.Templates[msg.Intent]
	if !ok {
		body, ok = p.config.Templates[p.config.FallbackIntent]
	}
	if !ok || body == "" {
		p.logger.WithField("intent", msg.Intent).Warn("No template for intent")
		return &types.ProviderResponse{Success: false, Error: "no template for intent " + string(msg.Intent)}, nil
	}

	name := ""
	if msg.SenderName != "" {
		name = ", " + firstName(msg.SenderName)
	}

	content := strings.NewReplacer(
		"{greeting}", Greeting(msg.HourOfDay),
		"{name}", name,
	).Replace(body)

	return &types.ProviderResponse{Success: true, Content: content, Model: "template"}, nil
}

// HealthCheck always passes
func (p *Provider) HealthCheck(ctx context.Context) (*types.ProviderResponse, error) {
	return &types.ProviderResponse{Success: true}, nil
}

// Greeting picks the salutation for an hour of the day
func Greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "Bom dia"
	case hour >= 12 && hour < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Package basic serves the fixed canned reply.
package basic

import (
	"context"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// DefaultReply is sent when no better answer could be produced
const DefaultReply = "Olá! Recebemos sua mensagem e um atendente vai responder em breve."

// Provider always answers with the same reply
type Provider struct {
	reply string
}

// NewProvider creates a basic provider. An empty reply uses DefaultReply.
func NewProvider(reply string) *Provider {
	if reply == "" {
		reply = DefaultReply
	}
	return &Provider{reply: reply}
}

func (p *Provider) ID() types.ProviderID {
	return types.ProviderBasic
}

func (p *Provider) SendMessage(ctx context.Context, msg types.MessageContext) (*types.ProviderResponse, error) {
	return &types.ProviderResponse{Success: true, Content: p.reply, Model: "basic"}, nil
}

func (p *Provider) HealthCheck(ctx context.Context) (*types.ProviderResponse, error) {
	return &types.ProviderResponse{Success: true}, nil
}

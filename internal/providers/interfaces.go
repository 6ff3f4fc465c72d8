package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// ErrUnknownProvider is returned when a provider id has no registered backend
var ErrUnknownProvider = errors.New("unknown provider")

// Provider produces replies for inbound messages. Implementations return an
// error for transport failures and a response with Success=false when the
// backend answered but could not produce a reply.
type Provider interface {
	ID() types.ProviderID
	SendMessage(ctx context.Context, msg types.MessageContext) (*types.ProviderResponse, error)
	HealthCheck(ctx context.Context) (*types.ProviderResponse, error)
}

// Set maps provider ids to their backends
type Set map[types.ProviderID]Provider

// NewSet builds a Set keyed by each provider's ID. Later entries win.
func NewSet(list ...Provider) Set {
	set := make(Set, len(list))
	for _, p := range list {
		if p != nil {
			set[p.ID()] = p
		}
	}
	return set
}

// Get returns the provider registered for id
func (s Set) Get(id types.ProviderID) (Provider, error) {
	p, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

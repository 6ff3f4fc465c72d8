package types

import (
	"time"
)

// ProviderID identifies a response backend. The set is fixed at build time.
type ProviderID string

const (
	ProviderPrimaryAI   ProviderID = "primary-ai"
	ProviderSecondaryAI ProviderID = "secondary-ai"
	ProviderTemplate    ProviderID = "template"
	ProviderBasic       ProviderID = "basic"

	// ProviderNone is returned when no AI provider is healthy. Callers must
	// route to template or basic responses instead.
	ProviderNone ProviderID = "none"
)

// IsAI reports whether the provider is backed by an external AI API
func (p ProviderID) IsAI() bool {
	return p == ProviderPrimaryAI || p == ProviderSecondaryAI
}

// ProviderResponse is what a provider collaborator returns for one message
type ProviderResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Model   string `json:"model,omitempty"`
	Tokens  int    `json:"tokens,omitempty"`
}

// RoutingDecision is the outcome of scoring a message against the routing policy
type RoutingDecision struct {
	Provider      ProviderID `json:"provider"`
	Confidence    float64    `json:"confidence"`
	Justification []string   `json:"justification"`
	EstimatedCost int        `json:"estimated_cost"`
}

// SkippedLevel records a fallback level that was not attempted
type SkippedLevel struct {
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

// FailedLevel records a fallback level that was attempted and failed
type FailedLevel struct {
	Level string `json:"level"`
	Error string `json:"error"`
}

// Result is returned to the webhook layer for every inbound message
type Result struct {
	Success  bool       `json:"success"`
	Content  string     `json:"content"`
	Method   string     `json:"method"`
	Provider ProviderID `json:"provider,omitempty"`
	Level    int        `json:"level"`
	Attempts int        `json:"attempts"`

	Decision *RoutingDecision `json:"decision,omitempty"`
	Skipped  []SkippedLevel   `json:"skipped,omitempty"`
	Failed   []FailedLevel    `json:"failed,omitempty"`

	Duration  time.Duration `json:"duration"`
	MessageID string        `json:"message_id,omitempty"`
}

package routing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/credits"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// ScoringPolicy holds the additive weights used to judge whether a message
// warrants the premium provider.
type ScoringPolicy struct {
	Base               float64 `yaml:"base"`
	HighValueThreshold float64 `yaml:"high_value_threshold"`
	HighValueBonus     float64 `yaml:"high_value_bonus"`
	SalesBonus         float64 `yaml:"sales_bonus"`
	UrgencyBonus       float64 `yaml:"urgency_bonus"`
	CreditPenalty      float64 `yaml:"credit_penalty"`
	PremiumThreshold   float64 `yaml:"premium_threshold"`
}

// DefaultScoringPolicy returns the interim weights
func DefaultScoringPolicy() ScoringPolicy {
	return ScoringPolicy{
		Base:               0.5,
		HighValueThreshold: 1000,
		HighValueBonus:     0.2,
		SalesBonus:         0.2,
		UrgencyBonus:       0.15,
		CreditPenalty:      0.3,
		PremiumThreshold:   0.6,
	}
}

// Score returns the clamped premium score and the rules that contributed
func (p ScoringPolicy) Score(msg types.MessageContext) (float64, []string) {
	score := p.Base
	reasons := []string{fmt.Sprintf("base score %.2f", p.Base)}

	if msg.UserValue > p.HighValueThreshold {
		score += p.HighValueBonus
		reasons = append(reasons, fmt.Sprintf("user value %.0f above %.0f: +%.2f", msg.UserValue, p.HighValueThreshold, p.HighValueBonus))
	}
	if msg.Intent == types.IntentSales {
		score += p.SalesBonus
		reasons = append(reasons, fmt.Sprintf("sales intent: +%.2f", p.SalesBonus))
	}
	if msg.Urgency == types.UrgencyHigh {
		score += p.UrgencyBonus
		reasons = append(reasons, fmt.Sprintf("high urgency: +%.2f", p.UrgencyBonus))
	}

	return clamp(score), reasons
}

// Policy turns a message into a routing decision
type Policy struct {
	scoring  ScoringPolicy
	selector *credits.Selector
	logger   *logrus.Logger
}

// NewPolicy creates a routing policy
func NewPolicy(scoring ScoringPolicy, selector *credits.Selector, logger *logrus.Logger) *Policy {
	return &Policy{scoring: scoring, selector: selector, logger: logger}
}

// Scoring returns the weights in use
func (p *Policy) Scoring() ScoringPolicy {
	return p.scoring
}

// Decide scores msg and gates the result by what its credit balance affords
func (p *Policy) Decide(msg types.MessageContext) types.RoutingDecision {
	score, reasons := p.scoring.Score(msg)
	required, selection := p.selector.Quote(msg)
	reasons = append(reasons, selection.Reason)

	decision := types.RoutingDecision{Confidence: score}

	switch {
	case selection.Provider == types.ProviderPrimaryAI && score >= p.scoring.PremiumThreshold:
		decision.Provider = types.ProviderPrimaryAI
		decision.EstimatedCost = required.Premium
		reasons = append(reasons, fmt.Sprintf("score %.2f meets premium threshold %.2f", score, p.scoring.PremiumThreshold))

	case selection.Provider == types.ProviderPrimaryAI:
		decision.Provider = types.ProviderSecondaryAI
		decision.EstimatedCost = required.Economy
		reasons = append(reasons, fmt.Sprintf("score %.2f below premium threshold %.2f", score, p.scoring.PremiumThreshold))

	case selection.Provider == types.ProviderSecondaryAI:
		decision.Provider = types.ProviderSecondaryAI
		decision.EstimatedCost = required.Economy
		decision.Confidence = clamp(score - p.scoring.CreditPenalty)
		reasons = append(reasons, fmt.Sprintf("limited credits: -%.2f", p.scoring.CreditPenalty))

	default:
		decision.Provider = types.ProviderTemplate
		decision.EstimatedCost = 0
		decision.Confidence = clamp(score - p.scoring.CreditPenalty)
		reasons = append(reasons, fmt.Sprintf("insufficient credits: -%.2f", p.scoring.CreditPenalty))
	}

	decision.Justification = reasons

	p.logger.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"provider":   decision.Provider,
		"confidence": decision.Confidence,
		"cost":       decision.EstimatedCost,
	}).Debug("Routing decision")

	return decision
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package credits decides which provider tier a message can afford.
package credits

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// ComplexityClass buckets a complexity score for pricing
type ComplexityClass string

const (
	ComplexitySimple  ComplexityClass = "simple"
	ComplexityMedium  ComplexityClass = "medium"
	ComplexityComplex ComplexityClass = "complex"
)

// Cost is the base price of one reply per tier
type Cost struct {
	Premium int `yaml:"premium" json:"premium"`
	Economy int `yaml:"economy" json:"economy"`
}

// RequiredCredits is the plan-adjusted price of one reply per tier
type RequiredCredits struct {
	Premium int `json:"premium"`
	Economy int `json:"economy"`
}

// Selection is the affordability verdict for a message
type Selection struct {
	Provider     types.ProviderID `json:"provider"`
	Reason       string           `json:"reason"`
	CostEstimate int              `json:"cost_estimate"`
}

// Config holds the pricing table
type Config struct {
	BaseCosts       map[ComplexityClass]Cost   `yaml:"base_costs"`
	PlanMultipliers map[types.PlanTier]float64 `yaml:"plan_multipliers"`

	// Complexity scores below SimpleBelow are simple, below MediumBelow medium
	SimpleBelow float64 `yaml:"simple_below"`
	MediumBelow float64 `yaml:"medium_below"`
}

// DefaultConfig returns the standard pricing table
func DefaultConfig() Config {
	return Config{
		BaseCosts: map[ComplexityClass]Cost{
			ComplexitySimple:  {Premium: 10, Economy: 3},
			ComplexityMedium:  {Premium: 25, Economy: 8},
			ComplexityComplex: {Premium: 50, Economy: 15},
		},
		PlanMultipliers: map[types.PlanTier]float64{
			types.PlanBasic:   1.0,
			types.PlanPro:     0.8,
			types.PlanPremium: 0.6,
		},
		SimpleBelow: 0.4,
		MediumBelow: 0.7,
	}
}

// Selector prices messages and picks the tier the balance covers
type Selector struct {
	config Config
	logger *logrus.Logger
}

// NewSelector creates a selector. Missing table entries are taken from the defaults.
func NewSelector(config Config, logger *logrus.Logger) *Selector {
	defaults := DefaultConfig()
	if config.BaseCosts == nil {
		config.BaseCosts = map[ComplexityClass]Cost{}
	}
	for class, cost := range defaults.BaseCosts {
		if _, ok := config.BaseCosts[class]; !ok {
			config.BaseCosts[class] = cost
		}
	}
	if config.PlanMultipliers == nil {
		config.PlanMultipliers = map[types.PlanTier]float64{}
	}
	for plan, m := range defaults.PlanMultipliers {
		if _, ok := config.PlanMultipliers[plan]; !ok {
			config.PlanMultipliers[plan] = m
		}
	}
	if config.SimpleBelow <= 0 {
		config.SimpleBelow = defaults.SimpleBelow
	}
	if config.MediumBelow <= config.SimpleBelow {
		config.MediumBelow = defaults.MediumBelow
	}

	return &Selector{config: config, logger: logger}
}

// ClassifyComplexity maps a 0..1 complexity score to a pricing class
func (s *Selector) ClassifyComplexity(score float64) ComplexityClass {
	switch {
	case score < s.config.SimpleBelow:
		return ComplexitySimple
	case score < s.config.MediumBelow:
		return ComplexityMedium
	default:
		return ComplexityComplex
	}
}

// CalculateRequiredCredits prices a reply for the given class and plan.
// Unknown plans pay full price and unknown classes are priced as complex.
// Results are rounded up so a fractional shortfall is never affordable.
func (s *Selector) CalculateRequiredCredits(class ComplexityClass, plan types.PlanTier) RequiredCredits {
	base, ok := s.config.BaseCosts[class]
	if !ok {
		base = s.config.BaseCosts[ComplexityComplex]
	}

	multiplier, ok := s.config.PlanMultipliers[plan]
	if !ok {
		multiplier = 1.0
	}

	return RequiredCredits{
		Premium: roundUp(float64(base.Premium) * multiplier),
		Economy: roundUp(float64(base.Economy) * multiplier),
	}
}

// SelectProviderByCredits walks the ladder premium, economy, template and
// returns the first tier the balance covers.
func (s *Selector) SelectProviderByCredits(available int, required RequiredCredits) Selection {
	var selection Selection

	switch {
	case available >= required.Premium:
		selection = Selection{
			Provider:     types.ProviderPrimaryAI,
			Reason:       fmt.Sprintf("balance %d covers premium cost %d", available, required.Premium),
			CostEstimate: required.Premium,
		}
	case available >= required.Economy:
		selection = Selection{
			Provider:     types.ProviderSecondaryAI,
			Reason:       fmt.Sprintf("balance %d covers economy cost %d only", available, required.Economy),
			CostEstimate: required.Economy,
		}
	default:
		selection = Selection{
			Provider:     types.ProviderTemplate,
			Reason:       fmt.Sprintf("balance %d below economy cost %d", available, required.Economy),
			CostEstimate: 0,
		}
	}

	s.logger.WithFields(logrus.Fields{
		"available": available,
		"premium":   required.Premium,
		"economy":   required.Economy,
		"provider":  selection.Provider,
	}).Debug("Credit selection")

	return selection
}

// Quote prices msg and selects its tier in one step
func (s *Selector) Quote(msg types.MessageContext) (RequiredCredits, Selection) {
	required := s.CalculateRequiredCredits(s.ClassifyComplexity(msg.Complexity), msg.Plan)
	return required, s.SelectProviderByCredits(msg.CreditBalance, required)
}

// roundUp is ceil with float noise trimmed, so 25*0.6 stays 15
func roundUp(v float64) int {
	return int(math.Ceil(math.Round(v*1e6) / 1e6))
}

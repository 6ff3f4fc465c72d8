// Package simulation replays synthetic CRM conversations through the routing
// policy and the fallback chain, with scripted AI providers in place of the
// real backends.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/credits"
	"github.com/tributary-ai/crm-reply-router/internal/providers"
	"github.com/tributary-ai/crm-reply-router/internal/providers/basic"
	"github.com/tributary-ai/crm-reply-router/internal/providers/template"
	"github.com/tributary-ai/crm-reply-router/internal/retry"
	"github.com/tributary-ai/crm-reply-router/internal/routing"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// errScriptedOutage is returned by scripted providers listed as failing
var errScriptedOutage = errors.New("scripted outage")

// Scenario is one synthetic conversation and what the router should do with it
type Scenario struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description" yaml:"description"`
	Message     types.MessageContext `json:"message" yaml:"message"`

	// Failing AI providers answer every call with an error
	Failing []types.ProviderID `json:"failing,omitempty" yaml:"failing,omitempty"`
	// Unhealthy AI providers are reported down by the health view
	Unhealthy []types.ProviderID `json:"unhealthy,omitempty" yaml:"unhealthy,omitempty"`

	ExpectProvider types.ProviderID `json:"expect_provider" yaml:"expect_provider"`
	MinConfidence  float64          `json:"min_confidence" yaml:"min_confidence"`
	// ExpectMethod is the level expected to produce the reply
	ExpectMethod string `json:"expect_method" yaml:"expect_method"`
}

// Outcome is the evaluation of one scenario
type Outcome struct {
	Scenario string                `json:"scenario"`
	Decision types.RoutingDecision `json:"decision"`
	Result   types.Result          `json:"result"`
	Passed   bool                  `json:"passed"`
	Problems []string              `json:"problems,omitempty"`
}

// Report summarizes a simulation run
type Report struct {
	Outcomes []Outcome    `json:"outcomes"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether every scenario passed
func (r Report) OK() bool {
	return r.Failed == 0
}

// Config holds the routing setup scenarios are evaluated against
type Config struct {
	Scoring    routing.ScoringPolicy
	Credits    credits.Config
	Templates  template.Config
	BasicReply string
	Retry      retry.Config
}

// DefaultConfig uses the production scoring and pricing tables with short
// retry delays so failing scenarios finish quickly.
func DefaultConfig() Config {
	return Config{
		Scoring:    routing.DefaultScoringPolicy(),
		Credits:    credits.DefaultConfig(),
		Templates:  template.DefaultConfig(),
		BasicReply: basic.DefaultReply,
		Retry: retry.Config{
			MaxAttempts:    2,
			AttemptTimeout: time.Second,
			BaseDelay:      5 * time.Millisecond,
			MaxDelay:       20 * time.Millisecond,
		},
	}
}

// Scenarios returns the built-in scenarios
func Scenarios() []Scenario {
	return []Scenario{
		{
			Name:        "high-value-sales",
			Description: "Valuable lead asking to buy with a full credit balance",
			Message: types.MessageContext{
				Sender: "5511988887777", SenderName: "Marina", Text: "Quero fechar o plano anual hoje",
				UserValue: 5000, Intent: types.IntentSales, Urgency: types.UrgencyHigh,
				CreditBalance: 1000, Plan: types.PlanBasic,
			},
			ExpectProvider: types.ProviderPrimaryAI,
			MinConfidence:  0.6,
			ExpectMethod:   string(types.ProviderPrimaryAI),
		},
		{
			Name:        "routine-information",
			Description: "Low urgency question does not warrant the premium provider",
			Message: types.MessageContext{
				Sender: "5521977776666", Text: "Qual o horário de funcionamento?",
				Intent: types.IntentInformation, Urgency: types.UrgencyLow,
				Complexity: 0.5, CreditBalance: 1000, Plan: types.PlanBasic,
			},
			ExpectProvider: types.ProviderSecondaryAI,
			MinConfidence:  0.5,
			ExpectMethod:   string(types.ProviderSecondaryAI),
		},
		{
			Name:        "urgent-complaint",
			Description: "Urgent complaint from a small account still goes premium",
			Message: types.MessageContext{
				Sender: "5531966665555", Text: "Meu pedido não chegou e preciso dele hoje!",
				UserValue: 200, Intent: types.IntentComplaint, Urgency: types.UrgencyHigh,
				Complexity: 0.2, CreditBalance: 100, Plan: types.PlanBasic,
			},
			ExpectProvider: types.ProviderPrimaryAI,
			MinConfidence:  0.6,
			ExpectMethod:   string(types.ProviderPrimaryAI),
		},
		{
			Name:        "premium-plan-discount",
			Description: "Premium plan multiplier makes a complex premium reply affordable",
			Message: types.MessageContext{
				Sender: "5541955554444", Text: "Preciso integrar o CRM com meu ERP",
				Intent: types.IntentSales, Complexity: 0.9, CreditBalance: 30, Plan: types.PlanPremium,
			},
			ExpectProvider: types.ProviderPrimaryAI,
			MinConfidence:  0.6,
			ExpectMethod:   string(types.ProviderPrimaryAI),
		},
		{
			Name:        "credits-exhausted",
			Description: "Balance below every AI tier falls back to the smart template",
			Message: types.MessageContext{
				Sender: "5551944443333", SenderName: "João", Text: "Preciso de ajuda com minha conta",
				Intent: types.IntentSupport, Complexity: 0.1, CreditBalance: 2, Plan: types.PlanBasic,
			},
			ExpectProvider: types.ProviderTemplate,
			ExpectMethod:   string(types.ProviderTemplate),
		},
		{
			Name:        "primary-outage",
			Description: "Premium provider down, the economy provider answers",
			Message: types.MessageContext{
				Sender: "5561933332222", Text: "Quero um orçamento",
				UserValue: 5000, Intent: types.IntentSales, Urgency: types.UrgencyHigh,
				CreditBalance: 1000, Plan: types.PlanPro,
			},
			Failing:        []types.ProviderID{types.ProviderPrimaryAI},
			ExpectProvider: types.ProviderPrimaryAI,
			MinConfidence:  0.6,
			ExpectMethod:   string(types.ProviderSecondaryAI),
		},
		{
			Name:        "total-ai-outage",
			Description: "Both AI providers down, the smart template answers",
			Message: types.MessageContext{
				Sender: "5571922221111", Text: "Vocês entregam no sábado?",
				Intent: types.IntentInformation, Urgency: types.UrgencyMedium,
				Complexity: 0.3, CreditBalance: 500, Plan: types.PlanBasic,
			},
			Failing:        []types.ProviderID{types.ProviderPrimaryAI, types.ProviderSecondaryAI},
			ExpectProvider: types.ProviderSecondaryAI,
			ExpectMethod:   string(types.ProviderTemplate),
		},
		{
			Name:        "economy-unhealthy",
			Description: "Economy provider marked unhealthy is skipped without a call",
			Message: types.MessageContext{
				Sender: "5581911110000", Text: "Como troco minha senha?",
				Intent: types.IntentSupport, Urgency: types.UrgencyLow,
				Complexity: 0.5, CreditBalance: 1000, Plan: types.PlanBasic,
			},
			Unhealthy:      []types.ProviderID{types.ProviderSecondaryAI},
			ExpectProvider: types.ProviderSecondaryAI,
			ExpectMethod:   string(types.ProviderTemplate),
		},
	}
}

// Runner evaluates scenarios
type Runner struct {
	config Config
	logger *logrus.Logger
}

// NewRunner creates a runner
func NewRunner(config Config, logger *logrus.Logger) *Runner {
	return &Runner{config: config, logger: logger}
}

// Run evaluates every scenario against a fresh orchestrator so breaker state
// never leaks between scenarios
func (r *Runner) Run(ctx context.Context, scenarios []Scenario) Report {
	start := time.Now()
	report := Report{}

	for _, sc := range scenarios {
		outcome := r.runOne(ctx, sc)
		if outcome.Passed {
			report.Passed++
		} else {
			report.Failed++
		}

		r.logger.WithFields(logrus.Fields{
			"scenario":   sc.Name,
			"provider":   outcome.Decision.Provider,
			"confidence": outcome.Decision.Confidence,
			"method":     outcome.Result.Method,
			"passed":     outcome.Passed,
		}).Info("Scenario evaluated")

		report.Outcomes = append(report.Outcomes, outcome)
	}

	report.Duration = time.Since(start)
	return report
}

func (r *Runner) runOne(ctx context.Context, sc Scenario) Outcome {
	msg := sc.Message
	if msg.ID == "" {
		msg.ID = "sim-" + sc.Name
	}
	if msg.Channel == "" {
		msg.Channel = types.ChannelWhatsApp
	}
	msg = msg.WithDefaults(time.Now())

	failing := toSet(sc.Failing)
	set := providers.NewSet(
		&scriptedProvider{id: types.ProviderPrimaryAI, fail: failing[types.ProviderPrimaryAI]},
		&scriptedProvider{id: types.ProviderSecondaryAI, fail: failing[types.ProviderSecondaryAI]},
		template.NewProvider(r.config.Templates, r.logger),
		basic.NewProvider(r.config.BasicReply),
	)

	policy := routing.NewPolicy(r.config.Scoring, credits.NewSelector(r.config.Credits, r.logger), r.logger)
	orchestrator := routing.NewOrchestrator(policy, set, retry.NewExecutor(r.config.Retry, r.logger), r.logger,
		routing.WithHealth(unhealthySet(toSet(sc.Unhealthy))),
	)

	outcome := Outcome{
		Scenario: sc.Name,
		Decision: orchestrator.Decide(msg),
		Result:   orchestrator.ExecuteWithFallback(ctx, msg),
	}

	if sc.ExpectProvider != "" && outcome.Decision.Provider != sc.ExpectProvider {
		outcome.Problems = append(outcome.Problems,
			fmt.Sprintf("decided %s, expected %s", outcome.Decision.Provider, sc.ExpectProvider))
	}
	if outcome.Decision.Confidence < sc.MinConfidence {
		outcome.Problems = append(outcome.Problems,
			fmt.Sprintf("confidence %.2f below %.2f", outcome.Decision.Confidence, sc.MinConfidence))
	}
	if sc.ExpectMethod != "" && outcome.Result.Method != sc.ExpectMethod {
		outcome.Problems = append(outcome.Problems,
			fmt.Sprintf("answered by %s, expected %s", outcome.Result.Method, sc.ExpectMethod))
	}
	if !outcome.Result.Success {
		outcome.Problems = append(outcome.Problems, "no reply produced")
	}
	outcome.Passed = len(outcome.Problems) == 0
	return outcome
}

func toSet(ids []types.ProviderID) map[types.ProviderID]bool {
	set := make(map[types.ProviderID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// unhealthySet is a health view that reports the listed providers as down
type unhealthySet map[types.ProviderID]bool

func (u unhealthySet) IsAvailable(id types.ProviderID) bool {
	return !u[id]
}

// scriptedProvider stands in for an AI backend
type scriptedProvider struct {
	id   types.ProviderID
	fail bool
}

func (p *scriptedProvider) ID() types.ProviderID { return p.id }

func (p *scriptedProvider) SendMessage(ctx context.Context, msg types.MessageContext) (*types.ProviderResponse, error) {
	if p.fail {
		return nil, fmt.Errorf("%s: %w", p.id, errScriptedOutage)
	}
	return &types.ProviderResponse{
		Success: true,
		Content: fmt.Sprintf("[%s] resposta para: %s", p.id, msg.Text),
		Model:   "scripted",
	}, nil
}

func (p *scriptedProvider) HealthCheck(ctx context.Context) (*types.ProviderResponse, error) {
	return p.SendMessage(ctx, types.MessageContext{Text: "ping"})
}

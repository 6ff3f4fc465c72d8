// Package routing decides which provider answers a message and drives the
// ordered fallback chain until one of them does.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/tributary-ai/crm-reply-router/internal/providers"
	"github.com/tributary-ai/crm-reply-router/internal/retry"
	"github.com/tributary-ai/crm-reply-router/internal/telemetry"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

var (
	// ErrCircuitOpen is a level failure caused by an open circuit breaker
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProviderRejected is a level failure caused by a response with success=false
	ErrProviderRejected = errors.New("provider returned unsuccessful response")
)

// Skip reasons
const (
	SkipCredits   = "credits"
	SkipUnhealthy = "unhealthy"
)

// MethodEmergency names the reply served when every level failed
const MethodEmergency = "emergency"

// DefaultEmergencyReply is served when every level failed
const DefaultEmergencyReply = "Desculpe, estamos com instabilidade no momento. " +
	"Sua mensagem foi recebida e responderemos o mais breve possível."

// Level is one step of the fallback chain
type Level int

const (
	LevelPrimaryAI Level = iota
	LevelSecondaryAI
	LevelSmartTemplate
	LevelBasic
)

// Levels is the fixed fallback order
var Levels = []Level{LevelPrimaryAI, LevelSecondaryAI, LevelSmartTemplate, LevelBasic}

// Provider returns the provider serving the level
func (l Level) Provider() types.ProviderID {
	switch l {
	case LevelPrimaryAI:
		return types.ProviderPrimaryAI
	case LevelSecondaryAI:
		return types.ProviderSecondaryAI
	case LevelSmartTemplate:
		return types.ProviderTemplate
	case LevelBasic:
		return types.ProviderBasic
	default:
		return types.ProviderNone
	}
}

func (l Level) String() string {
	return string(l.Provider())
}

// levelOf maps a decided provider to its position in the chain
func levelOf(id types.ProviderID) Level {
	switch id {
	case types.ProviderPrimaryAI:
		return LevelPrimaryAI
	case types.ProviderSecondaryAI:
		return LevelSecondaryAI
	case types.ProviderTemplate:
		return LevelSmartTemplate
	default:
		return LevelBasic
	}
}

// HealthView reports whether a provider may be attempted
type HealthView interface {
	IsAvailable(id types.ProviderID) bool
}

// OutcomeRecorder receives per-message outcomes for alerting
type OutcomeRecorder interface {
	RecordSuccess(ctx context.Context, latency time.Duration)
	RecordFailure(ctx context.Context, cause error)
}

// BreakerConfig configures the per-provider circuit breakers
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	HalfOpenRequests    uint32        `yaml:"half_open_requests"`
}

// DefaultBreakerConfig trips after 5 consecutive failures and stays open for 60s
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         60 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Orchestrator produces a reply for every message, falling back level by
// level and finally to the emergency reply.
type Orchestrator struct {
	policy    *Policy
	providers providers.Set
	executor  *retry.Executor
	breakers  map[types.ProviderID]*gobreaker.CircuitBreaker[*types.ProviderResponse]

	health         HealthView
	outcomes       OutcomeRecorder
	metrics        *telemetry.Metrics
	breakerConfig  BreakerConfig
	emergencyReply string
	logger         *logrus.Logger
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithHealth skips AI levels whose provider is unhealthy
func WithHealth(h HealthView) Option {
	return func(o *Orchestrator) { o.health = h }
}

// WithOutcomes reports successes and total failures
func WithOutcomes(r OutcomeRecorder) Option {
	return func(o *Orchestrator) { o.outcomes = r }
}

// WithMetrics records every result
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithBreakerConfig replaces the circuit breaker settings
func WithBreakerConfig(c BreakerConfig) Option {
	return func(o *Orchestrator) { o.breakerConfig = c }
}

// WithEmergencyReply replaces the emergency reply text
func WithEmergencyReply(reply string) Option {
	return func(o *Orchestrator) {
		if reply != "" {
			o.emergencyReply = reply
		}
	}
}

// NewOrchestrator creates an orchestrator over the given providers
func NewOrchestrator(policy *Policy, set providers.Set, executor *retry.Executor, logger *logrus.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		policy:         policy,
		providers:      set,
		executor:       executor,
		breakers:       make(map[types.ProviderID]*gobreaker.CircuitBreaker[*types.ProviderResponse]),
		breakerConfig:  DefaultBreakerConfig(),
		emergencyReply: DefaultEmergencyReply,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	defaults := DefaultBreakerConfig()
	if o.breakerConfig.ConsecutiveFailures == 0 {
		o.breakerConfig.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if o.breakerConfig.OpenTimeout <= 0 {
		o.breakerConfig.OpenTimeout = defaults.OpenTimeout
	}
	if o.breakerConfig.HalfOpenRequests == 0 {
		o.breakerConfig.HalfOpenRequests = defaults.HalfOpenRequests
	}

	for _, id := range []types.ProviderID{types.ProviderPrimaryAI, types.ProviderSecondaryAI} {
		o.breakers[id] = o.newBreaker(id)
	}
	return o
}

// Decide returns the routing decision for msg without sending anything
func (o *Orchestrator) Decide(msg types.MessageContext) types.RoutingDecision {
	return o.policy.Decide(msg)
}

// BreakerState returns the circuit state of an AI provider
func (o *Orchestrator) BreakerState(id types.ProviderID) (gobreaker.State, bool) {
	cb, ok := o.breakers[id]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return cb.State(), true
}

// ExecuteWithFallback always returns a successful result. Levels above the
// affordable tier are skipped, unhealthy AI providers are skipped, and every
// other level is attempted in order until one produces a reply.
func (o *Orchestrator) ExecuteWithFallback(ctx context.Context, msg types.MessageContext) (result types.Result) {
	start := time.Now()
	result = types.Result{MessageID: msg.ID}

	var lastErr error
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithField("message_id", msg.ID).Errorf("Fallback chain panicked: %v", r)
			lastErr = fmt.Errorf("fallback chain panicked: %v", r)
			o.emergency(&result)
		}
		result.Duration = time.Since(start)
		o.report(ctx, result, lastErr)
	}()

	decision := o.policy.Decide(msg)
	result.Decision = &decision
	entry := levelOf(decision.Provider)

	for _, level := range Levels {
		if level < entry {
			result.Skipped = append(result.Skipped, types.SkippedLevel{Level: level.String(), Reason: SkipCredits})
			continue
		}
		if level.Provider().IsAI() && o.health != nil && !o.health.IsAvailable(level.Provider()) {
			result.Skipped = append(result.Skipped, types.SkippedLevel{Level: level.String(), Reason: SkipUnhealthy})
			o.logger.WithField("level", level).Debug("Skipping unhealthy provider")
			continue
		}

		resp, attempts, err := o.attempt(ctx, level, msg)
		result.Attempts += attempts
		if err != nil {
			lastErr = err
			result.Failed = append(result.Failed, types.FailedLevel{Level: level.String(), Error: err.Error()})
			o.logger.WithError(err).WithFields(logrus.Fields{
				"message_id": msg.ID,
				"level":      level,
				"attempts":   attempts,
			}).Warn("Fallback level failed")

			if ctx.Err() != nil {
				break
			}
			continue
		}

		result.Success = true
		result.Content = resp.Content
		result.Method = level.String()
		result.Provider = level.Provider()
		result.Level = int(level)
		return result
	}

	o.emergency(&result)
	return result
}

// attempt runs one level through the retry executor
func (o *Orchestrator) attempt(ctx context.Context, level Level, msg types.MessageContext) (*types.ProviderResponse, int, error) {
	provider, err := o.providers.Get(level.Provider())
	if err != nil {
		return nil, 0, err
	}

	switch level {
	case LevelPrimaryAI, LevelSecondaryAI:
		cb := o.breakers[level.Provider()]
		resp, outcome, err := o.executor.Execute(ctx, func(ctx context.Context) (*types.ProviderResponse, error) {
			return o.callThroughBreaker(ctx, cb, provider, msg)
		})
		return resp, outcome.Attempts, err

	case LevelSmartTemplate, LevelBasic:
		resp, outcome, err := o.executor.ExecuteN(ctx, func(ctx context.Context) (*types.ProviderResponse, error) {
			return checked(provider.SendMessage(ctx, msg))
		}, 1)
		return resp, outcome.Attempts, err

	default:
		return nil, 0, fmt.Errorf("no handler for level %d", level)
	}
}

// callThroughBreaker sends msg through the provider's circuit breaker. Open
// breakers and explicit rejections are not retried.
func (o *Orchestrator) callThroughBreaker(ctx context.Context, cb *gobreaker.CircuitBreaker[*types.ProviderResponse], provider providers.Provider, msg types.MessageContext) (*types.ProviderResponse, error) {
	resp, err := cb.Execute(func() (*types.ProviderResponse, error) {
		return checked(provider.SendMessage(ctx, msg))
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrCircuitOpen, provider.ID()))
	case errors.Is(err, ErrProviderRejected):
		return nil, retry.Permanent(err)
	}
	return resp, err
}

// checked turns a success=false response into an error
func checked(resp *types.ProviderResponse, err error) (*types.ProviderResponse, error) {
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrProviderRejected)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrProviderRejected, resp.Error)
	}
	return resp, nil
}

func (o *Orchestrator) emergency(result *types.Result) {
	result.Success = true
	result.Content = o.emergencyReply
	result.Method = MethodEmergency
	result.Provider = ""
	result.Level = len(Levels)
}

func (o *Orchestrator) report(ctx context.Context, result types.Result, lastErr error) {
	o.metrics.RecordResult(ctx, result)

	if o.outcomes != nil {
		if result.Method == MethodEmergency {
			o.outcomes.RecordFailure(ctx, lastErr)
		} else {
			o.outcomes.RecordSuccess(ctx, result.Duration)
		}
	}

	o.logger.WithFields(logrus.Fields{
		"message_id":  result.MessageID,
		"method":      result.Method,
		"attempts":    result.Attempts,
		"skipped":     len(result.Skipped),
		"failed":      len(result.Failed),
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Message routed")
}

func (o *Orchestrator) newBreaker(id types.ProviderID) *gobreaker.CircuitBreaker[*types.ProviderResponse] {
	threshold := o.breakerConfig.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker[*types.ProviderResponse](gobreaker.Settings{
		Name:        string(id),
		MaxRequests: o.breakerConfig.HalfOpenRequests,
		Timeout:     o.breakerConfig.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.WithFields(logrus.Fields{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

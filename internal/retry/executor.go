// Package retry runs provider calls with bounded attempts, exponential
// backoff and a per-attempt timeout.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// ErrAttemptTimeout is returned when a single attempt exceeds the attempt timeout
var ErrAttemptTimeout = errors.New("attempt timed out")

// Operation is one attempt at producing a provider response
type Operation func(ctx context.Context) (*types.ProviderResponse, error)

// Config holds retry policy settings
type Config struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns the standard policy: 3 attempts, 30s per attempt,
// delays of 1s doubling up to 10s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
	}
}

// ExhaustedError is returned after every attempt failed
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Permanent marks an error as not worth retrying
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Outcome describes how an execution ended
type Outcome struct {
	Attempts int
	Waits    []time.Duration
}

// Executor wraps operations with retry and timeout policy
type Executor struct {
	config Config
	logger *logrus.Logger
	timer  func() backoff.Timer
}

// Option customizes an Executor
type Option func(*Executor)

// WithTimer replaces the timer used to wait between attempts
func WithTimer(factory func() backoff.Timer) Option {
	return func(e *Executor) {
		e.timer = factory
	}
}

// NewExecutor creates a new executor
func NewExecutor(config Config, logger *logrus.Logger, opts ...Option) *Executor {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}

	e := &Executor{
		config: config,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective policy
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs op with the configured number of attempts
func (e *Executor) Execute(ctx context.Context, op Operation) (*types.ProviderResponse, Outcome, error) {
	return e.ExecuteN(ctx, op, e.config.MaxAttempts)
}

// ExecuteN runs op up to maxAttempts times. Between failed attempts it waits
// min(BaseDelay*2^(n-1), MaxDelay). Errors wrapped with Permanent end the
// loop immediately and are returned unchanged.
func (e *Executor) ExecuteN(ctx context.Context, op Operation, maxAttempts int) (*types.ProviderResponse, Outcome, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var (
		resp      *types.ProviderResponse
		outcome   Outcome
		permanent bool
	)

	attempt := func() error {
		outcome.Attempts++
		r, err := e.attempt(ctx, op)
		if err != nil {
			if ctx.Err() != nil {
				permanent = true
				return backoff.Permanent(ctx.Err())
			}
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				permanent = true
			}
			return err
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		outcome.Waits = append(outcome.Waits, wait)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  outcome.Attempts,
			"max":      maxAttempts,
			"delay_ms": wait.Milliseconds(),
		}).Debug("Attempt failed, backing off")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(e.newBackOff(), uint64(maxAttempts-1)),
		ctx,
	)

	var timer backoff.Timer
	if e.timer != nil {
		timer = e.timer()
	}

	err := backoff.RetryNotifyWithTimer(attempt, policy, notify, timer)
	if err == nil {
		return resp, outcome, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	if permanent || ctx.Err() != nil {
		return nil, outcome, err
	}

	return nil, outcome, &ExhaustedError{Attempts: outcome.Attempts, Last: err}
}

// Schedule returns the first n backoff delays of the policy
func (e *Executor) Schedule(n int) []time.Duration {
	b := e.newBackOff()
	delays := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.BaseDelay
	b.MaxInterval = e.config.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// attempt races op against the attempt timeout. The losing operation is
// cancelled through its context and its late result is discarded.
func (e *Executor) attempt(ctx context.Context, op Operation) (*types.ProviderResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()

	type result struct {
		resp *types.ProviderResponse
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		resp, err := op(attemptCtx)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrAttemptTimeout, e.config.AttemptTimeout)
	}
}

package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// ErrSchedulerRunning is returned by Start on a running scheduler
var ErrSchedulerRunning = errors.New("health scheduler already running")

// Checker runs one probe cycle
type Checker interface {
	CheckAllAPIs(ctx context.Context) map[types.ProviderID]types.ProviderHealth
}

// Ticker delivers ticks until stopped
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Scheduler runs probe cycles on a fixed interval between Start and Stop
type Scheduler struct {
	checker   Checker
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	logger    *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerOption customizes a Scheduler
type SchedulerOption func(*Scheduler)

// WithTicker replaces the tick source
func WithTicker(factory func(time.Duration) Ticker) SchedulerOption {
	return func(s *Scheduler) {
		s.newTicker = factory
	}
}

// NewScheduler creates a stopped scheduler
func NewScheduler(checker Checker, interval time.Duration, logger *logrus.Logger, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	s := &Scheduler{
		checker:  checker,
		interval: interval,
		logger:   logger,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{t: time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one cycle immediately and then one per tick until Stop is
// called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.newTicker(s.interval)
	go s.run(runCtx, ticker, s.done)

	s.logger.WithField("interval", s.interval.String()).Info("Health scheduler started")
	return nil
}

// Stop halts the scheduler and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Health scheduler stopped")
}

// Running reports whether the scheduler has been started and not stopped
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	results := s.checker.CheckAllAPIs(ctx)

	counts := make(map[types.HealthState]int)
	for _, h := range results {
		counts[h.Status]++
	}
	s.logger.WithFields(logrus.Fields{
		"healthy":   counts[types.HealthHealthy],
		"degraded":  counts[types.HealthDegraded],
		"unhealthy": counts[types.HealthUnhealthy],
	}).Debug("Health check cycle completed")
}

// Package health tracks provider liveness and latency from periodic probes.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/providers"
	"github.com/tributary-ai/crm-reply-router/internal/telemetry"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// Prober runs a lightweight synthetic request against a provider
type Prober interface {
	HealthCheck(ctx context.Context) (*types.ProviderResponse, error)
}

// Config holds probe settings
type Config struct {
	Interval     time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// DefaultConfig probes every 5 minutes with a 10s budget per probe
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		ProbeTimeout: 10 * time.Second,
	}
}

// Monitor owns the provider health table. Only probes write to it.
type Monitor struct {
	mu      sync.RWMutex
	probers map[types.ProviderID]Prober
	table   map[types.ProviderID]types.ProviderHealth

	config  Config
	logger  *logrus.Logger
	metrics *telemetry.Metrics
}

// Option customizes a Monitor
type Option func(*Monitor)

// WithMetrics records probe latency
func WithMetrics(m *telemetry.Metrics) Option {
	return func(mon *Monitor) {
		mon.metrics = m
	}
}

// NewMonitor creates a monitor with an empty table
func NewMonitor(config Config, logger *logrus.Logger, opts ...Option) *Monitor {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}

	m := &Monitor{
		probers: make(map[types.ProviderID]Prober),
		table:   make(map[types.ProviderID]types.ProviderHealth),
		config:  config,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective settings
func (m *Monitor) Config() Config {
	return m.config
}

// Register adds a provider to the table as healthy with zero response time
func (m *Monitor) Register(id types.ProviderID, prober Prober) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.probers[id] = prober
	m.table[id] = types.ProviderHealth{Provider: id, Status: types.HealthHealthy}

	m.logger.WithField("provider", id).Info("Provider registered for health checks")
}

// CheckAPIHealth probes one provider and records the outcome. Probe failures
// are recorded as status, not returned; the error is only for unknown ids.
func (m *Monitor) CheckAPIHealth(ctx context.Context, id types.ProviderID) (types.ProviderHealth, error) {
	m.mu.RLock()
	prober, ok := m.probers[id]
	m.mu.RUnlock()
	if !ok {
		return types.ProviderHealth{}, fmt.Errorf("%w: %s", providers.ErrUnknownProvider, id)
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := probe(probeCtx, prober)
	elapsed := time.Since(start)

	health := types.ProviderHealth{
		Provider:     id,
		LastChecked:  time.Now(),
		ResponseTime: elapsed,
	}

	switch {
	case err != nil:
		health.Status = types.HealthUnhealthy
		health.ErrorMessage = err.Error()
		m.logger.WithError(err).WithField("provider", id).Warn("Health check failed")
	case resp == nil || !resp.Success:
		health.Status = types.HealthDegraded
		if resp != nil {
			health.ErrorMessage = resp.Error
		}
		m.logger.WithFields(logrus.Fields{
			"provider": id,
			"error":    health.ErrorMessage,
		}).Warn("Health check degraded")
	default:
		health.Status = types.HealthHealthy
		m.logger.WithFields(logrus.Fields{
			"provider":    id,
			"response_ms": elapsed.Milliseconds(),
		}).Debug("Health check passed")
	}

	m.mu.Lock()
	m.table[id] = health
	m.mu.Unlock()

	m.metrics.RecordProbe(ctx, health)
	return health, nil
}

// CheckAllAPIs probes every registered provider concurrently and waits for all of them
func (m *Monitor) CheckAllAPIs(ctx context.Context) map[types.ProviderID]types.ProviderHealth {
	m.mu.RLock()
	ids := make([]types.ProviderID, 0, len(m.probers))
	for id := range m.probers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[types.ProviderID]types.ProviderHealth, len(ids))
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ProviderID) {
			defer wg.Done()
			health, err := m.CheckAPIHealth(ctx, id)
			if err != nil {
				return
			}
			mu.Lock()
			results[id] = health
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return results
}

// Status returns the last recorded health of a provider
func (m *Monitor) Status(id types.ProviderID) (types.ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.table[id]
	return h, ok
}

// IsAvailable reports whether routing may attempt the provider. Degraded
// providers are still attempted; unregistered ids are not tracked and
// therefore never blocked.
func (m *Monitor) IsAvailable(id types.ProviderID) bool {
	h, ok := m.Status(id)
	return !ok || h.Status != types.HealthUnhealthy
}

// Snapshot returns a copy of the health table
func (m *Monitor) Snapshot() map[types.ProviderID]types.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[types.ProviderID]types.ProviderHealth, len(m.table))
	for id, h := range m.table {
		snapshot[id] = h
	}
	return snapshot
}

// HealthyProviders returns the providers currently marked healthy, sorted by id
func (m *Monitor) HealthyProviders() []types.ProviderID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var healthy []types.ProviderID
	for id, h := range m.table {
		if h.Status == types.HealthHealthy {
			healthy = append(healthy, id)
		}
	}
	sort.Slice(healthy, func(i, j int) bool { return healthy[i] < healthy[j] })
	return healthy
}

// BestProvider returns the healthy provider with the lowest last response
// time, or ProviderNone when nothing is healthy. Ties go to the lower id.
func (m *Monitor) BestProvider() types.ProviderID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := types.ProviderNone
	var bestTime time.Duration
	for id, h := range m.table {
		if h.Status != types.HealthHealthy {
			continue
		}
		if best == types.ProviderNone || h.ResponseTime < bestTime || (h.ResponseTime == bestTime && id < best) {
			best = id
			bestTime = h.ResponseTime
		}
	}
	return best
}

// probe runs the check and converts a panic into an error
func probe(ctx context.Context, prober Prober) (resp *types.ProviderResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health probe panicked: %v", r)
		}
	}()
	return prober.HealthCheck(ctx)
}

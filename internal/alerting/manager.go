// Package alerting raises threshold alerts for the reply pipeline and
// forwards them to notification sinks.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/crm-reply-router/internal/telemetry"
	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// ErrAlertNotFound is returned by Resolve for an unknown id
var ErrAlertNotFound = errors.New("alert not found")

// Thresholds configures when alerts fire
type Thresholds struct {
	ResponseTime        time.Duration `yaml:"response_time"`
	ErrorRate           float64       `yaml:"error_rate"`
	MinSamples          int           `yaml:"min_samples"`
	SampleWindow        int           `yaml:"sample_window"`
	ResourceUsage       float64       `yaml:"resource_usage"`
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
	NotifyTimeout       time.Duration `yaml:"notify_timeout"`
}

// DefaultThresholds returns the standard alerting policy
func DefaultThresholds() Thresholds {
	return Thresholds{
		ResponseTime:        5 * time.Second,
		ErrorRate:           0.10,
		MinSamples:          10,
		SampleWindow:        100,
		ResourceUsage:       0.90,
		ConsecutiveFailures: 3,
		NotifyTimeout:       10 * time.Second,
	}
}

// Sink delivers alerts to an external channel
type Sink interface {
	Name() string
	Notify(ctx context.Context, alert types.Alert) error
}

// Manager owns the append-only alert log
type Manager struct {
	mu     sync.RWMutex
	alerts []types.Alert

	consecutive       int
	unavailableRaised bool
	errorRateRaised   bool
	resourceRaised    bool
	samples           []bool
	next              int
	filled            int

	thresholds Thresholds
	sinks      []Sink
	logger     *logrus.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time

	pending sync.WaitGroup
}

// Option customizes a Manager
type Option func(*Manager)

// WithSinks adds notification sinks
func WithSinks(sinks ...Sink) Option {
	return func(m *Manager) {
		m.sinks = append(m.sinks, sinks...)
	}
}

// WithMetrics counts raised alerts
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a manager. Zero thresholds take their defaults.
func NewManager(thresholds Thresholds, logger *logrus.Logger, opts ...Option) *Manager {
	defaults := DefaultThresholds()
	if thresholds.ResponseTime <= 0 {
		thresholds.ResponseTime = defaults.ResponseTime
	}
	if thresholds.ErrorRate <= 0 {
		thresholds.ErrorRate = defaults.ErrorRate
	}
	if thresholds.MinSamples <= 0 {
		thresholds.MinSamples = defaults.MinSamples
	}
	if thresholds.SampleWindow < thresholds.MinSamples {
		thresholds.SampleWindow = defaults.SampleWindow
		if thresholds.SampleWindow < thresholds.MinSamples {
			thresholds.SampleWindow = thresholds.MinSamples
		}
	}
	if thresholds.ResourceUsage <= 0 {
		thresholds.ResourceUsage = defaults.ResourceUsage
	}
	if thresholds.ConsecutiveFailures <= 0 {
		thresholds.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if thresholds.NotifyTimeout <= 0 {
		thresholds.NotifyTimeout = defaults.NotifyTimeout
	}

	m := &Manager{
		thresholds: thresholds,
		samples:    make([]bool, thresholds.SampleWindow),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds returns the effective thresholds
func (m *Manager) Thresholds() Thresholds {
	return m.thresholds
}

// RecordSuccess resets the consecutive-failure counter and checks latency
func (m *Manager) RecordSuccess(ctx context.Context, latency time.Duration) {
	m.mu.Lock()
	m.consecutive = 0
	m.unavailableRaised = false
	m.addSample(true)
	m.mu.Unlock()

	m.CheckResponseTime(ctx, latency)
	m.CheckErrorRate(ctx)
}

// RecordFailure counts a failed request. Reaching the consecutive-failure
// threshold raises system_unavailable once until the next success.
func (m *Manager) RecordFailure(ctx context.Context, cause error) {
	m.mu.Lock()
	m.consecutive++
	m.addSample(false)
	count := m.consecutive
	fire := count >= m.thresholds.ConsecutiveFailures && !m.unavailableRaised
	if fire {
		m.unavailableRaised = true
	}
	m.mu.Unlock()

	if fire {
		details := map[string]interface{}{
			"consecutive_failures": count,
			"threshold":            m.thresholds.ConsecutiveFailures,
		}
		if cause != nil {
			details["last_error"] = cause.Error()
		}
		m.Raise(ctx, types.AlertSystemUnavailable, types.SeverityCritical,
			fmt.Sprintf("%d consecutive failures, replies are falling back to emergency", count), details)
	}

	m.CheckErrorRate(ctx)
}

// ConsecutiveFailures returns the current failure streak
func (m *Manager) ConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutive
}

// CheckResponseTime raises a warning for every reply slower than the threshold
func (m *Manager) CheckResponseTime(ctx context.Context, latency time.Duration) *types.Alert {
	if latency <= m.thresholds.ResponseTime {
		return nil
	}
	alert := m.Raise(ctx, types.AlertResponseTime, types.SeverityWarning,
		fmt.Sprintf("reply took %s, threshold %s", latency.Round(time.Millisecond), m.thresholds.ResponseTime),
		map[string]interface{}{
			"response_time_ms": latency.Milliseconds(),
			"threshold_ms":     m.thresholds.ResponseTime.Milliseconds(),
		})
	return &alert
}

// CheckErrorRate raises when the failure rate over the sample window crosses
// the threshold. It fires again only after the rate has recovered.
func (m *Manager) CheckErrorRate(ctx context.Context) *types.Alert {
	m.mu.Lock()
	if m.filled < m.thresholds.MinSamples {
		m.mu.Unlock()
		return nil
	}
	failures := 0
	for i := 0; i < m.filled; i++ {
		if !m.samples[i] {
			failures++
		}
	}
	samples := m.filled
	rate := float64(failures) / float64(samples)

	if rate <= m.thresholds.ErrorRate {
		m.errorRateRaised = false
		m.mu.Unlock()
		return nil
	}
	if m.errorRateRaised {
		m.mu.Unlock()
		return nil
	}
	m.errorRateRaised = true
	m.mu.Unlock()

	severity := types.SeverityWarning
	if rate >= 2*m.thresholds.ErrorRate {
		severity = types.SeverityCritical
	}
	alert := m.Raise(ctx, types.AlertErrorRate, severity,
		fmt.Sprintf("error rate %.1f%% over last %d requests", rate*100, samples),
		map[string]interface{}{
			"error_rate": rate,
			"samples":    samples,
			"threshold":  m.thresholds.ErrorRate,
		})
	return &alert
}

// CheckResourceUsage raises when usage (0..1) crosses the threshold. It
// fires again only after usage has dropped back under it.
func (m *Manager) CheckResourceUsage(ctx context.Context, usage float64) *types.Alert {
	m.mu.Lock()
	if usage <= m.thresholds.ResourceUsage {
		m.resourceRaised = false
		m.mu.Unlock()
		return nil
	}
	if m.resourceRaised {
		m.mu.Unlock()
		return nil
	}
	m.resourceRaised = true
	m.mu.Unlock()

	alert := m.Raise(ctx, types.AlertResourceUsage, types.SeverityWarning,
		fmt.Sprintf("heap usage at %.0f%%", usage*100),
		map[string]interface{}{
			"usage":     usage,
			"threshold": m.thresholds.ResourceUsage,
		})
	return &alert
}

// SampleResourceUsage reads heap statistics and checks them
func (m *Manager) SampleResourceUsage(ctx context.Context) *types.Alert {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapSys == 0 {
		return nil
	}
	return m.CheckResourceUsage(ctx, float64(stats.HeapAlloc)/float64(stats.HeapSys))
}

// Raise appends an alert to the log and hands it to every sink
func (m *Manager) Raise(ctx context.Context, kind types.AlertKind, severity types.Severity, message string, details map[string]interface{}) types.Alert {
	alert := types.Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: m.now(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()

	m.metrics.RecordAlert(ctx, alert)
	m.dispatch(alert)
	return alert
}

// Alerts returns alerts raised within window, oldest first. A non-positive
// window returns the whole log.
func (m *Manager) Alerts(window time.Duration) []types.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-window)
	out := make([]types.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if window <= 0 || a.Timestamp.After(cutoff) {
			out = append(out, copyAlert(a))
		}
	}
	return out
}

// Active returns unresolved alerts
func (m *Manager) Active() []types.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Alert
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, copyAlert(a))
		}
	}
	return out
}

// Resolve marks an alert resolved. Resolving twice keeps the first timestamp.
func (m *Manager) Resolve(id string) (types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID != id {
			continue
		}
		if !m.alerts[i].Resolved {
			now := m.now()
			m.alerts[i].Resolved = true
			m.alerts[i].ResolvedAt = &now
			m.logger.WithFields(logrus.Fields{
				"alert_id": id,
				"kind":     m.alerts[i].Kind,
			}).Info("Alert resolved")
		}
		return copyAlert(m.alerts[i]), nil
	}
	return types.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// Wait blocks until every pending sink notification has finished
func (m *Manager) Wait() {
	m.pending.Wait()
}

// dispatch notifies every sink on its own goroutine
func (m *Manager) dispatch(alert types.Alert) {
	for _, sink := range m.sinks {
		m.pending.Add(1)
		go func(sink Sink) {
			defer m.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.thresholds.NotifyTimeout)
			defer cancel()
			if err := sink.Notify(ctx, alert); err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"sink":     sink.Name(),
					"alert_id": alert.ID,
				}).Warn("Alert notification failed")
			}
		}(sink)
	}
}

// addSample records an outcome in the ring buffer; caller holds mu
func (m *Manager) addSample(success bool) {
	m.samples[m.next] = success
	m.next = (m.next + 1) % len(m.samples)
	if m.filled < len(m.samples) {
		m.filled++
	}
}

func copyAlert(a types.Alert) types.Alert {
	if a.Details != nil {
		details := make(map[string]interface{}, len(a.Details))
		for k, v := range a.Details {
			details[k] = v
		}
		a.Details = details
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tributary-ai/crm-reply-router/internal/types"
)

// Metrics holds the routing instruments. A nil *Metrics records nothing.
type Metrics struct {
	results       metric.Int64Counter
	duration      metric.Float64Histogram
	attempts      metric.Int64Counter
	levelFailures metric.Int64Counter
	levelSkips    metric.Int64Counter
	probeDuration metric.Float64Histogram
	alerts        metric.Int64Counter
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	results, err := meter.Int64Counter(
		"crm_router.routing.results",
		metric.WithDescription("Replies served, by method"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"crm_router.routing.duration",
		metric.WithDescription("Time to produce a reply in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter(
		"crm_router.provider.attempts",
		metric.WithDescription("Provider call attempts including retries"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	levelFailures, err := meter.Int64Counter(
		"crm_router.level.failures",
		metric.WithDescription("Fallback levels that were attempted and failed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	levelSkips, err := meter.Int64Counter(
		"crm_router.level.skips",
		metric.WithDescription("Fallback levels skipped before attempting"),
		metric.WithUnit("{skip}"),
	)
	if err != nil {
		return nil, err
	}

	probeDuration, err := meter.Float64Histogram(
		"crm_router.health.probe.duration",
		metric.WithDescription("Provider health probe latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	alerts, err := meter.Int64Counter(
		"crm_router.alerts",
		metric.WithDescription("Alerts raised, by kind and severity"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		results:       results,
		duration:      duration,
		attempts:      attempts,
		levelFailures: levelFailures,
		levelSkips:    levelSkips,
		probeDuration: probeDuration,
		alerts:        alerts,
	}, nil
}

// RecordResult records one orchestrator outcome
func (m *Metrics) RecordResult(ctx context.Context, result types.Result) {
	if m == nil {
		return
	}

	method := metric.WithAttributes(attribute.String("method", result.Method))
	m.results.Add(ctx, 1, method)
	m.duration.Record(ctx, result.Duration.Seconds(), method)
	if result.Provider != "" && result.Attempts > 0 {
		m.attempts.Add(ctx, int64(result.Attempts), metric.WithAttributes(attribute.String("provider", string(result.Provider))))
	}

	for _, f := range result.Failed {
		m.levelFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("level", f.Level)))
	}
	for _, s := range result.Skipped {
		m.levelSkips.Add(ctx, 1, metric.WithAttributes(
			attribute.String("level", s.Level),
			attribute.String("reason", s.Reason),
		))
	}
}

// RecordProbe records a completed health probe
func (m *Metrics) RecordProbe(ctx context.Context, health types.ProviderHealth) {
	if m == nil {
		return
	}
	m.probeDuration.Record(ctx, health.ResponseTime.Seconds(), metric.WithAttributes(
		attribute.String("provider", string(health.Provider)),
		attribute.String("status", string(health.Status)),
	))
}

// RecordAlert counts a raised alert
func (m *Metrics) RecordAlert(ctx context.Context, alert types.Alert) {
	if m == nil {
		return
	}
	m.alerts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(alert.Kind)),
		attribute.String("severity", string(alert.Severity)),
	))
}

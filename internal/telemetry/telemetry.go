// Package telemetry provides OpenTelemetry metrics for routing, probes and alerts.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Config holds configuration for telemetry setup.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Provider holds the initialized meter provider and its pull reader.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
	reader        *sdkmetric.ManualReader
}

// Init initializes the meter provider. Disabled telemetry returns the
// global noop meter.
func Init(cfg Config) *Provider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "crm-router"
	}
	if !cfg.Enabled {
		return &Provider{Meter: otel.Meter(cfg.ServiceName)}
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	return &Provider{
		MeterProvider: mp,
		Meter:         mp.Meter(cfg.ServiceName),
		reader:        reader,
	}
}

// Collect reads the current value of every instrument. It returns an empty
// snapshot when telemetry is disabled.
func (p *Provider) Collect(ctx context.Context) (*metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if p.reader == nil {
		return &rm, nil
	}
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	return &rm, nil
}

// MetricSummary is a JSON-friendly view of one instrument
type MetricSummary struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Points []PointSummary `json:"points"`
}

// PointSummary is one attribute set of an instrument. Sums fill Value,
// histograms fill Count and Sum.
type PointSummary struct {
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value,omitempty"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

// Snapshot collects and flattens every instrument
func (p *Provider) Snapshot(ctx context.Context) ([]MetricSummary, error) {
	rm, err := p.Collect(ctx)
	if err != nil {
		return nil, err
	}

	summaries := []MetricSummary{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			summary := MetricSummary{Name: m.Name}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				summary.Kind = "sum"
				for _, dp := range data.DataPoints {
					summary.Points = append(summary.Points, PointSummary{Attributes: attrs(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				summary.Kind = "sum"
				for _, dp := range data.DataPoints {
					summary.Points = append(summary.Points, PointSummary{Attributes: attrs(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				summary.Kind = "histogram"
				for _, dp := range data.DataPoints {
					summary.Points = append(summary.Points, PointSummary{Attributes: attrs(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			default:
				continue
			}
			summaries = append(summaries, summary)
		}
	}
	return summaries, nil
}

func attrs(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

// Shutdown gracefully shuts down the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.MeterProvider != nil {
		return p.MeterProvider.Shutdown(ctx)
	}
	return nil
}

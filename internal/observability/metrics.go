package observability

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics covers the three layers of a deploy call:
// - Runner: unit latency and outcome (success, failure, timeout)
// - Deploy: per-post latency and errors by verb
// - Publisher: attempt latency by final state, compensation results
//
// Each Metrics owns its registry, so several instances never collide.
type Metrics struct {
	registry *promclient.Registry
	provider *sdkmetric.MeterProvider

	UnitDuration metric.Float64Histogram
	UnitsTotal   metric.Int64Counter

	DeployDuration    metric.Float64Histogram
	DeploysTotal      metric.Int64Counter
	DeployErrorsTotal metric.Int64Counter

	PublishDuration metric.Float64Histogram
	PublishesTotal  metric.Int64Counter
	RecoversTotal   metric.Int64Counter
}

// NewMetrics creates all instruments on a fresh registry.
func NewMetrics(_ context.Context) (*Metrics, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("isubo")
	m := &Metrics{registry: registry, provider: provider}

	m.UnitDuration, err = meter.Float64Histogram(
		"isubo_unit_duration_seconds",
		metric.WithDescription("Runner unit latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.UnitsTotal, err = meter.Int64Counter(
		"isubo_units_total",
		metric.WithDescription("Total number of settled runner units"),
	)
	if err != nil {
		return nil, err
	}

	m.DeployDuration, err = meter.Float64Histogram(
		"isubo_deploy_duration_seconds",
		metric.WithDescription("Per-post deploy latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	m.DeploysTotal, err = meter.Int64Counter(
		"isubo_deploys_total",
		metric.WithDescription("Total number of per-post deploy jobs"),
	)
	if err != nil {
		return nil, err
	}

	m.DeployErrorsTotal, err = meter.Int64Counter(
		"isubo_deploy_errors_total",
		metric.WithDescription("Total number of failed per-post deploy jobs"),
	)
	if err != nil {
		return nil, err
	}

	m.PublishDuration, err = meter.Float64Histogram(
		"isubo_publish_duration_seconds",
		metric.WithDescription("Asset publish attempt latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	m.PublishesTotal, err = meter.Int64Counter(
		"isubo_publishes_total",
		metric.WithDescription("Total number of asset publish attempts by final state"),
	)
	if err != nil {
		return nil, err
	}

	m.RecoversTotal, err = meter.Int64Counter(
		"isubo_recovers_total",
		metric.WithDescription("Total number of executed compensation tasks"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Registry exposes the backing registry for gathering.
func (m *Metrics) Registry() *promclient.Registry {
	return m.registry
}

// RecordUnit implements runner.MetricsRecorder.
func (m *Metrics) RecordUnit(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(outcomeAttr(outcome))
	m.UnitDuration.Record(ctx, duration.Seconds(), attrs)
	m.UnitsTotal.Add(ctx, 1, attrs)
}

// RecordDeploy implements deploy.MetricsRecorder.
func (m *Metrics) RecordDeploy(ctx context.Context, verb string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(verbAttr(verb), successAttr(success))
	m.DeployDuration.Record(ctx, duration.Seconds(), attrs)
	m.DeploysTotal.Add(ctx, 1, attrs)

	if !success {
		m.DeployErrorsTotal.Add(ctx, 1, metric.WithAttributes(verbAttr(verb)))
	}
}

// RecordPublish implements publisher.MetricsRecorder.
func (m *Metrics) RecordPublish(ctx context.Context, state string, duration time.Duration) {
	attrs := metric.WithAttributes(stateAttr(state))
	m.PublishDuration.Record(ctx, duration.Seconds(), attrs)
	m.PublishesTotal.Add(ctx, 1, attrs)
}

// RecordRecover implements publisher.MetricsRecorder.
func (m *Metrics) RecordRecover(ctx context.Context, kind string, ok bool) {
	m.RecoversTotal.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), successAttr(ok)))
}

// WriteFile dumps the current values in the Prometheus text format, for
// node_exporter's textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if err := promclient.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

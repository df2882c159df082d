// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics records agent usage, process lifecycle and approval
// metrics with OpenTelemetry and optionally exports them over OTLP.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/wingedpig/warden/internal/approval"
	"github.com/wingedpig/warden/internal/claude"
)

const meterName = "github.com/wingedpig/warden"

// Config controls OTLP export. An empty endpoint disables export.
type Config struct {
	Endpoint       string
	Insecure       bool
	Interval       time.Duration
	ServiceVersion string
}

// Provider owns the meter provider and its exporter.
type Provider struct {
	provider metric.MeterProvider
	shutdown func(context.Context) error
}

// Setup builds a provider exporting to cfg.Endpoint, or a no-op provider
// when export is disabled.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return &Provider{
			provider: noop.NewMeterProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("warden"),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return &Provider{provider: mp, shutdown: mp.Shutdown}, nil
}

// MeterProvider returns the underlying provider.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.provider }

// Close flushes pending metrics and stops the exporter.
func (p *Provider) Close(ctx context.Context) error {
	return p.shutdown(ctx)
}

// Meters implements the supervisor's and the gateway's recorder hooks.
type Meters struct {
	meter metric.Meter

	processes     metric.Int64UpDownCounter
	processStarts metric.Int64Counter
	processExits  metric.Int64Counter
	tokens        metric.Int64Counter
	cost          metric.Float64Counter
	turns         metric.Int64Counter
	submitted     metric.Int64Counter
	resolved      metric.Int64Counter
	wait          metric.Float64Histogram
}

var (
	_ claude.Recorder   = (*Meters)(nil)
	_ approval.Recorder = (*Meters)(nil)
)

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Meters, error) {
	meter := mp.Meter(meterName)
	m := &Meters{meter: meter}
	var err error

	if m.processes, err = meter.Int64UpDownCounter("warden_agent_processes",
		metric.WithDescription("Running agent processes"),
		metric.WithUnit("{process}"),
	); err != nil {
		return nil, fmt.Errorf("creating processes gauge: %w", err)
	}
	if m.processStarts, err = meter.Int64Counter("warden_agent_process_starts_total",
		metric.WithDescription("Agent processes spawned"),
		metric.WithUnit("{process}"),
	); err != nil {
		return nil, fmt.Errorf("creating starts counter: %w", err)
	}
	if m.processExits, err = meter.Int64Counter("warden_agent_process_exits_total",
		metric.WithDescription("Agent process exits by final status"),
		metric.WithUnit("{process}"),
	); err != nil {
		return nil, fmt.Errorf("creating exits counter: %w", err)
	}
	if m.tokens, err = meter.Int64Counter("warden_tokens_total",
		metric.WithDescription("Tokens used by agent turns"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("creating tokens counter: %w", err)
	}
	if m.cost, err = meter.Float64Counter("warden_cost_usd_total",
		metric.WithDescription("Estimated agent cost in USD"),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, fmt.Errorf("creating cost counter: %w", err)
	}
	if m.turns, err = meter.Int64Counter("warden_turns_total",
		metric.WithDescription("Completed agent turns"),
		metric.WithUnit("{turn}"),
	); err != nil {
		return nil, fmt.Errorf("creating turns counter: %w", err)
	}
	if m.submitted, err = meter.Int64Counter("warden_approvals_submitted_total",
		metric.WithDescription("Approval requests queued for a human"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("creating submitted counter: %w", err)
	}
	if m.resolved, err = meter.Int64Counter("warden_approvals_resolved_total",
		metric.WithDescription("Approval requests resolved by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("creating resolved counter: %w", err)
	}
	if m.wait, err = meter.Float64Histogram("warden_approval_wait_seconds",
		metric.WithDescription("Time from submission to resolution"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating wait histogram: %w", err)
	}
	return m, nil
}

func (m *Meters) ProcessStarted(ctx context.Context) {
	m.processes.Add(ctx, 1)
	m.processStarts.Add(ctx, 1)
}

func (m *Meters) ProcessExited(ctx context.Context, status string) {
	m.processes.Add(ctx, -1)
	m.processExits.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// TurnEnded folds one turn's usage delta into the counters.
func (m *Meters) TurnEnded(ctx context.Context, model string, delta claude.UsageSnapshot) {
	modelAttr := attribute.String("model", model)
	for kind, n := range map[string]int64{
		"input":          delta.InputTokens,
		"output":         delta.OutputTokens,
		"cache_read":     delta.CacheReadTokens,
		"cache_creation": delta.CacheCreationTokens,
	} {
		if n > 0 {
			m.tokens.Add(ctx, n, metric.WithAttributes(modelAttr, attribute.String("type", kind)))
		}
	}
	if delta.CostUSD > 0 {
		m.cost.Add(ctx, delta.CostUSD, metric.WithAttributes(modelAttr))
	}
	m.turns.Add(ctx, 1, metric.WithAttributes(modelAttr))
}

func (m *Meters) ApprovalSubmitted(ctx context.Context, kind string) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Meters) ApprovalResolved(ctx context.Context, kind, outcome string, wait time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", outcome))
	m.resolved.Add(ctx, 1, attrs)
	m.wait.Record(ctx, wait.Seconds(), attrs)
}

// ObserveBus reports the event bus counters on every collection.
func (m *Meters) ObserveBus(stats func() (published, dropped uint64)) error {
	published, err := m.meter.Int64ObservableCounter("warden_events_published_total",
		metric.WithDescription("Events published on the bus"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return fmt.Errorf("creating published counter: %w", err)
	}
	dropped, err := m.meter.Int64ObservableCounter("warden_events_dropped_total",
		metric.WithDescription("Events dropped because a subscriber was full"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return fmt.Errorf("creating dropped counter: %w", err)
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		p, d := stats()
		o.ObserveInt64(published, int64(p))
		o.ObserveInt64(dropped, int64(d))
		return nil
	}, published, dropped)
	return err
}

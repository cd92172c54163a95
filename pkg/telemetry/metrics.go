// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks interpretation, dispatch and identifier generation
// outcomes for production monitoring.
type EngineMetrics struct {
	// interpretations counts produced intents by provenance and kind
	interpretations metric.Int64Counter

	// dispatches counts dispatch responses by status
	dispatches metric.Int64Counter

	// identifierCollisions counts collision retries during generation
	identifierCollisions metric.Int64Counter

	// interpretSeconds records end-to-end interpretation latency
	interpretSeconds metric.Float64Histogram
}

// NewEngineMetrics creates the engine metrics on the global meter.
func NewEngineMetrics(ctx context.Context) (*EngineMetrics, error) {
	meter := otel.Meter("gaffer/engine")

	interpretations, err := meter.Int64Counter(
		"gaffer.interpret.intents",
		metric.WithDescription("Intents produced, by provenance and kind"),
	)
	if err != nil {
		return nil, err
	}

	dispatches, err := meter.Int64Counter(
		"gaffer.dispatch.responses",
		metric.WithDescription("Dispatch responses, by status"),
	)
	if err != nil {
		return nil, err
	}

	identifierCollisions, err := meter.Int64Counter(
		"gaffer.ident.collisions",
		metric.WithDescription("Identifier collision retries during generation"),
	)
	if err != nil {
		return nil, err
	}

	interpretSeconds, err := meter.Float64Histogram(
		"gaffer.interpret.duration",
		metric.WithDescription("Interpretation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		interpretations:      interpretations,
		dispatches:           dispatches,
		identifierCollisions: identifierCollisions,
		interpretSeconds:     interpretSeconds,
	}, nil
}

// RecordIntent counts a produced intent.
func (m *EngineMetrics) RecordIntent(ctx context.Context, provenance, kind string) {
	if m == nil {
		return
	}
	m.interpretations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provenance", provenance),
		attribute.String("kind", kind),
	))
}

// RecordDispatch counts a dispatch response by status.
func (m *EngineMetrics) RecordDispatch(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordCollision counts an identifier collision retry.
func (m *EngineMetrics) RecordCollision(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.identifierCollisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
	))
}

// RecordInterpretDuration records end-to-end interpretation latency.
func (m *EngineMetrics) RecordInterpretDuration(ctx context.Context, seconds float64, provenance string) {
	if m == nil {
		return
	}
	m.interpretSeconds.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("provenance", provenance),
	))
}

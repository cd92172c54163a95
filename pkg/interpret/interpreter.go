// Package interpret converts raw chat text into structured intents through a
// two-stage pipeline: a time-bounded AI-assisted parse, then a deterministic
// grammar fallback when the primary stage fails, times out, or reports low
// confidence.
package interpret

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gafferhq/gaffer/pkg/errors"
	"github.com/gafferhq/gaffer/pkg/intent"
	"github.com/gafferhq/gaffer/pkg/resilience"
	"github.com/gafferhq/gaffer/pkg/telemetry"
)

// Request carries one command through interpretation.
type Request struct {
	// Text is the raw chat input.
	Text string
	// Role is the requester role, used for capability hints.
	Role string
	// Conversation identifies the chat thread for operator logs.
	Conversation string
	// Manifest lists the requester's available commands, rendered for the
	// primary stage's prompt.
	Manifest string
	// Reference anchors relative date phrases. Zero means time.Now.
	Reference time.Time
}

// Stage produces an intent from raw text. Primary and fallback are two
// implementations composed by the Pipeline.
type Stage interface {
	Interpret(ctx context.Context, req Request) (*intent.Intent, error)
}

// Pipeline applies the confidence/timeout policy over the two stages.
type Pipeline struct {
	primary   Stage
	fallback  Stage
	threshold float64
	timeout   time.Duration
	metrics   *telemetry.EngineMetrics
	tracer    trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithThreshold overrides the primary-stage confidence threshold.
func WithThreshold(threshold float64) Option {
	return func(p *Pipeline) { p.threshold = threshold }
}

// WithTimeout bounds the primary stage call.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) { p.timeout = timeout }
}

// NewPipeline composes the two stages. Defaults: threshold 0.7, primary
// timeout 5s.
func NewPipeline(primary, fallback Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		primary:   primary,
		fallback:  fallback,
		threshold: 0.7,
		timeout:   5 * time.Second,
		tracer:    otel.Tracer("gaffer/interpret"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interpret runs the pipeline. The returned intent is never nil: text
// neither stage recognises comes back as Unknown with fallback provenance,
// and the dispatch layer owes the requester an explicit clarification for
// it. Primary-stage failures are stage failures, not overall failures.
func (p *Pipeline) Interpret(ctx context.Context, req Request) (*intent.Intent, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Interpret", trace.WithAttributes(
		attribute.String("role", req.Role),
	))
	defer span.End()

	if req.Reference.IsZero() {
		req.Reference = time.Now()
	}
	start := time.Now()

	grammar := resilience.FallbackFunc(func(ctx context.Context, primaryErr error) (interface{}, error) {
		slog.DebugContext(ctx, "interpret.primary.failed",
			slog.String("conversation", req.Conversation),
			slog.Any("error", primaryErr),
		)
		fb, err := p.fallback.Interpret(ctx, req)
		if err != nil {
			return nil, err
		}
		if fb == nil {
			return nil, errors.New(errors.CodeInternal, "fallback stage returned no intent", nil)
		}
		return fb, nil
	})
	unrecognised := resilience.FallbackFunc(func(ctx context.Context, stageErr error) (interface{}, error) {
		// The fallback grammar cannot fail; treat a misbehaving stage as an
		// unrecognised command rather than an overall failure.
		slog.WarnContext(ctx, "interpret.fallback.error",
			slog.String("conversation", req.Conversation),
			slog.Any("error", stageErr),
		)
		return intent.Unknown(intent.ProvenanceFallback), nil
	})

	value, _ := resilience.WithFallback(ctx, func() (interface{}, error) {
		return p.runPrimary(ctx, req)
	}, &resilience.ChainedFallback{Fallbacks: []resilience.FallbackStrategy{grammar, unrecognised}})

	result, ok := value.(*intent.Intent)
	if !ok || result == nil {
		result = intent.Unknown(intent.ProvenanceFallback)
	}
	result.Raw = req.Text

	span.SetAttributes(
		attribute.String("intent.kind", string(result.Kind)),
		attribute.String("intent.provenance", string(result.Provenance)),
		attribute.Float64("intent.confidence", result.Confidence),
	)
	p.metrics.RecordIntent(ctx, string(result.Provenance), string(result.Kind))
	p.metrics.RecordInterpretDuration(ctx, time.Since(start).Seconds(), string(result.Provenance))
	return result, nil
}

// runPrimary runs the AI-assisted stage under its timeout budget. Policy
// rejections come back as errors so the chained fallback engages: stage
// error, timeout, sub-threshold confidence, or an unknown classification.
func (p *Pipeline) runPrimary(ctx context.Context, req Request) (interface{}, error) {
	if p.primary == nil {
		return nil, errors.New(errors.CodeLLMError, "no primary stage configured", nil)
	}

	value, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: p.timeout},
		func(ctx context.Context) (interface{}, error) {
			return p.primary.Interpret(ctx, req)
		})
	if err != nil {
		return nil, err
	}

	candidate, ok := value.(*intent.Intent)
	if !ok || candidate == nil {
		return nil, errors.New(errors.CodeLLMError, "primary stage returned no intent", nil)
	}
	if candidate.Confidence < p.threshold {
		return nil, errors.New(errors.CodeLLMError, "primary confidence below threshold", nil).
			WithContext("confidence", fmt.Sprintf("%.2f", candidate.Confidence)).
			WithContext("threshold", fmt.Sprintf("%.2f", p.threshold))
	}
	if candidate.IsUnknown() {
		return nil, errors.New(errors.CodeLLMError, "primary could not classify the command", nil)
	}
	return candidate, nil
}

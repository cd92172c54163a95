// Package dispatch routes interpreted intents to entitled capabilities and
// shapes every outcome into a requester-facing response. The coordinator is
// the only component that invokes capabilities.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gafferhq/gaffer/pkg/capability"
	"github.com/gafferhq/gaffer/pkg/errors"
	"github.com/gafferhq/gaffer/pkg/intent"
	"github.com/gafferhq/gaffer/pkg/resilience"
	"github.com/gafferhq/gaffer/pkg/role"
	"github.com/gafferhq/gaffer/pkg/telemetry"
)

// Status classifies the outcome of one dispatch.
type Status string

const (
	// StatusOK means the capability ran and produced a result.
	StatusOK Status = "ok"
	// StatusClarify means no recognisable command was found and the
	// requester was told what they can ask for.
	StatusClarify Status = "clarify"
	// StatusForbidden means the requester's role is not entitled to the
	// capability. The capability was not invoked.
	StatusForbidden Status = "forbidden"
	// StatusInvalid means the command was understood but its parameters
	// failed validation. The message says what to fix.
	StatusInvalid Status = "invalid"
	// StatusTimedOut means the capability exceeded its time boundary.
	StatusTimedOut Status = "timed_out"
	// StatusError means the capability failed for an internal reason. The
	// message carries only a correlation id.
	StatusError Status = "error"
)

// Request is one interpreted command awaiting execution.
type Request struct {
	// Role is the requester's role identifier.
	Role string
	// Conversation keys the ordering domain. Dispatches sharing a
	// conversation id execute in arrival order; distinct conversations
	// proceed concurrently. Empty means unordered.
	Conversation string
	// Intent is the interpreter's output for this command.
	Intent *intent.Intent
}

// Response is the requester-facing outcome of one dispatch.
type Response struct {
	Status Status
	// Message is safe to show to the requester verbatim.
	Message string
	// Capability names the invoked capability, when one was selected.
	Capability string
	// Result is the capability's raw return value on StatusOK.
	Result any
	// CorrelationID links a StatusError response to the operator log entry.
	CorrelationID string
}

// Summarizer lets a capability result provide its own requester-facing line.
type Summarizer interface {
	Summary() string
}

// Coordinator validates entitlement and invokes capabilities under a
// per-invocation timeout. Safe for concurrent use.
type Coordinator struct {
	registry *capability.Registry
	resolver *role.Resolver
	timeout  time.Duration
	metrics  *telemetry.EngineMetrics
	tracer   trace.Tracer
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*conversationLock
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the per-invocation time boundary. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

const defaultTimeout = 10 * time.Second

// New builds a Coordinator over a frozen registry and a resolved role set.
func New(registry *capability.Registry, resolver *role.Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		resolver: resolver,
		timeout:  defaultTimeout,
		tracer:   otel.Tracer("gaffer/dispatch"),
		logger:   slog.Default(),
		locks:    make(map[string]*conversationLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch executes one interpreted command and always returns a response
// the requester can read. It never returns an error for outcomes the
// requester can act on; the error return is reserved for nil requests.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (*Response, error) {
	if req.Intent == nil {
		return nil, errors.New(errors.CodeInvalidInput, "dispatch request carries no intent", nil)
	}

	ctx, span := c.tracer.Start(ctx, "Coordinator.Dispatch", trace.WithAttributes(
		attribute.String("role", req.Role),
		attribute.String("intent.kind", string(req.Intent.Kind)),
	))
	defer span.End()

	profile, err := c.resolver.Profile(req.Role)
	if err != nil {
		return c.respond(ctx, &Response{
			Status:  StatusForbidden,
			Message: fmt.Sprintf("role %q is not configured, ask an administrator to set it up", req.Role),
		}), nil
	}

	if req.Intent.IsUnknown() {
		return c.respond(ctx, &Response{
			Status:  StatusClarify,
			Message: clarifyMessage(profile.Capabilities()),
		}), nil
	}

	name := string(req.Intent.Kind)
	if !profile.Entitled(name) {
		return c.respond(ctx, &Response{
			Status:     StatusForbidden,
			Capability: name,
			Message:    fmt.Sprintf("your role %q is not permitted to use %s", req.Role, name),
		}), nil
	}

	cap, err := c.registry.Lookup(name)
	if err != nil {
		// Resolution guarantees entitled names exist, so this is an
		// internal inconsistency rather than a requester mistake.
		return c.failure(ctx, name, err), nil
	}

	unlock := c.lockConversation(req.Conversation)
	result, err := resilience.WithTimeoutResult(capability.WithRole(ctx, req.Role),
		resilience.TimeoutConfig{Duration: c.timeout},
		func(ctx context.Context) (interface{}, error) {
			return cap.Invoke(ctx, req.Intent.Params)
		})
	unlock()

	switch {
	case err == nil:
		return c.respond(ctx, &Response{
			Status:     StatusOK,
			Capability: name,
			Result:     result,
			Message:    summarize(result, name),
		}), nil
	case errors.IsCode(err, errors.CodeTimeout):
		return c.respond(ctx, &Response{
			Status:     StatusTimedOut,
			Capability: name,
			Message:    fmt.Sprintf("%s took too long to complete, please try again", name),
		}), nil
	case errors.IsCode(err, errors.CodeIdentifierExhausted):
		return c.respond(ctx, &Response{
			Status:     StatusError,
			Capability: name,
			Message:    "no free identifier could be generated, try again or contact an operator",
		}), nil
	case errors.IsCode(err, errors.CodeValidation):
		return c.respond(ctx, &Response{
			Status:     StatusInvalid,
			Capability: name,
			Message:    guidance(err),
		}), nil
	default:
		return c.failure(ctx, name, err), nil
	}
}

// failure logs the full error for operators and hands the requester a
// generic message carrying only the correlation id.
func (c *Coordinator) failure(ctx context.Context, name string, err error) *Response {
	correlation := uuid.NewString()
	wrapped := errors.New(errors.CodeExecution,
		fmt.Sprintf("capability %s failed", name), err).
		WithContext("capability", name).
		WithContext("correlation_id", correlation)
	c.logger.ErrorContext(ctx, "capability execution failed",
		"capability", name,
		"correlation_id", correlation,
		"error", wrapped)
	return c.respond(ctx, &Response{
		Status:        StatusError,
		Capability:    name,
		CorrelationID: correlation,
		Message: fmt.Sprintf("something went wrong running %s, reference %s when reporting it",
			name, correlation),
	})
}

func (c *Coordinator) respond(ctx context.Context, resp *Response) *Response {
	c.metrics.RecordDispatch(ctx, string(resp.Status))
	return resp
}

// conversationLock is a refcounted mutex so idle conversation ids do not
// accumulate in the coordinator's map.
type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// lockConversation serializes dispatches sharing a conversation id. The
// returned func releases the lock and evicts the id once no dispatch holds
// or awaits it; for an empty id it is a no-op.
func (c *Coordinator) lockConversation(id string) func() {
	if id == "" {
		return func() {}
	}
	c.mu.Lock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &conversationLock{}
		c.locks[id] = lock
	}
	lock.refs++
	c.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		c.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}

func clarifyMessage(names []string) string {
	if len(names) == 0 {
		return "I didn't recognise a command, and no actions are available to your role."
	}
	return fmt.Sprintf("I didn't recognise a command. You can ask me to: %s.",
		strings.Join(names, ", "))
}

// guidance extracts the actionable part of a validation error.
func guidance(err error) string {
	if ee := errors.AsEngineError(err); ee != nil {
		return ee.Message
	}
	return err.Error()
}

func summarize(result any, name string) string {
	switch v := result.(type) {
	case Summarizer:
		return v.Summary()
	case string:
		return v
	default:
		return name + " completed"
	}
}

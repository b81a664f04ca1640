package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this
// package. It follows the Go module path convention for OTel
// instrumentation libraries.
const tracerName = "github.com/mozaiks/control-plane/pkg/lifecycle"

// StateChangeHandler is a callback invoked when a component's lifecycle
// state changes. It receives the previous state and the new state.
//
// Handlers execute synchronously under the component's state mutex
// during [BaseComponent.SetState]. Implementations must not block for
// extended periods or call lifecycle methods on the same component, as
// this will cause a deadlock. Handlers that panic are recovered and
// logged without preventing the state change.
type StateChangeHandler func(old, new State)

// Hook is a function called during a lifecycle transition (start or
// stop). It receives the caller's context, which may carry deadlines,
// cancellation signals, and identity information.
//
// If a hook returns a non-nil error, the lifecycle transition is
// aborted and the component transitions to [StateFailed]. Hooks should
// perform cleanup on error to avoid leaving resources in an
// inconsistent state.
//
// Hooks execute outside the component's state mutex, so they may safely
// call read-only methods ([BaseComponent.State], [BaseComponent.Info])
// on the component without causing deadlocks.
type Hook func(ctx context.Context) error

// Component defines the lifecycle contract for long-running pieces of
// the control plane: the event consumer, the HTTP server, and any other
// background worker the composition root manages. All methods must be
// safe for concurrent use by multiple goroutines.
//
// [BaseComponent] is the ready-to-use implementation with thread-safe
// state management, OpenTelemetry tracing, and hook support. Concrete
// components register lifecycle hooks via [ComponentBuilder] to inject
// their startup and shutdown logic.
//
// Example (wrapping the event consumer):
//
//	component, err := lifecycle.NewComponentBuilder("event-consumer", "1.0.0").
//	    WithOnStart(consumer.Start).
//	    WithOnStop(consumer.Stop).
//	    Build()
type Component interface {
	// Name returns the human-readable name of the component (e.g.,
	// "event-consumer"). Names are immutable after construction.
	Name() string

	// Version returns the semantic version of the component
	// implementation (e.g., "1.2.0").
	Version() string

	// Info returns a point-in-time snapshot of the component's identity,
	// state, and uptime, safe to serialize or store.
	Info() ComponentInfo

	// Start begins the component's operation. It transitions the
	// component through [StateStarting] to [StateRunning], executing any
	// registered OnStart hook between the two transitions. If the hook
	// fails, the component transitions to [StateFailed].
	//
	// Start may only be called from [StateUnknown], [StateStopped], or
	// [StateFailed]. Calling Start from any other state returns a
	// [cperr.CodeConflict] error.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the component. It transitions the
	// component through [StateStopping] to [StateStopped], executing any
	// registered OnStop hook between the two transitions. Calling Stop
	// from a terminal state is a no-op and returns nil.
	Stop(ctx context.Context) error

	// State returns the current lifecycle state of the component.
	State() State

	// Health performs a health check. Returns nil when the component is
	// in [StateRunning] and its health hook (if any) passes, or a
	// [cperr.CodeUnavailable] error otherwise.
	Health(ctx context.Context) error
}

// ComponentInfo provides a point-in-time snapshot of a component's
// identity, state, and uptime. It is returned by [Component.Info] and is
// safe to serialize to JSON for health endpoints and admin APIs.
//
// The Uptime field is computed at the time Info() is called and reflects
// the elapsed time since the component entered [StateRunning]. It is
// zero if the component has not yet started or has been stopped.
type ComponentInfo struct {
	// Name is the human-readable name of the component.
	Name string `json:"name"`

	// Version is the semantic version of the component implementation.
	Version string `json:"version"`

	// State is the current lifecycle state of the component.
	State State `json:"state"`

	// StartedAt is the time the component entered StateRunning. Nil if
	// the component has not started or has been stopped.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// Uptime is the elapsed time since the component entered
	// StateRunning. Zero if the component is not currently running.
	Uptime time.Duration `json:"uptime,omitempty"`
}

// BaseComponent provides a thread-safe base implementation of the
// [Component] interface with lifecycle state management, observer hooks,
// and OpenTelemetry tracing.
//
// A BaseComponent is safe for concurrent use by multiple goroutines.
// Create one using [ComponentBuilder] and share it across the
// application.
//
// BaseComponent enforces a state machine that prevents invalid lifecycle
// transitions. All state changes are validated against the transition
// matrix defined in [validTransitions]. State change observers
// registered via [ComponentBuilder.OnStateChange] are notified
// synchronously on every transition.
//
// Lifecycle hooks (OnStart, OnStop) execute outside the state mutex to
// prevent deadlocks. If a hook fails, the component transitions to
// [StateFailed] and the error is wrapped with a platform error code.
type BaseComponent struct {
	// Immutable fields, set at construction and never modified. These do
	// not require mutex protection.
	name    string
	version string

	// Mutable fields, protected by mu.
	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	// Observability, set at construction and never modified.
	tracer trace.Tracer
	logger *slog.Logger

	// Lifecycle hooks, set at construction via builder, never modified.
	onStart     Hook
	onStop      Hook
	healthCheck Hook

	// State change observers, set at construction via builder, never
	// modified.
	stateHandlers []StateChangeHandler
}

// Compile-time interface compliance check.
var _ Component = (*BaseComponent)(nil)

// Name returns the human-readable name of the component. This value is
// immutable after construction.
func (c *BaseComponent) Name() string {
	return c.name
}

// Version returns the semantic version of the component. This value is
// immutable after construction.
func (c *BaseComponent) Version() string {
	return c.version
}

// State returns the current lifecycle state of the component. This
// method is safe for concurrent use.
func (c *BaseComponent) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Info returns a point-in-time snapshot of the component's identity,
// state, and uptime. This method is safe for concurrent use.
func (c *BaseComponent) Info() ComponentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := ComponentInfo{
		Name:    c.name,
		Version: c.version,
		State:   c.state,
	}

	if c.startedAt != nil && c.state == StateRunning {
		t := *c.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}

	return info
}

// Health performs a health check on the component. Returns nil if the
// component is in [StateRunning] and its health hook (when registered)
// passes, or a [*cperr.Error] with code [cperr.CodeUnavailable]
// otherwise.
func (c *BaseComponent) Health(ctx context.Context) error {
	state := c.State()
	if state != StateRunning {
		return cperr.Newf(cperr.CodeUnavailable,
			"lifecycle: component %s is not running, current state is %q", c.name, state)
	}
	if c.healthCheck != nil {
		if err := c.healthCheck(ctx); err != nil {
			return cperr.Wrapf(err, cperr.CodeUnavailable,
				"lifecycle: component %s is unhealthy", c.name)
		}
	}
	return nil
}

// SetState transitions the component to the given state after validating
// the transition against the lifecycle state machine. Returns a
// [*cperr.Error] with code [cperr.CodeConflict] if the transition is not
// allowed.
//
// On a successful transition, all registered [StateChangeHandler]
// functions are called synchronously with the old and new state values.
// Handlers execute under the state mutex; they must not call lifecycle
// methods on the same component or block for extended periods.
//
// SetState is exported for components that need to set state
// programmatically (e.g., transitioning to [StateFailed] when an
// internal error is detected).
func (c *BaseComponent) SetState(new State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.state
	if !ValidTransition(old, new) {
		return cperr.Newf(cperr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}

	c.state = new

	// Notify state change handlers under the lock to guarantee ordering.
	// Each handler is called in a deferred-recover wrapper to prevent a
	// panicking handler from corrupting state.
	for _, h := range c.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"component", c.name,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}

	return nil
}

// Start begins the component's operation. It transitions the component
// through [StateStarting] to [StateRunning], executing any registered
// OnStart hook between the two transitions.
//
// The context controls the deadline for startup. If the context is
// already canceled, Start returns immediately without modifying state.
//
// If the OnStart hook returns an error, the component transitions to
// [StateFailed] and the error is returned wrapped with
// [cperr.CodeInternal].
func (c *BaseComponent) Start(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("component.name", c.name),
			attribute.String("component.version", c.version),
		),
	)
	defer span.End()

	// Check context before acquiring the lock.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return cperr.Wrap(err, cperr.CodeTimeout,
			"lifecycle: start canceled before execution")
	}

	if err := c.SetState(StateStarting); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.logger.InfoContext(ctx, "lifecycle: starting component",
		"component", c.name,
		"version", c.version,
	)

	// Execute the OnStart hook outside the lock.
	if c.onStart != nil {
		if err := c.onStart(ctx); err != nil {
			c.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"component", c.name,
				"error", err,
			)
			_ = c.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return cperr.Wrap(err, cperr.CodeInternal,
				"lifecycle: start hook failed")
		}
	}

	if err := c.SetState(StateRunning); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	c.startedAt = &now
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "lifecycle: component started",
		"component", c.name,
	)
	span.SetStatus(codes.Ok, "")

	return nil
}

// Stop gracefully shuts down the component. It transitions the component
// through [StateStopping] to [StateStopped], executing any registered
// OnStop hook between the two transitions.
//
// If the component is already in a terminal state ([StateStopped] or
// [StateFailed]), Stop is a no-op and returns nil. This makes it safe to
// call Stop multiple times or in a deferred cleanup.
//
// If the OnStop hook returns an error, the component transitions to
// [StateFailed] and the error is returned wrapped with
// [cperr.CodeInternal].
func (c *BaseComponent) Stop(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("component.name", c.name),
		),
	)
	defer span.End()

	// Terminal states: Stop is a no-op.
	if c.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return cperr.Wrap(err, cperr.CodeTimeout,
			"lifecycle: stop canceled before execution")
	}

	if err := c.SetState(StateStopping); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.logger.InfoContext(ctx, "lifecycle: stopping component",
		"component", c.name,
	)

	// Execute the OnStop hook outside the lock.
	if c.onStop != nil {
		if err := c.onStop(ctx); err != nil {
			c.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"component", c.name,
				"error", err,
			)
			_ = c.SetState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return cperr.Wrap(err, cperr.CodeInternal,
				"lifecycle: stop hook failed")
		}
	}

	if err := c.SetState(StateStopped); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.mu.Lock()
	c.startedAt = nil
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "lifecycle: component stopped",
		"component", c.name,
	)
	span.SetStatus(codes.Ok, "")

	return nil
}

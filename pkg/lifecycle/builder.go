package lifecycle

import (
	"log/slog"

	"go.opentelemetry.io/otel"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// ComponentBuilder constructs [BaseComponent] instances using a fluent
// API. All With* and On* methods return the builder to allow chaining.
// Call [ComponentBuilder.Build] to validate the configuration and
// produce the component.
//
// A builder is not safe for concurrent use; configure it from a single
// goroutine before Build.
//
// Example:
//
//	component, err := lifecycle.NewComponentBuilder("event-consumer", "1.0.0").
//	    WithOnStart(consumer.Start).
//	    WithOnStop(consumer.Stop).
//	    WithHealthCheck(consumer.Health).
//	    Build()
type ComponentBuilder struct {
	name    string
	version string

	logger *slog.Logger

	onStart     Hook
	onStop      Hook
	healthCheck Hook

	stateHandlers []StateChangeHandler
}

// NewComponentBuilder creates a builder for a component with the given
// name and version. Both are required and validated during
// [ComponentBuilder.Build].
func NewComponentBuilder(name, version string) *ComponentBuilder {
	return &ComponentBuilder{
		name:    name,
		version: version,
	}
}

// WithLogger sets the structured logger used for lifecycle events. If
// not set, [slog.Default] is used.
func (b *ComponentBuilder) WithLogger(logger *slog.Logger) *ComponentBuilder {
	b.logger = logger
	return b
}

// WithOnStart sets the lifecycle hook called during
// [BaseComponent.Start], after the component transitions to
// [StateStarting] and before it transitions to [StateRunning]. Use this
// to perform component-specific initialization (e.g., verifying
// database connectivity, launching the consumer goroutine, binding a
// listener).
func (b *ComponentBuilder) WithOnStart(hook Hook) *ComponentBuilder {
	b.onStart = hook
	return b
}

// WithOnStop sets the lifecycle hook called during
// [BaseComponent.Stop], after the component transitions to
// [StateStopping] and before it transitions to [StateStopped]. Use this
// to perform component-specific cleanup (e.g., draining in-flight work,
// closing connections, flushing buffers).
func (b *ComponentBuilder) WithOnStop(hook Hook) *ComponentBuilder {
	b.onStop = hook
	return b
}

// WithHealthCheck sets the hook consulted by [BaseComponent.Health]
// when the component is in [StateRunning]. Use this to probe the
// component's dependencies (e.g., pinging the database pool behind a
// consumer). A component without a health check hook reports healthy
// whenever it is running.
func (b *ComponentBuilder) WithHealthCheck(hook Hook) *ComponentBuilder {
	b.healthCheck = hook
	return b
}

// OnStateChange registers a [StateChangeHandler] that is called on
// every state transition. Multiple handlers may be registered and are
// called in registration order. Handlers execute synchronously under
// the state mutex during [BaseComponent.SetState].
//
// Handlers are defensively copied during [ComponentBuilder.Build] to
// prevent external modification of the handler list after construction.
func (b *ComponentBuilder) OnStateChange(handler StateChangeHandler) *ComponentBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and constructs a [*BaseComponent].
// Returns a [*cperr.Error] with code [cperr.CodeValidation] if the name
// or version is empty.
//
// The initial state is [StateUnknown].
func (b *ComponentBuilder) Build() (*BaseComponent, error) {
	if b.name == "" {
		return nil, cperr.New(cperr.CodeValidation,
			"lifecycle: component name must not be empty")
	}
	if b.version == "" {
		return nil, cperr.New(cperr.CodeValidation,
			"lifecycle: component version must not be empty")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Defensive copy of state handlers.
	handlers := make([]StateChangeHandler, len(b.stateHandlers))
	copy(handlers, b.stateHandlers)

	return &BaseComponent{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       b.onStart,
		onStop:        b.onStop,
		healthCheck:   b.healthCheck,
		stateHandlers: handlers,
	}, nil
}

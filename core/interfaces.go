package core

import (
	"context"
)

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger is a Logger that can derive a child logger tagged with
// a component name such as "agent/hello-world" or "framework/transport".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry interface - optional telemetry support
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Registry is the backend contract any registry binding must satisfy.
// Register returns the identity generated by the registry. Withdraw returns
// ErrAgentNotFound when the id is not registered. Discover matches the
// capability as a substring of the serialized capability field.
type Registry interface {
	Register(ctx context.Context, info *AgentInfo) (string, error)
	Withdraw(ctx context.Context, id string) error
	Discover(ctx context.Context, capability string) ([]*AgentRef, error)
	FetchAll(ctx context.Context) ([]*AgentRef, error)
	Close() error
}

// Transport is the publish/subscribe contract between agents.
// Listen blocks until the subscription is deleted, the transport is closed,
// or ctx is done.
type Transport interface {
	Setup(ctx context.Context, agentID string) (*Subscription, error)
	Listen(ctx context.Context, sub *Subscription, handlers EnvelopeHandlers) error
	Publish(ctx context.Context, env *Envelope) PublishResult
	DeleteSubscription(ctx context.Context, agentID string) error
	Close() error
}

// Agent is the one thing every agent must provide: its self-description.
// Behaviour is added by implementing the optional handler interfaces below.
type Agent interface {
	Info() AgentInfo
}

// RequestHandler handles validated request envelopes. A non-nil result is
// sent back to the requester in a response envelope.
type RequestHandler interface {
	HandleRequest(ctx context.Context, env *Envelope) (map[string]interface{}, error)
}

// ResponseHandler receives response envelopes and control-plane acks.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, env *Envelope) error
}

// ControlHandler observes control actions before the built-in transition
// runs. Returning an error aborts the transition and the sender receives a
// control response carrying the error.
type ControlHandler interface {
	HandleControl(ctx context.Context, action ControlAction, env *Envelope) error
}

// Initializer is run once after registration and subscription setup,
// before the receive loop starts.
type Initializer interface {
	Init(ctx context.Context, rt *AgentRuntime) error
}

// SchemaProvider declares the request contract validated before
// RequestHandler runs. Agents without one accept any payload.
type SchemaProvider interface {
	RequestSchema() *RequestSchema
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpTelemetry provides a no-op telemetry implementation
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan provides a no-op span implementation
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}

// componentLogger returns logger tagged with component when it supports it.
func componentLogger(logger Logger, component string) Logger {
	if logger == nil {
		return &NoOpLogger{}
	}
	if cal, ok := logger.(ComponentAwareLogger); ok {
		return cal.WithComponent(component)
	}
	return logger
}

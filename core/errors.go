package core

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for comparison using errors.Is()
var (
	// Argument errors
	ErrInvalidArgument = errors.New("invalid argument")

	// Configuration errors
	ErrInvalidConfiguration   = errors.New("invalid configuration")
	ErrMissingConfiguration   = errors.New("missing required configuration")
	ErrMissingSelfDescription = errors.New("agent is missing its self-description")

	// Registry errors
	ErrRegistrationFailed = errors.New("registration failed")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrNotRegistered      = errors.New("agent not registered")
	ErrNoAgentsAvailable  = errors.New("no agents available")
	ErrRegistryResponse   = errors.New("unexpected registry response")

	// Transport errors
	ErrConnectionFailed   = errors.New("connection failed")
	ErrPublishFailed      = errors.New("publish failed")
	ErrNoRecipient        = errors.New("envelope has no recipient")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrTransportClosed    = errors.New("transport closed")

	// Envelope errors
	ErrInvalidEnvelope   = errors.New("invalid envelope")
	ErrValidationFailed  = errors.New("request validation failed")
	ErrUnknownCodec      = errors.New("unknown codec")
	ErrUnknownAction     = errors.New("unknown control action")
	ErrHandlerFailed     = errors.New("handler failed")
	ErrAlreadyTerminated = errors.New("agent already terminated")
	ErrAlreadyRunning    = errors.New("agent already running")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Error kinds used in FrameworkError.Kind
const (
	KindConfiguration = "configuration"
	KindRegistration  = "registration"
	KindDiscovery     = "discovery"
	KindValidation    = "validation"
	KindTransport     = "transport"
	KindControl       = "control"
	KindHandler       = "handler"
)

// FrameworkError provides structured error information with context
// It implements the error interface and supports error wrapping
type FrameworkError struct {
	Op      string // Operation that failed (e.g., "registry.Register")
	Kind    string // Error kind (e.g., "registration", "transport")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError creates a new FrameworkError
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// FieldViolation describes one field of a request payload that failed
// validation against the receiving agent's request contract.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found in a request payload.
type ValidationError struct {
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("%v: %s", ErrValidationFailed, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrValidationFailed
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// IsRetryable checks if an error is retryable
// Retryable errors are transient network or availability issues; the runtime
// itself never retries, callers decide.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrPublishFailed) ||
		errors.Is(err, ErrNoAgentsAvailable)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration) ||
		errors.Is(err, ErrMissingSelfDescription)
}

// IsValidationError checks if an error came from request contract validation
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}

// IsTransportError checks if an error came from the transport layer
func IsTransportError(err error) bool {
	var fe *FrameworkError
	if errors.As(err, &fe) && fe.Kind == KindTransport {
		return true
	}
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrPublishFailed) ||
		errors.Is(err, ErrTransportClosed)
}

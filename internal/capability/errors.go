// ABOUTME: Error kinds and typed errors for capability registration and handling.
// ABOUTME: Kinds are stable strings that travel inside dispatch envelopes.

package capability

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a capability failure.
type ErrorKind string

const (
	// KindNotFound means no capability with the requested name exists.
	KindNotFound ErrorKind = "capability_not_found"

	// KindInvalidArguments means the arguments were rejected before or by the handler.
	KindInvalidArguments ErrorKind = "invalid_arguments"

	// KindProviderInternal means the handler failed for any other reason.
	KindProviderInternal ErrorKind = "provider_internal_error"

	// KindSerialization means the handler result could not be encoded.
	KindSerialization ErrorKind = "serialization_error"
)

// ErrCapabilityCollision indicates a capability name is already owned by another provider.
var ErrCapabilityCollision = errors.New("capability name collision")

// ErrDuplicateCapability indicates a provider registered the same name twice.
var ErrDuplicateCapability = errors.New("capability already registered in provider")

// ErrInvalidDescriptor indicates a descriptor is missing required fields.
var ErrInvalidDescriptor = errors.New("invalid capability descriptor")

// ErrInvalidArguments is wrapped by handlers to reject their input.
var ErrInvalidArguments = errors.New("invalid arguments")

// ErrNotFound indicates a capability name is not registered.
var ErrNotFound = errors.New("capability not found")

// CollisionError reports a cross-provider name collision.
type CollisionError struct {
	Name             string
	ExistingProvider string
	NewProvider      string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s: capability '%s' is already registered by provider '%s'; cannot register it again for provider '%s'",
		ErrCapabilityCollision, e.Name, e.ExistingProvider, e.NewProvider)
}

func (e *CollisionError) Unwrap() error { return ErrCapabilityCollision }

// Error is the failure returned by Provider.Handle.
type Error struct {
	Kind    ErrorKind
	Tool    string
	Message string
	Err     error
}

// Error returns a human-readable message suitable for showing to the model.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Details returns the underlying cause as text, or the message when there is none.
func (e *Error) Details() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// KindOf extracts the ErrorKind from err, defaulting to KindProviderInternal.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrInvalidArguments) {
		return KindInvalidArguments
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindProviderInternal
}

func newError(kind ErrorKind, tool, message string, err error) *Error {
	return &Error{Kind: kind, Tool: tool, Message: message, Err: err}
}

// ABOUTME: Model client contract: request, response, tool schema and transport errors.
// ABOUTME: Transport failures are classified so callers can map them to user-facing errors.

package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ToolSchema is a capability as advertised to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is one model call.
type Request struct {
	System    string
	Messages  []Turn
	Tools     []ToolSchema
	MaxTokens int
}

// Usage reports token consumption for a call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the model's reply.
type Response struct {
	Parts      []Part
	StopReason string
	Usage      Usage
}

// Text joins the response's text parts.
func (r *Response) Text() string { return JoinText(r.Parts) }

// ToolCalls returns the response's tool-call requests.
func (r *Response) ToolCalls() []ToolCallPart { return ToolCalls(r.Parts) }

// Client performs a single request/response exchange with the model service.
type Client interface {
	Call(ctx context.Context, req *Request) (*Response, error)
	// Ready reports whether the client is configured to reach the service.
	Ready() bool
}

// TransportKind classifies a transport failure.
type TransportKind string

const (
	TransportRateLimit  TransportKind = "rate_limit"
	TransportConnection TransportKind = "connection"
	TransportAuth       TransportKind = "auth"
	// TransportAPI covers other error statuses returned by the service.
	TransportAPI TransportKind = "api"
)

// ErrModelTransport is wrapped by every transport-level failure.
var ErrModelTransport = errors.New("model transport error")

// ErrNotConfigured indicates the client has no credentials.
var ErrNotConfigured = errors.New("model client not configured")

// TransportError describes a failed model call.
type TransportError struct {
	Kind       TransportKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%s, status %d): %v", ErrModelTransport, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", ErrModelTransport, e.Kind, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *TransportError) Unwrap() []error { return []error{ErrModelTransport, e.Err} }

// AsTransportError extracts a *TransportError from err.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

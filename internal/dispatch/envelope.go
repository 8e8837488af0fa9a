// ABOUTME: Envelope is the uniform success/failure result of a capability dispatch.
// ABOUTME: It always encodes to valid JSON and renders the text fed back to the model.

package dispatch

import (
	"encoding/json"

	"github.com/cappelaere/wai/internal/capability"
)

// Envelope is the outcome of one dispatch.
type Envelope struct {
	// CallID correlates the envelope with the model's tool call. Empty for
	// direct dispatches.
	CallID   string
	ToolName string
	Success  bool

	// Data holds the capability result when Success is true.
	Data json.RawMessage

	// Failure fields.
	Kind           capability.ErrorKind
	Message        string
	Details        string
	AvailableTools []string
}

// Succeeded builds a success envelope.
func Succeeded(tool string, data json.RawMessage) Envelope {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Envelope{ToolName: tool, Success: true, Data: data}
}

// Failed builds a failure envelope with the default message for kind.
func Failed(tool string, kind capability.ErrorKind, details string) Envelope {
	return Envelope{
		ToolName: tool,
		Kind:     kind,
		Message:  messageFor(kind),
		Details:  details,
	}
}

func messageFor(kind capability.ErrorKind) string {
	switch kind {
	case capability.KindNotFound:
		return "Tool not found"
	case capability.KindInvalidArguments:
		return "Validation error"
	case capability.KindSerialization:
		return "JSON serialization error"
	default:
		return "Tool execution error"
	}
}

type successJSON struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type failureJSON struct {
	Success        bool                 `json:"success"`
	Error          string               `json:"error"`
	ErrorKind      capability.ErrorKind `json:"error_kind"`
	ToolName       string               `json:"tool_name"`
	Details        string               `json:"details,omitempty"`
	AvailableTools []string             `json:"available_tools,omitempty"`
}

// MarshalJSON encodes the envelope. Data is re-validated so a malformed
// payload degrades to a serialization failure instead of invalid output.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Success {
		data := e.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		if json.Valid(data) {
			return json.Marshal(successJSON{Success: true, Data: data})
		}
		e = Failed(e.ToolName, capability.KindSerialization, "capability result is not valid JSON")
	}
	return json.Marshal(failureJSON{
		Error:          e.Message,
		ErrorKind:      e.Kind,
		ToolName:       e.ToolName,
		Details:        e.Details,
		AvailableTools: e.AvailableTools,
	})
}

// ModelContent returns the text handed back to the model as a tool result:
// the raw result on success and the encoded failure otherwise.
func (e Envelope) ModelContent() string {
	if e.Success && json.Valid(e.Data) {
		return string(e.Data)
	}
	b, err := e.MarshalJSON()
	if err != nil {
		return `{"success":false,"error":"JSON serialization error"}`
	}
	return string(b)
}

// IsError reports whether the envelope describes a failure.
func (e Envelope) IsError() bool { return !e.Success }

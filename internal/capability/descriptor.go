// ABOUTME: Immutable metadata describing one callable capability.
// ABOUTME: Validated once when a provider registers it.

package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Descriptor describes a capability: its globally unique name, a description
// for the model, and JSON Schemas for its input and output.
type Descriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// emptyObjectSchema is used when a descriptor declares no input schema.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Validate checks that the descriptor has a name, a description and an object
// input schema.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("%w: capability '%s' has no description", ErrInvalidDescriptor, d.Name)
	}
	if len(d.InputSchema) > 0 {
		trimmed := bytes.TrimSpace(d.InputSchema)
		if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
			return fmt.Errorf("%w: capability '%s' input schema must be a JSON object", ErrInvalidDescriptor, d.Name)
		}
	}
	if len(d.OutputSchema) > 0 && !json.Valid(d.OutputSchema) {
		return fmt.Errorf("%w: capability '%s' output schema is not valid JSON", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

// Schema returns the input schema, or an empty object schema if none was declared.
func (d Descriptor) Schema() json.RawMessage {
	if len(d.InputSchema) == 0 {
		return emptyObjectSchema
	}
	return d.InputSchema
}

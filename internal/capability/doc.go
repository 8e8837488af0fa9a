// Package capability defines the callable operations the language model can use
// while answering a question, and the registry that owns their names.
//
// # Overview
//
// A capability is a named, schema-described operation. Capabilities are grouped
// into providers: a provider owns the data or logic behind its capabilities and
// exposes them through a single "handle a named call" entry point.
//
// # Components
//
//   - Descriptor: immutable metadata (name, description, input and output schema)
//   - Provider: a named source of capabilities with one-shot initialization
//   - Base: the reusable Provider implementation embedded by concrete providers
//   - Registry: the process-wide map from capability name to owning provider
//
// # Naming
//
// Capability names are globally unique. A provider rejects a duplicate name at
// registration time (ErrDuplicateCapability), and the Registry rejects a name
// already owned by another provider (ErrCapabilityCollision). Both are startup
// configuration errors, never runtime conditions.
//
// # Errors
//
// Handle reports failures as *Error values carrying an ErrorKind:
//
//	capability_not_found     - no handler with that name
//	invalid_arguments        - arguments rejected by the schema or the handler
//	provider_internal_error  - any other handler failure
//	serialization_error      - the result could not be encoded as JSON
//
// The dispatch layer turns these into failure envelopes that are shown back to
// the model, so a single failing capability never aborts a conversation.
//
// # Usage
//
//	p := capability.NewBase("notes", logger, func(ctx context.Context, b *capability.Base) error {
//		return b.Register(capability.Descriptor{
//			Name:        "note_get",
//			Description: "Retrieve a note",
//			InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
//		}, handler)
//	})
//
//	registry := capability.NewRegistry(logger)
//	if err := p.Initialize(ctx); err != nil { ... }
//	if err := registry.RegisterProvider(p); err != nil { ... }
package capability

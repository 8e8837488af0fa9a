// ABOUTME: Provider contract and the reusable Base implementation with one-shot setup.
// ABOUTME: Base validates arguments against each capability's schema before calling handlers.

package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Provider is a named source of one or more capabilities.
type Provider interface {
	// ID returns the provider's unique identifier.
	ID() string
	// Initialize performs one-time setup. Safe to call concurrently and repeatedly.
	Initialize(ctx context.Context) error
	// Initialized reports whether setup completed successfully.
	Initialized() bool
	// Descriptors returns the provider's capabilities in registration order.
	Descriptors() []Descriptor
	// Handle executes the named capability with JSON-encoded arguments.
	Handle(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

// Handler executes a capability. It returns a JSON-serializable result or an
// error; wrap ErrInvalidArguments to reject the input.
type Handler func(ctx context.Context, args Args) (any, error)

// SetupFunc registers a provider's capabilities and prepares its dependencies.
type SetupFunc func(ctx context.Context, b *Base) error

type registration struct {
	desc    Descriptor
	handler Handler
	schema  *jsonschema.Schema
}

// Base implements Provider. Concrete providers embed it and supply a SetupFunc.
type Base struct {
	id     string
	logger *slog.Logger
	setup  SetupFunc

	once    sync.Once
	initErr error
	ready   atomic.Bool

	mu    sync.RWMutex
	tools map[string]*registration
	order []string
}

// NewBase creates a provider base. setup runs at most once, on first Initialize
// or Handle.
func NewBase(id string, logger *slog.Logger, setup SetupFunc) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		id:     id,
		logger: logger.With("provider", id),
		setup:  setup,
		tools:  make(map[string]*registration),
	}
}

// ID returns the provider identifier.
func (b *Base) ID() string { return b.id }

// Logger returns the provider-scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Initialize runs the setup function exactly once and memoizes its result.
func (b *Base) Initialize(ctx context.Context) error {
	b.once.Do(func() {
		if b.setup != nil {
			if err := b.setup(ctx, b); err != nil {
				b.initErr = fmt.Errorf("initializing provider '%s': %w", b.id, err)
				b.logger.Error("provider initialization failed", "error", err)
				return
			}
		}
		b.ready.Store(true)
		b.logger.Debug("provider initialized", "capability_count", len(b.order))
	})
	return b.initErr
}

// Initialized reports whether setup completed successfully.
func (b *Base) Initialized() bool { return b.ready.Load() }

// Register adds a capability to this provider. It fails if the descriptor is
// invalid, its schema does not compile, or the name is already registered here.
func (b *Base) Register(desc Descriptor, handler Handler) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: capability '%s' has no handler", ErrInvalidDescriptor, desc.Name)
	}

	schema, err := compileSchema(desc.InputSchema)
	if err != nil {
		return fmt.Errorf("%w: capability '%s': %v", ErrInvalidDescriptor, desc.Name, err)
	}
	if _, err := compileSchema(desc.OutputSchema); err != nil {
		return fmt.Errorf("%w: capability '%s' output: %v", ErrInvalidDescriptor, desc.Name, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.tools[desc.Name]; exists {
		return fmt.Errorf("%w: '%s' in provider '%s'", ErrDuplicateCapability, desc.Name, b.id)
	}
	b.tools[desc.Name] = &registration{desc: desc, handler: handler, schema: schema}
	b.order = append(b.order, desc.Name)
	return nil
}

// MustRegister is Register for static capability tables; it panics on error.
func (b *Base) MustRegister(desc Descriptor, handler Handler) {
	if err := b.Register(desc, handler); err != nil {
		panic(err)
	}
}

// Descriptors returns the registered descriptors in registration order.
func (b *Base) Descriptors() []Descriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Descriptor, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.tools[name].desc)
	}
	return out
}

// Handle validates args and runs the named handler. Every failure is an *Error.
func (b *Base) Handle(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	if err := b.Initialize(ctx); err != nil {
		return nil, newError(KindProviderInternal, name, "provider unavailable", err)
	}

	b.mu.RLock()
	reg, ok := b.tools[name]
	b.mu.RUnlock()
	if !ok {
		return nil, newError(KindNotFound, name, "tool not found", fmt.Errorf("%w: '%s' in provider '%s'", ErrNotFound, name, b.id))
	}

	values, err := decodeArgs(args)
	if err != nil {
		return nil, newError(KindInvalidArguments, name, "invalid arguments for tool", err)
	}
	if reg.schema != nil {
		if err := reg.schema.Validate(map[string]any(values)); err != nil {
			return nil, newError(KindInvalidArguments, name, "invalid arguments for tool", err)
		}
	}

	result, err := reg.handler(ctx, Args{values: values})
	if err != nil {
		var ce *Error
		switch {
		case errors.As(err, &ce):
			return nil, ce
		case errors.Is(err, ErrInvalidArguments):
			return nil, newError(KindInvalidArguments, name, "invalid arguments for tool", err)
		default:
			return nil, newError(KindProviderInternal, name, "tool execution failed", err)
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, newError(KindSerialization, name, "result is not serializable", err)
	}
	return data, nil
}

// decodeArgs parses the raw arguments as a JSON object. Empty and null input
// decode to an empty map.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	var values map[string]any
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

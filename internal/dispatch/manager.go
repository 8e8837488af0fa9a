// ABOUTME: Manager initializes providers, owns the registry and routes dispatches.
// ABOUTME: Dispatch recovers panics and converts every failure into an Envelope.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/metrics"
	"github.com/cappelaere/wai/internal/model"
)

// ErrProviderInitialization is wrapped by InitError.
var ErrProviderInitialization = errors.New("provider initialization failed")

// ErrDuplicateProvider indicates two providers share an ID.
var ErrDuplicateProvider = errors.New("duplicate provider id")

// DefaultWorkers bounds concurrent dispatches within a batch.
const DefaultWorkers = 4

// DefaultTimeout is the default per-dispatch timeout.
const DefaultTimeout = 30 * time.Second

// InitError reports a provider whose setup failed during boot.
type InitError struct {
	ProviderID string
	Err        error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: provider '%s': %v", ErrProviderInitialization, e.ProviderID, e.Err)
}

func (e *InitError) Unwrap() []error { return []error{ErrProviderInitialization, e.Err} }

// Call is one capability invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Config configures a Manager.
type Config struct {
	Registry  *capability.Registry
	Providers []capability.Provider
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Workers   int
	Timeout   time.Duration
}

// Manager routes capability invocations to providers.
type Manager struct {
	registry  *capability.Registry
	providers []capability.Provider
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	workers   int
	timeout   time.Duration

	mu   sync.RWMutex
	byID map[string]capability.Provider

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool
}

// New creates a Manager. Providers are initialized in the order given.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = capability.NewRegistry(logger)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/cappelaere/wai/internal/dispatch")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		registry:  registry,
		providers: cfg.Providers,
		logger:    logger.With("component", "dispatch"),
		metrics:   cfg.Metrics,
		tracer:    tracer,
		workers:   workers,
		timeout:   timeout,
		byID:      make(map[string]capability.Provider),
	}
}

// Initialize sets up every provider and registers its capabilities. The
// first failure aborts boot and is returned on every later call.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.initialize(ctx)
	})
	return m.initErr
}

func (m *Manager) initialize(ctx context.Context) error {
	start := time.Now()
	for _, p := range m.providers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("initializing providers: %w", err)
		}
		id := p.ID()

		m.mu.RLock()
		_, dup := m.byID[id]
		m.mu.RUnlock()
		if dup {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
		}

		if err := p.Initialize(ctx); err != nil {
			m.logger.Error("provider failed to initialize", "provider", id, "error", err)
			return &InitError{ProviderID: id, Err: err}
		}
		if err := m.registry.RegisterProvider(p); err != nil {
			m.logger.Error("provider registration rejected", "provider", id, "error", err)
			return fmt.Errorf("registering provider %s: %w", id, err)
		}

		m.mu.Lock()
		m.byID[id] = p
		m.mu.Unlock()
	}

	m.ready.Store(true)
	stats := m.registry.Stats()
	m.logger.Info("=== CAPABILITIES READY ===",
		"capabilities", stats.TotalCapabilities,
		"providers", stats.TotalProviders,
		"duration", time.Since(start),
	)
	for _, id := range m.registry.Providers() {
		m.logger.Debug("provider capabilities", "provider", id, "count", stats.PerProvider[id])
	}
	return nil
}

// Ready reports whether Initialize completed successfully.
func (m *Manager) Ready() bool { return m.ready.Load() }

// Registry returns the capability registry.
func (m *Manager) Registry() *capability.Registry { return m.registry }

// Entries lists registered capabilities in registration order.
func (m *Manager) Entries() []capability.Entry { return m.registry.Entries() }

// Stats summarizes the registry.
func (m *Manager) Stats() capability.Stats { return m.registry.Stats() }

// DescribeCapabilities maps every registered descriptor to the model's tool
// schema shape.
func (m *Manager) DescribeCapabilities() []model.ToolSchema {
	entries := m.registry.Entries()
	out := make([]model.ToolSchema, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.ToolSchema{
			Name:        e.Descriptor.Name,
			Description: e.Descriptor.Description,
			InputSchema: e.Descriptor.Schema(),
		})
	}
	return out
}

// Dispatch invokes the named capability. It never panics and never returns an
// error; every outcome is an Envelope.
func (m *Manager) Dispatch(ctx context.Context, name string, args json.RawMessage) Envelope {
	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "dispatch "+name,
		trace.WithAttributes(attribute.String("capability.name", name)),
	)
	defer span.End()

	m.logger.Debug("→ dispatching capability", "tool_name", name)

	env := m.dispatch(ctx, name, args)

	outcome := "success"
	if !env.Success {
		outcome = string(env.Kind)
		span.SetStatus(codes.Error, env.Details)
	}
	span.SetAttributes(attribute.String("capability.outcome", outcome))
	m.metrics.ObserveDispatch(name, outcome, time.Since(start))

	if env.Success {
		m.logger.Debug("← capability responded", "tool_name", name, "duration", time.Since(start))
	} else {
		m.logger.Warn("← capability failed",
			"tool_name", name,
			"error_kind", env.Kind,
			"details", env.Details,
			"duration", time.Since(start),
		)
	}
	return env
}

func (m *Manager) dispatch(ctx context.Context, name string, args json.RawMessage) (env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("capability panicked",
				"tool_name", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			env = Failed(name, capability.KindProviderInternal, fmt.Sprintf("panic: %v", r))
		}
	}()

	entry, ok := m.registry.Lookup(name)
	if !ok {
		env = Failed(name, capability.KindNotFound, fmt.Sprintf("no capability named '%s' is registered", name))
		env.AvailableTools = m.registry.Names()
		return env
	}

	m.mu.RLock()
	p := m.byID[entry.ProviderID]
	m.mu.RUnlock()
	if p == nil {
		return Failed(name, capability.KindProviderInternal, fmt.Sprintf("provider '%s' is not available", entry.ProviderID))
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	data, err := p.Handle(ctx, name, args)
	if err != nil {
		details := err.Error()
		var ce *capability.Error
		if errors.As(err, &ce) {
			details = ce.Details()
		}
		return Failed(name, capability.KindOf(err), details)
	}
	if len(data) > 0 && !json.Valid(data) {
		return Failed(name, capability.KindSerialization, "capability result is not valid JSON")
	}
	return Succeeded(name, data)
}

// DispatchBatch runs every call with bounded concurrency. The result slice is
// in request order and each envelope carries its call's ID.
func (m *Manager) DispatchBatch(ctx context.Context, calls []Call) []Envelope {
	out := make([]Envelope, len(calls))
	if len(calls) == 0 {
		return out
	}

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, c := range calls {
		g.Go(func() error {
			env := m.Dispatch(ctx, c.Name, c.Arguments)
			env.CallID = c.ID
			out[i] = env
			return nil
		})
	}
	_ = g.Wait()
	return out
}

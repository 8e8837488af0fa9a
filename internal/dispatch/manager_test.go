// ABOUTME: Tests for provider initialization, dispatch outcomes and batch fan-out.
// ABOUTME: Providers are built on capability.Base with scripted handlers.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/metrics"
)

const idSchema = `{"type":"object","properties":{"application_id":{"type":"string"}},"required":["application_id"]}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type tool struct {
	name    string
	schema  string
	handler capability.Handler
}

func echoTool(name string) tool {
	return tool{name: name, handler: func(ctx context.Context, args capability.Args) (any, error) {
		return map[string]any{"tool": name, "args": args.Map()}, nil
	}}
}

func newTestProvider(id string, tools ...tool) *capability.Base {
	return capability.NewBase(id, testLogger(), func(ctx context.Context, b *capability.Base) error {
		for _, tl := range tools {
			desc := capability.Descriptor{Name: tl.name, Description: "test capability " + tl.name}
			if tl.schema != "" {
				desc.InputSchema = json.RawMessage(tl.schema)
			}
			if err := b.Register(desc, tl.handler); err != nil {
				return err
			}
		}
		return nil
	})
}

func newTestManager(t *testing.T, providers ...capability.Provider) *Manager {
	t.Helper()
	m := New(Config{Providers: providers, Logger: testLogger()})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m
}

func TestInitializeRegistersProvidersInOrder(t *testing.T) {
	m := newTestManager(t,
		newTestProvider("application_data", echoTool("get_application"), echoTool("list_applications")),
		newTestProvider("analysis", echoTool("analyze_application")),
	)

	if !m.Ready() {
		t.Fatal("expected manager to be ready")
	}
	entries := m.Entries()
	want := []string{"get_application", "list_applications", "analyze_application"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, name := range want {
		if entries[i].Descriptor.Name != name {
			t.Errorf("entry %d: expected %s, got %s", i, name, entries[i].Descriptor.Name)
		}
	}
	if stats := m.Stats(); stats.TotalProviders != 2 || stats.PerProvider["application_data"] != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestInitializeProviderFailure(t *testing.T) {
	boom := errors.New("records directory missing")
	bad := capability.NewBase("processor", testLogger(), func(ctx context.Context, b *capability.Base) error {
		return boom
	})
	m := New(Config{
		Providers: []capability.Provider{newTestProvider("application_data", echoTool("get_application")), bad},
		Logger:    testLogger(),
	})

	err := m.Initialize(context.Background())
	if !errors.Is(err, ErrProviderInitialization) {
		t.Fatalf("expected ErrProviderInitialization, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	var ie *InitError
	if !errors.As(err, &ie) || ie.ProviderID != "processor" {
		t.Errorf("expected InitError for processor, got %v", err)
	}
	if m.Ready() {
		t.Error("manager must not be ready after a failed boot")
	}
	if again := m.Initialize(context.Background()); again != err {
		t.Errorf("expected memoized error, got %v", again)
	}
}

func TestInitializeCanceledContext(t *testing.T) {
	m := New(Config{
		Providers: []capability.Provider{newTestProvider("p", echoTool("ping"))},
		Logger:    testLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Initialize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Ready() || m.Registry().Len() != 0 {
		t.Error("a canceled boot must not register capabilities")
	}
}

func TestInitializeCollisionAbortsBoot(t *testing.T) {
	m := New(Config{
		Providers: []capability.Provider{
			newTestProvider("A", echoTool("get_application")),
			newTestProvider("B", echoTool("get_application")),
		},
		Logger: testLogger(),
	})

	err := m.Initialize(context.Background())
	if !errors.Is(err, capability.ErrCapabilityCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
	var ce *capability.CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CollisionError, got %T", err)
	}
	if ce.Name != "get_application" || ce.ExistingProvider != "A" || ce.NewProvider != "B" {
		t.Errorf("unexpected collision details: %+v", ce)
	}
	for _, want := range []string{"get_application", "'A'", "'B'"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
	if m.Ready() {
		t.Error("manager must not be ready after a collision")
	}
}

func TestInitializeDuplicateProviderID(t *testing.T) {
	m := New(Config{
		Providers: []capability.Provider{
			newTestProvider("A", echoTool("one")),
			newTestProvider("A", echoTool("two")),
		},
		Logger: testLogger(),
	})
	if err := m.Initialize(context.Background()); !errors.Is(err, ErrDuplicateProvider) {
		t.Fatalf("expected ErrDuplicateProvider, got %v", err)
	}
}

func TestDescribeCapabilities(t *testing.T) {
	m := newTestManager(t, newTestProvider("application_data",
		tool{name: "get_application", schema: idSchema, handler: echoTool("get_application").handler},
		echoTool("get_scholarship_info"),
	))

	schemas := m.DescribeCapabilities()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	if schemas[0].Name != "get_application" || schemas[0].Description == "" {
		t.Errorf("unexpected first schema: %+v", schemas[0])
	}
	if string(schemas[0].InputSchema) != idSchema {
		t.Errorf("schema not passed through: %s", schemas[0].InputSchema)
	}
	var empty map[string]any
	if err := json.Unmarshal(schemas[1].InputSchema, &empty); err != nil || empty["type"] != "object" {
		t.Errorf("expected default object schema, got %s", schemas[1].InputSchema)
	}
}

func TestDispatch(t *testing.T) {
	notFound := fmt.Errorf("%w: application 999 not found", capability.ErrInvalidArguments)
	m := newTestManager(t, newTestProvider("application_data",
		tool{name: "get_application", schema: idSchema, handler: func(ctx context.Context, args capability.Args) (any, error) {
			if args.String("application_id") == "999" {
				return nil, notFound
			}
			return map[string]any{"id": args.String("application_id"), "gpa": 3.8}, nil
		}},
		tool{name: "explode", handler: func(ctx context.Context, args capability.Args) (any, error) {
			panic("nil map write")
		}},
		tool{name: "broken", handler: func(ctx context.Context, args capability.Args) (any, error) {
			return nil, errors.New("disk on fire")
		}},
		tool{name: "unencodable", handler: func(ctx context.Context, args capability.Args) (any, error) {
			return map[string]any{"ch": make(chan int)}, nil
		}},
	))
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		env := m.Dispatch(ctx, "get_application", json.RawMessage(`{"application_id":"75179"}`))
		if !env.Success {
			t.Fatalf("expected success, got %+v", env)
		}
		var data map[string]any
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
		if data["id"] != "75179" {
			t.Errorf("unexpected data: %v", data)
		}
	})

	t.Run("unknown capability lists available tools", func(t *testing.T) {
		env := m.Dispatch(ctx, "nonexistent_tool", nil)
		if env.Success || env.Kind != capability.KindNotFound {
			t.Fatalf("expected capability_not_found, got %+v", env)
		}
		if env.ToolName != "nonexistent_tool" {
			t.Errorf("expected tool name echoed, got %s", env.ToolName)
		}
		if len(env.AvailableTools) != 4 {
			t.Errorf("expected 4 available tools, got %v", env.AvailableTools)
		}
	})

	t.Run("schema violation", func(t *testing.T) {
		env := m.Dispatch(ctx, "get_application", json.RawMessage(`{}`))
		if env.Kind != capability.KindInvalidArguments {
			t.Errorf("expected invalid_arguments, got %+v", env)
		}
	})

	t.Run("arguments not an object", func(t *testing.T) {
		env := m.Dispatch(ctx, "get_application", json.RawMessage(`[1,2]`))
		if env.Kind != capability.KindInvalidArguments {
			t.Errorf("expected invalid_arguments, got %+v", env)
		}
	})

	t.Run("handler rejects input", func(t *testing.T) {
		env := m.Dispatch(ctx, "get_application", json.RawMessage(`{"application_id":"999"}`))
		if env.Kind != capability.KindInvalidArguments {
			t.Fatalf("expected invalid_arguments, got %+v", env)
		}
		if !strings.Contains(env.Details, "application 999 not found") {
			t.Errorf("expected details to carry the cause, got %q", env.Details)
		}
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		env := m.Dispatch(ctx, "explode", nil)
		if env.Kind != capability.KindProviderInternal {
			t.Fatalf("expected provider_internal_error, got %+v", env)
		}
		if !strings.Contains(env.Details, "nil map write") {
			t.Errorf("expected panic value in details, got %q", env.Details)
		}
	})

	t.Run("handler failure", func(t *testing.T) {
		env := m.Dispatch(ctx, "broken", nil)
		if env.Kind != capability.KindProviderInternal {
			t.Errorf("expected provider_internal_error, got %+v", env)
		}
	})

	t.Run("unserializable result", func(t *testing.T) {
		env := m.Dispatch(ctx, "unencodable", nil)
		if env.Kind != capability.KindSerialization {
			t.Errorf("expected serialization_error, got %+v", env)
		}
	})
}

func TestDispatchRecordsMetrics(t *testing.T) {
	met := metrics.New()
	m := New(Config{
		Providers: []capability.Provider{newTestProvider("p", echoTool("ping"))},
		Logger:    testLogger(),
		Metrics:   met,
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	m.Dispatch(context.Background(), "ping", nil)
	m.Dispatch(context.Background(), "pong", nil)

	if got := testutil.ToFloat64(met.DispatchTotal.WithLabelValues("ping", "success")); got != 1 {
		t.Errorf("success count = %v", got)
	}
	if got := testutil.ToFloat64(met.DispatchTotal.WithLabelValues("pong", "capability_not_found")); got != 1 {
		t.Errorf("not-found count = %v", got)
	}
}

func TestDispatchBatchPreservesOrderAndIndependence(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(d time.Duration) capability.Handler {
		return func(ctx context.Context, args capability.Args) (any, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(d)
			return map[string]string{"slept": d.String()}, nil
		}
	}
	m := New(Config{
		Providers: []capability.Provider{newTestProvider("p",
			tool{name: "slow", handler: slow(40 * time.Millisecond)},
			tool{name: "fast", handler: slow(time.Millisecond)},
			tool{name: "fail", handler: func(ctx context.Context, args capability.Args) (any, error) {
				return nil, errors.New("nope")
			}},
		)},
		Logger:  testLogger(),
		Workers: 2,
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	calls := []Call{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fail"},
		{ID: "c3", Name: "fast"},
		{ID: "c4", Name: "missing"},
		{ID: "c5", Name: "slow"},
	}
	results := m.DispatchBatch(context.Background(), calls)

	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, c := range calls {
		if results[i].CallID != c.ID {
			t.Errorf("result %d: expected call id %s, got %s", i, c.ID, results[i].CallID)
		}
		if results[i].ToolName != c.Name {
			t.Errorf("result %d: expected tool %s, got %s", i, c.Name, results[i].ToolName)
		}
	}
	if !results[0].Success || !results[2].Success || !results[4].Success {
		t.Error("successful calls must not be affected by failing siblings")
	}
	if results[1].Success || results[3].Success {
		t.Error("failing calls must report failure")
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("expected at most 2 concurrent dispatches, saw %d", p)
	}
}

func TestDispatchBatchEmpty(t *testing.T) {
	m := newTestManager(t, newTestProvider("p", echoTool("ping")))
	if got := m.DispatchBatch(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestDispatchTimeout(t *testing.T) {
	m := New(Config{
		Providers: []capability.Provider{newTestProvider("p", tool{name: "hang", handler: func(ctx context.Context, args capability.Args) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}})},
		Logger:  testLogger(),
		Timeout: 20 * time.Millisecond,
	})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	env := m.Dispatch(context.Background(), "hang", nil)
	if env.Kind != capability.KindProviderInternal {
		t.Errorf("expected provider_internal_error on timeout, got %+v", env)
	}
}

// rawProvider returns fixed bytes from Handle without Base's encoding step.
type rawProvider struct {
	*capability.Base
	payload json.RawMessage
}

func (p *rawProvider) Handle(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return p.payload, nil
}

func TestDispatchRejectsMalformedProviderResult(t *testing.T) {
	met := metrics.New()
	p := &rawProvider{Base: newTestProvider("raw", echoTool("broken")), payload: json.RawMessage(`{not json`)}
	m := New(Config{Providers: []capability.Provider{p}, Logger: testLogger(), Metrics: met})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	results := m.DispatchBatch(context.Background(), []Call{{ID: "c1", Name: "broken"}})
	env := results[0]
	if env.Success || !env.IsError() {
		t.Fatalf("malformed result must be a failure, got %+v", env)
	}
	if env.Kind != capability.KindSerialization {
		t.Errorf("expected serialization_error, got %s", env.Kind)
	}
	if !strings.Contains(env.ModelContent(), `"error_kind":"serialization_error"`) {
		t.Errorf("unexpected model content: %s", env.ModelContent())
	}
	if got := testutil.ToFloat64(met.DispatchTotal.WithLabelValues("broken", "success")); got != 0 {
		t.Errorf("malformed result counted as success: %v", got)
	}
	if got := testutil.ToFloat64(met.DispatchTotal.WithLabelValues("broken", "serialization_error")); got != 1 {
		t.Errorf("serialization failure count = %v", got)
	}
}

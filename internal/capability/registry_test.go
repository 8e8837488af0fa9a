// ABOUTME: Tests for the capability registry including collision detection and teardown.
// ABOUTME: Validates thread-safe lookups and per-provider listings.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
)

// createTestDescriptor creates a Descriptor for testing.
func createTestDescriptor(name string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: name + " description",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

// createTestProvider creates an initialized provider with no-op handlers.
func createTestProvider(t *testing.T, id string, names ...string) *Base {
	t.Helper()
	p := NewBase(id, slog.Default(), func(ctx context.Context, b *Base) error {
		for _, name := range names {
			if err := b.Register(createTestDescriptor(name), func(ctx context.Context, args Args) (any, error) {
				return map[string]string{"ok": "yes"}, nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize %s: %v", id, err)
	}
	return p
}

func TestRegistryRegisterProvider(t *testing.T) {
	t.Run("registers all capabilities", func(t *testing.T) {
		registry := NewRegistry(slog.Default())
		p := createTestProvider(t, "application_data", "get_application", "search_applications")

		if err := registry.RegisterProvider(p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		entry, ok := registry.Lookup("get_application")
		if !ok {
			t.Fatal("expected get_application to be registered")
		}
		if entry.ProviderID != "application_data" {
			t.Errorf("expected provider 'application_data', got '%s'", entry.ProviderID)
		}
		if registry.Len() != 2 {
			t.Errorf("expected 2 capabilities, got %d", registry.Len())
		}
	})

	t.Run("collision across providers", func(t *testing.T) {
		registry := NewRegistry(slog.Default())
		first := createTestProvider(t, "records", "search")
		second := createTestProvider(t, "analysis", "search")

		if err := registry.RegisterProvider(first); err != nil {
			t.Fatalf("first register: %v", err)
		}
		err := registry.RegisterProvider(second)
		if err == nil {
			t.Fatal("expected collision error")
		}
		if !errors.Is(err, ErrCapabilityCollision) {
			t.Errorf("expected ErrCapabilityCollision, got %v", err)
		}

		var ce *CollisionError
		if !errors.As(err, &ce) {
			t.Fatalf("expected *CollisionError, got %T", err)
		}
		if ce.Name != "search" || ce.ExistingProvider != "records" || ce.NewProvider != "analysis" {
			t.Errorf("unexpected collision details: %+v", ce)
		}
	})

	t.Run("failed registration leaves registry unchanged", func(t *testing.T) {
		registry := NewRegistry(slog.Default())
		if err := registry.RegisterProvider(createTestProvider(t, "a", "shared")); err != nil {
			t.Fatalf("register a: %v", err)
		}

		err := registry.RegisterProvider(createTestProvider(t, "b", "unique_b", "shared"))
		if !errors.Is(err, ErrCapabilityCollision) {
			t.Fatalf("expected collision, got %v", err)
		}
		if _, ok := registry.Lookup("unique_b"); ok {
			t.Error("unique_b should not be registered after a failed provider registration")
		}
		if len(registry.ListByProvider("b")) != 0 {
			t.Error("provider b should have no capabilities")
		}
	})
}

func TestRegistryRegisterSingle(t *testing.T) {
	registry := NewRegistry(slog.Default())

	if err := registry.Register("p1", createTestDescriptor("tool_a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := registry.Register("p2", createTestDescriptor("tool_a"))
	if !errors.Is(err, ErrCapabilityCollision) {
		t.Fatalf("expected collision, got %v", err)
	}

	err = registry.Register("p1", Descriptor{Name: "", Description: "x"})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("expected ErrInvalidDescriptor for empty name, got %v", err)
	}
}

func TestRegistryListingAndStats(t *testing.T) {
	registry := NewRegistry(slog.Default())
	_ = registry.RegisterProvider(createTestProvider(t, "application_data", "get_application", "list_applications"))
	_ = registry.RegisterProvider(createTestProvider(t, "processor", "get_processor_status"))

	descs := registry.ListByProvider("application_data")
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	if descs[0].Name != "get_application" || descs[1].Name != "list_applications" {
		t.Errorf("expected registration order, got %s, %s", descs[0].Name, descs[1].Name)
	}

	entries := registry.Entries()
	if len(entries) != 3 || entries[2].Descriptor.Name != "get_processor_status" {
		t.Errorf("unexpected entries: %+v", entries)
	}

	stats := registry.Stats()
	if stats.TotalCapabilities != 3 {
		t.Errorf("expected 3 capabilities, got %d", stats.TotalCapabilities)
	}
	if stats.TotalProviders != 2 {
		t.Errorf("expected 2 providers, got %d", stats.TotalProviders)
	}
	if stats.PerProvider["application_data"] != 2 || stats.PerProvider["processor"] != 1 {
		t.Errorf("unexpected per-provider counts: %v", stats.PerProvider)
	}

	names := registry.Names()
	want := []string{"get_application", "get_processor_status", "list_applications"}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("names[%d] = %s, want %s", i, names[i], n)
		}
	}

	providers := registry.Providers()
	if len(providers) != 2 || providers[0] != "application_data" {
		t.Errorf("unexpected providers: %v", providers)
	}
}

func TestRegistryTeardown(t *testing.T) {
	registry := NewRegistry(slog.Default())
	_ = registry.RegisterProvider(createTestProvider(t, "p1", "a", "b"))
	_ = registry.RegisterProvider(createTestProvider(t, "p2", "c"))

	if !registry.Unregister("a") {
		t.Fatal("expected a to be removed")
	}
	if registry.Unregister("a") {
		t.Error("second unregister should report false")
	}
	if _, ok := registry.Lookup("a"); ok {
		t.Error("a should be gone")
	}

	if n := registry.UnregisterProvider("p1"); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if registry.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", registry.Len())
	}

	// Names freed by teardown can be registered again.
	if err := registry.Register("p3", createTestDescriptor("a")); err != nil {
		t.Errorf("re-register after teardown: %v", err)
	}

	registry.Clear()
	if registry.Len() != 0 {
		t.Errorf("expected empty registry, got %d", registry.Len())
	}
}

func TestRegistryConcurrentLookup(t *testing.T) {
	registry := NewRegistry(slog.Default())
	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("tool_%d", i)
	}
	_ = registry.RegisterProvider(createTestProvider(t, "p", names...))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := names[i%len(names)]
			if _, ok := registry.Lookup(name); !ok {
				t.Errorf("lookup %s failed", name)
			}
			_ = registry.Stats()
			_ = registry.Entries()
		}(i)
	}
	wg.Wait()
}

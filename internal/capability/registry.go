// ABOUTME: Thread-safe registry mapping capability names to their owning provider.
// ABOUTME: Enforces global name uniqueness; collisions are startup configuration errors.

package capability

import (
	"log/slog"
	"sort"
	"sync"
)

// Entry is a registered capability with its owning provider ID.
type Entry struct {
	ProviderID string
	Descriptor Descriptor
}

// Stats summarizes registry contents.
type Stats struct {
	TotalCapabilities int            `json:"total_capabilities"`
	TotalProviders    int            `json:"total_providers"`
	PerProvider       map[string]int `json:"per_provider"`
}

// Registry maintains the process-wide capability namespace.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*Entry   // capability name -> entry
	byProvider map[string][]string // provider ID -> capability names in registration order
	order      []string            // all names in registration order
	logger     *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:    make(map[string]*Entry),
		byProvider: make(map[string][]string),
		logger:     logger,
	}
}

// Register adds a single capability. Returns a *CollisionError if the name is
// already registered, whichever provider owns it.
func (r *Registry) Register(providerID string, desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.entries[desc.Name]; exists {
		return &CollisionError{Name: desc.Name, ExistingProvider: existing.ProviderID, NewProvider: providerID}
	}
	r.insert(providerID, desc)
	return nil
}

// RegisterProvider registers every capability of p. Collisions are checked for
// all descriptors before any is inserted, so a failed call leaves the registry unchanged.
func (r *Registry) RegisterProvider(p Provider) error {
	descs := p.Descriptors()
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		if existing, exists := r.entries[d.Name]; exists {
			return &CollisionError{Name: d.Name, ExistingProvider: existing.ProviderID, NewProvider: p.ID()}
		}
		if _, dup := seen[d.Name]; dup {
			return &CollisionError{Name: d.Name, ExistingProvider: p.ID(), NewProvider: p.ID()}
		}
		seen[d.Name] = struct{}{}
	}

	for _, d := range descs {
		r.insert(p.ID(), d)
	}

	r.logger.Info("=== PROVIDER REGISTERED ===",
		"provider_id", p.ID(),
		"capability_count", len(descs),
		"total_providers", len(r.byProvider),
		"total_capabilities", len(r.entries),
	)
	return nil
}

// insert stores an entry. Caller must hold the write lock.
func (r *Registry) insert(providerID string, desc Descriptor) {
	r.entries[desc.Name] = &Entry{ProviderID: providerID, Descriptor: desc}
	r.byProvider[providerID] = append(r.byProvider[providerID], desc.Name)
	r.order = append(r.order, desc.Name)
}

// Lookup returns the entry for a capability name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// ListByProvider returns the descriptors owned by a provider in registration order.
func (r *Registry) ListByProvider(providerID string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.byProvider[providerID]
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].Descriptor)
	}
	return out
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.entries[name])
	}
	return out
}

// Names returns all capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Providers returns the IDs of providers with at least one capability, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byProvider))
	for id := range r.byProvider {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns capability counts per provider.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	per := make(map[string]int, len(r.byProvider))
	for id, names := range r.byProvider {
		per[id] = len(names)
	}
	return Stats{
		TotalCapabilities: len(r.entries),
		TotalProviders:    len(r.byProvider),
		PerProvider:       per,
	}
}

// Unregister removes a single capability. Intended for test teardown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return false
	}
	delete(r.entries, name)
	r.byProvider[entry.ProviderID] = removeName(r.byProvider[entry.ProviderID], name)
	if len(r.byProvider[entry.ProviderID]) == 0 {
		delete(r.byProvider, entry.ProviderID)
	}
	r.order = removeName(r.order, name)
	return true
}

// UnregisterProvider removes every capability owned by a provider. Intended for test teardown.
func (r *Registry) UnregisterProvider(providerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.byProvider[providerID]
	for _, name := range names {
		delete(r.entries, name)
		r.order = removeName(r.order, name)
	}
	delete(r.byProvider, providerID)

	r.logger.Info("=== PROVIDER UNREGISTERED ===",
		"provider_id", providerID,
		"removed", len(names),
		"total_capabilities", len(r.entries),
	)
	return len(names)
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.entries)
	r.entries = make(map[string]*Entry)
	r.byProvider = make(map[string][]string)
	r.order = nil

	r.logger.Info("registry cleared", "capabilities_removed", count)
}

func removeName(names []string, target string) []string {
	out := names[:0]
	for _, n := range names {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// ABOUTME: Property-based tests for registry name uniqueness.
// ABOUTME: Uses gopter to register random provider sets and check the namespace.

package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRegistryUniquenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	properties.Property("no two entries share a name and duplicates always collide", prop.ForAll(
		func(groups [][]int) bool {
			registry := NewRegistry(quiet)
			for i, group := range groups {
				id := fmt.Sprintf("p%d", i)
				p := NewBase(id, quiet, func(ctx context.Context, b *Base) error {
					for _, n := range group {
						// duplicates inside one provider are rejected by Base and skipped here
						_ = b.Register(createTestDescriptor(fmt.Sprintf("tool_%d", n)), func(ctx context.Context, args Args) (any, error) {
							return nil, nil
						})
					}
					return nil
				})
				if err := p.Initialize(context.Background()); err != nil {
					return false
				}

				collides := false
				for _, d := range p.Descriptors() {
					if _, ok := registry.Lookup(d.Name); ok {
						collides = true
					}
				}
				err := registry.RegisterProvider(p)
				if collides != errors.Is(err, ErrCapabilityCollision) {
					return false
				}
			}

			seen := make(map[string]bool)
			for _, e := range registry.Entries() {
				if seen[e.Descriptor.Name] {
					return false
				}
				seen[e.Descriptor.Name] = true
			}
			return len(seen) == registry.Len()
		},
		gen.SliceOfN(4, gen.SliceOfN(3, gen.IntRange(0, 8))),
	))

	properties.TestingRun(t)
}

// ABOUTME: Provider set construction and helpers shared by the concrete providers.
// ABOUTME: NewSet wires the fixed providers in dependency order.

package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/records"
	"github.com/cappelaere/wai/internal/session"
)

// Provider identifiers.
const (
	ApplicationDataID = "application_data"
	AnalysisID        = "analysis"
	ContextID         = "context"
	ProcessorID       = "processor"
)

// Options supplies the backing stores the providers read.
type Options struct {
	Records  *records.Repository
	Sessions session.Store
	Logger   *slog.Logger
	// Now overrides the clock used for generated timestamps.
	Now func() time.Time
}

// Set is the fixed provider set.
type Set struct {
	ApplicationData *ApplicationData
	Analysis        *Analysis
	Context         *SessionContext
	Processor       *Processor
}

// NewSet constructs every provider. The record-access provider comes first
// because the analysis provider holds a reference to it.
func NewSet(opts Options) *Set {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	data := NewApplicationData(opts.Records, opts.Logger)
	return &Set{
		ApplicationData: data,
		Analysis:        NewAnalysis(data, opts.Logger, opts.Now),
		Context:         NewSessionContext(opts.Sessions, opts.Logger),
		Processor:       NewProcessor(opts.Records, opts.Logger),
	}
}

// Providers returns the set in initialization order.
func (s *Set) Providers() []capability.Provider {
	return []capability.Provider{s.ApplicationData, s.Analysis, s.Context, s.Processor}
}

type tool struct {
	name        string
	description string
	schema      string
	output      string
	handler     capability.Handler
}

func registerAll(b *capability.Base, tools []tool) error {
	for _, t := range tools {
		desc := capability.Descriptor{
			Name:        t.name,
			Description: t.description,
			InputSchema: json.RawMessage(t.schema),
		}
		if t.output != "" {
			desc.OutputSchema = json.RawMessage(t.output)
		}
		if err := b.Register(desc, t.handler); err != nil {
			return err
		}
	}
	b.Logger().Info("=== PROVIDER REGISTERED ===", "capabilities", len(tools))
	return nil
}

// recordError maps repository failures onto capability error semantics:
// malformed ids are the caller's fault, a missing record is a tool failure.
func recordError(id string, err error) error {
	switch {
	case errors.Is(err, records.ErrInvalidID):
		return fmt.Errorf("%w: %v", capability.ErrInvalidArguments, err)
	case errors.Is(err, records.ErrNotFound):
		return fmt.Errorf("application not found: %s", id)
	default:
		return fmt.Errorf("loading application %s: %w", id, err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// page returns items[offset:offset+limit], clamped to the slice bounds.
func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) || limit <= 0 {
		end = len(items)
	}
	return items[offset:end]
}

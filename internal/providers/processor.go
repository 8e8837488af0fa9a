// ABOUTME: processor provider: reports on the record tree and per-application completeness.
// ABOUTME: Answers whether the extraction pipeline produced every required document.

package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/records"
)

// Processor status values.
const (
	StatusOperational = "operational"
	StatusOffline     = "offline"
)

// Processor inspects the pipeline's output directory.
type Processor struct {
	*capability.Base
	repo *records.Repository
}

// NewProcessor creates the processing-status provider over repo.
func NewProcessor(repo *records.Repository, logger *slog.Logger) *Processor {
	p := &Processor{repo: repo}
	p.Base = capability.NewBase(ProcessorID, logger, p.setup)
	return p
}

func (p *Processor) setup(_ context.Context, b *capability.Base) error {
	if p.repo == nil {
		return errors.New("no record repository configured")
	}
	return registerAll(b, []tool{
		{
			name:        "get_processor_status",
			description: "Get the current status and health of the application processor",
			schema:      `{"type":"object","properties":{}}`,
			output:      `{"type":"object","properties":{"status":{"type":"string","enum":["operational","offline"]},"total_applications":{"type":"integer"},"scholarships":{"type":"array","items":{"type":"string"}},"output_path":{"type":"string"},"last_processed":{"type":["string","null"]},"error":{"type":"string"}},"required":["status","total_applications","scholarships","output_path"]}`,
			handler:     p.status,
		},
		{
			name:        "verify_application_processed",
			description: "Verify that an application has been fully processed with all required profiles",
			schema:      `{"type":"object","properties":{"application_id":{"type":"string","description":"Application ID to verify"}},"required":["application_id"]}`,
			output:      `{"type":"object","properties":{"application_id":{"type":"string"},"is_processed":{"type":"boolean"},"completeness":{"type":"number"},"missing_files":{"type":"array","items":{"type":"string"}},"present_files":{"type":"array","items":{"type":"string"}},"path":{"type":"string"},"total_files":{"type":"integer"},"required_files":{"type":"integer"}},"required":["application_id","is_processed","completeness","missing_files","present_files","path","total_files","required_files"]}`,
			handler:     p.verify,
		},
		{
			name:        "get_step_output",
			description: "Get metadata about a specific processing step output for an application",
			schema: `{"type":"object","properties":{
				"application_id":{"type":"string","description":"Application ID"},
				"step":{"type":"string","enum":["application","personal","academic","social","recommendation"],"description":"Processing step"}},
				"required":["application_id","step"]}`,
			output:  `{"type":"object","properties":{"application_id":{"type":"string"},"step":{"type":"string"},"exists":{"type":"boolean"},"file_path":{"type":"string"},"file_size":{"type":"integer"},"last_modified":{"type":["string","null"]}},"required":["application_id","step","exists","file_path","file_size","last_modified"]}`,
			handler: p.stepOutput,
		},
	})
}

func (p *Processor) status(ctx context.Context, _ capability.Args) (any, error) {
	if !p.repo.Exists() {
		return map[string]any{
			"status":             StatusOffline,
			"total_applications": 0,
			"scholarships":       []string{},
			"output_path":        p.repo.Root(),
			"error":              "Output directory does not exist",
		}, nil
	}

	refs, err := p.repo.Refs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning output directory: %w", err)
	}
	scholarships, err := p.repo.Scholarships(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning output directory: %w", err)
	}
	if scholarships == nil {
		scholarships = []string{}
	}

	var last time.Time
	for _, ref := range refs {
		if fi := p.repo.Stat(ref, records.FileApplication); fi.Exists && fi.Modified.After(last) {
			last = fi.Modified
		}
	}

	status := StatusOffline
	if len(refs) > 0 {
		status = StatusOperational
	}
	result := map[string]any{
		"status":             status,
		"total_applications": len(refs),
		"scholarships":       scholarships,
		"output_path":        p.repo.Root(),
		"last_processed":     nil,
	}
	if !last.IsZero() {
		result["last_processed"] = formatTime(last)
	}
	p.Logger().Info("processor status", "status", status, "total_applications", len(refs))
	return result, nil
}

// Verification reports which documents an application has.
type Verification struct {
	ApplicationID string   `json:"application_id"`
	IsProcessed   bool     `json:"is_processed"`
	Completeness  float64  `json:"completeness"`
	MissingFiles  []string `json:"missing_files"`
	PresentFiles  []string `json:"present_files"`
	Path          string   `json:"path"`
	TotalFiles    int      `json:"total_files"`
	RequiredFiles int      `json:"required_files"`
}

func (p *Processor) find(ctx context.Context, id string) (records.Ref, error) {
	ref, err := p.repo.Find(ctx, id)
	if err != nil {
		return records.Ref{}, recordError(id, err)
	}
	return ref, nil
}

func (p *Processor) verify(ctx context.Context, args capability.Args) (any, error) {
	var in applicationParams
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	ref, err := p.find(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}

	v := Verification{
		ApplicationID: ref.ID,
		MissingFiles:  []string{},
		PresentFiles:  []string{},
		Path:          ref.Path,
		RequiredFiles: len(records.RequiredFiles),
	}
	for _, name := range records.RequiredFiles {
		if p.repo.Stat(ref, name).Exists {
			v.PresentFiles = append(v.PresentFiles, name)
		} else {
			v.MissingFiles = append(v.MissingFiles, name)
		}
	}
	present := len(v.PresentFiles)
	for _, name := range records.OptionalFiles {
		if p.repo.Stat(ref, name).Exists {
			v.PresentFiles = append(v.PresentFiles, name)
		}
	}
	v.Completeness = float64(present) / float64(v.RequiredFiles) * 100
	v.IsProcessed = len(v.MissingFiles) == 0
	v.TotalFiles = len(v.PresentFiles)

	p.Logger().Info("application verified", "application_id", ref.ID, "complete", v.IsProcessed, "completeness", v.Completeness)
	return v, nil
}

type stepParams struct {
	ApplicationID string `mapstructure:"application_id"`
	Step          string `mapstructure:"step"`
}

func (p *Processor) stepOutput(ctx context.Context, args capability.Args) (any, error) {
	var in stepParams
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	file, ok := records.StepFile(in.Step)
	if !ok {
		return nil, fmt.Errorf("%w: unknown step %q", capability.ErrInvalidArguments, in.Step)
	}
	ref, err := p.find(ctx, in.ApplicationID)
	if err != nil {
		return nil, err
	}

	fi := p.repo.Stat(ref, file)
	result := map[string]any{
		"application_id": ref.ID,
		"step":           in.Step,
		"exists":         fi.Exists,
		"file_path":      filepath.Join(ref.Path, file),
		"file_size":      fi.Size,
		"last_modified":  nil,
	}
	if fi.Exists {
		result["last_modified"] = formatTime(fi.Modified)
	}
	return result, nil
}

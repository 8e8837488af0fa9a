// ABOUTME: Filesystem repository that locates, loads and caches application records.
// ABOUTME: Hidden directories are skipped and application ids cannot escape the root.

package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cappelaere/wai/internal/cache"
)

// ErrNotFound indicates no directory exists for an application id.
var ErrNotFound = errors.New("application not found")

// ErrInvalidID indicates an application id that is empty or contains path elements.
var ErrInvalidID = errors.New("invalid application id")

// Options configures a Repository.
type Options struct {
	Root      string
	CacheTTL  time.Duration
	CacheSize int
	Logger    *slog.Logger
}

// Repository reads applications from a directory tree.
type Repository struct {
	root   string
	cache  *cache.TTL[string, *Application]
	logger *slog.Logger
}

// NewRepository creates a repository rooted at opts.Root. The root does not
// have to exist yet.
func NewRepository(opts Options) *Repository {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		root:   opts.Root,
		cache:  cache.New[string, *Application](opts.CacheTTL, opts.CacheSize),
		logger: logger.With("component", "records"),
	}
}

// Root returns the repository's root directory.
func (r *Repository) Root() string { return r.root }

// Exists reports whether the root directory exists.
func (r *Repository) Exists() bool {
	info, err := os.Stat(r.root)
	return err == nil && info.IsDir()
}

// Close stops the cache sweeper.
func (r *Repository) Close() { r.cache.Close() }

// Invalidate drops a cached application.
func (r *Repository) Invalidate(id string) { r.cache.Delete(id) }

// Refs lists every application directory ordered by year, scholarship and id.
func (r *Repository) Refs(ctx context.Context) ([]Ref, error) {
	years, err := visibleDirs(r.root)
	if err != nil {
		return nil, err
	}

	var refs []Ref
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		yearPath := filepath.Join(r.root, year)
		scholarships, err := visibleDirs(yearPath)
		if err != nil {
			r.logger.Warn("skipping unreadable year directory", "path", yearPath, "error", err)
			continue
		}
		for _, scholarship := range scholarships {
			schPath := filepath.Join(yearPath, scholarship)
			ids, err := visibleDirs(schPath)
			if err != nil {
				r.logger.Warn("skipping unreadable scholarship directory", "path", schPath, "error", err)
				continue
			}
			for _, id := range ids {
				refs = append(refs, Ref{
					ID:          id,
					Scholarship: scholarship,
					Year:        year,
					Path:        filepath.Join(schPath, id),
				})
			}
		}
	}
	return refs, nil
}

// Scholarships returns the distinct scholarship names, sorted.
func (r *Repository) Scholarships(ctx context.Context) ([]string, error) {
	refs, err := r.Refs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, ref := range refs {
		if _, ok := seen[ref.Scholarship]; ok {
			continue
		}
		seen[ref.Scholarship] = struct{}{}
		names = append(names, ref.Scholarship)
	}
	sort.Strings(names)
	return names, nil
}

// Find locates the directory for an application id.
func (r *Repository) Find(ctx context.Context, id string) (Ref, error) {
	if err := validateID(id); err != nil {
		return Ref{}, err
	}
	years, err := visibleDirs(r.root)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return Ref{}, err
		}
		scholarships, err := visibleDirs(filepath.Join(r.root, year))
		if err != nil {
			continue
		}
		for _, scholarship := range scholarships {
			p := filepath.Join(r.root, year, scholarship, id)
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				return Ref{ID: id, Scholarship: scholarship, Year: year, Path: p}, nil
			}
		}
	}
	return Ref{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Load returns the application with the given id, from cache when possible.
func (r *Repository) Load(ctx context.Context, id string) (*Application, error) {
	return r.cache.GetOrLoad(id, func() (*Application, error) {
		ref, err := r.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		return r.load(ref)
	})
}

func (r *Repository) load(ref Ref) (*Application, error) {
	app := &Application{Ref: ref, Profiles: make(map[string]map[string]any)}

	for _, name := range RequiredFiles {
		var doc map[string]any
		ok, err := r.readJSON(filepath.Join(ref.Path, name), &doc)
		if err != nil || !ok || doc == nil {
			continue
		}
		app.Profiles[strings.TrimSuffix(name, ".json")] = doc
	}
	if _, err := r.readJSON(filepath.Join(ref.Path, FileFormData), &app.FormData); err != nil {
		app.FormData = nil
	}
	if _, err := r.readJSON(filepath.Join(ref.Path, FileAttachments), &app.Attachments); err != nil {
		app.Attachments = nil
	}

	if info, err := os.Stat(filepath.Join(ref.Path, FileApplication)); err == nil {
		app.SubmittedAt = info.ModTime().UTC()
	} else if info, err := os.Stat(ref.Path); err == nil {
		app.SubmittedAt = info.ModTime().UTC()
	}

	r.logger.Debug("loaded application", "application_id", ref.ID, "profiles", len(app.Profiles))
	return app, nil
}

// readJSON decodes path into out. A missing file reports ok=false with no
// error; malformed JSON is logged and returned.
func (r *Repository) readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		r.logger.Warn("failed to read record file", "path", path, "error", err)
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		r.logger.Warn("invalid JSON in record file", "path", path, "error", err)
		return false, err
	}
	return true, nil
}

// FileInfo describes one document of an application directory.
type FileInfo struct {
	Name     string
	Path     string
	Exists   bool
	Size     int64
	Modified time.Time
}

// Stat inspects a document inside an application directory.
func (r *Repository) Stat(ref Ref, name string) FileInfo {
	p := filepath.Join(ref.Path, name)
	fi := FileInfo{Name: name, Path: p}
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		fi.Exists = true
		fi.Size = info.Size()
		fi.Modified = info.ModTime().UTC()
	}
	return fi
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// visibleDirs lists the non-hidden subdirectories of dir in name order.
func visibleDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

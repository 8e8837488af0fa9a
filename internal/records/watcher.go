// ABOUTME: Filesystem watcher that evicts cached applications when their files change.
// ABOUTME: Watches the record tree and follows newly created directories.

package records

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch evicts cached applications whose directory changes until ctx is
// done. It returns once the watcher is set up; events are handled in the
// background.
func (r *Repository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addWatchTree(watcher, r.root); err != nil {
		watcher.Close()
		return err
	}
	r.logger.Info("watching records for changes", "root", r.root)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = addWatchTree(watcher, event.Name)
					}
				}
				if id := r.applicationIDFor(event.Name); id != "" {
					r.Invalidate(id)
					r.logger.Debug("record changed", "application_id", id, "op", event.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("records watcher error", "error", err)
			}
		}
	}()
	return nil
}

// applicationIDFor maps a path under the root to its application id, or ""
// when the path is above the application level.
func (r *Repository) applicationIDFor(path string) string {
	rel, err := filepath.Rel(r.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func addWatchTree(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			_ = watcher.Add(path)
		}
		return nil
	})
}

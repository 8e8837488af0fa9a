package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchInvalidatesChangedApplication(t *testing.T) {
	root := t.TempDir()
	dir := writeApplication(t, root, "2025", "Delta", "7", "Ada", "Lovelace", 3, 50)
	repo := newTestRepo(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, repo.Watch(ctx))

	app, err := repo.Load(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", app.StudentName())

	writeJSON(t, filepath.Join(dir, FileApplication), map[string]any{
		"profile": map[string]any{"first_name": "Bessie", "last_name": "Coleman"},
	})

	assert.Eventually(t, func() bool {
		app, err := repo.Load(ctx, "7")
		return err == nil && app.StudentName() == "Bessie Coleman"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatchMissingRoot(t *testing.T) {
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, repo.Watch(context.Background()))
}

// ABOUTME: Shared fixtures that build record trees in temporary directories.
// ABOUTME: Used by the repository and watcher tests.

package records

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeApplication creates a complete application directory.
func writeApplication(t *testing.T, root, year, scholarship, id, first, last string, gpa, pct float64) string {
	t.Helper()
	dir := filepath.Join(root, year, scholarship, id)
	writeJSON(t, filepath.Join(dir, FileApplication), map[string]any{
		"profile": map[string]any{
			"first_name":            first,
			"last_name":             last,
			"email":                 first + "@example.com",
			"wai_membership_number": "WAI-" + id,
			"school_information":    map[string]any{"school_name": "Embry-Riddle"},
		},
		"academic_profile": map[string]any{
			"profile_features": map[string]any{"academic_performance": map[string]any{"gpa": gpa}},
			"scores":           map[string]any{"overall_score": 82},
		},
		"total_score_summary": map[string]any{"total_score": pct * 2, "percentage": pct},
		"summary":             "Aspiring pilot",
	})
	for _, f := range RequiredFiles[1:] {
		writeJSON(t, filepath.Join(dir, f), map[string]any{"scores": map[string]any{"overall_score": 70}})
	}
	return dir
}

// ABOUTME: Shared fixtures for provider tests: record trees, stores and call helpers.
// ABOUTME: Records are written to temporary directories with controlled modification times.

package providers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/records"
	"github.com/cappelaere/wai/internal/session"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type appFixture struct {
	year, scholarship, id string
	first, last           string
	school                string
	gpa                   float64
	academic, essay       float64
	social, rec           float64
	motivation, clarity   float64
	pct                   float64
	leadership            bool
	submitted             time.Time
	noProfile             bool
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

func writeFixture(t *testing.T, root string, f appFixture) string {
	t.Helper()
	dir := filepath.Join(root, f.year, f.scholarship, f.id)
	profile := map[string]any{
		"academic_profile": map[string]any{
			"profile_features": map[string]any{"academic_performance": map[string]any{"gpa": f.gpa}},
			"scores":           map[string]any{"overall_score": f.academic},
		},
		"personal_profile": map[string]any{
			"scores": map[string]any{
				"overall_score":       f.essay,
				"motivation_score":    f.motivation,
				"goals_clarity_score": f.clarity,
			},
			"profile_features": map[string]any{"leadership_roles": f.leadership},
		},
		"social_profile":         map[string]any{"scores": map[string]any{"overall_score": f.social}},
		"recommendation_profile": map[string]any{"scores": map[string]any{"overall_score": f.rec}},
		"total_score_summary":    map[string]any{"total_score": f.pct * 2, "percentage": f.pct},
		"summary":                "Applicant " + f.id,
	}
	if !f.noProfile {
		profile["profile"] = map[string]any{
			"first_name":            f.first,
			"last_name":             f.last,
			"email":                 f.first + "@example.com",
			"wai_membership_number": "WAI-" + f.id,
			"school_information":    map[string]any{"school_name": f.school},
		}
	}
	appPath := filepath.Join(dir, records.FileApplication)
	writeJSON(t, appPath, profile)
	for _, name := range records.RequiredFiles[1:] {
		writeJSON(t, filepath.Join(dir, name), map[string]any{"scores": map[string]any{"overall_score": 70}})
	}
	submitted := f.submitted
	if submitted.IsZero() {
		submitted = fixedNow.Add(-24 * time.Hour)
	}
	if err := os.Chtimes(appPath, submitted, submitted); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return dir
}

// standardFixtures is a small tree with two scholarships and varied scores.
func standardFixtures() []appFixture {
	return []appFixture{
		{
			year: "2026", scholarship: "Delta_Airlines_Scholarship", id: "75179",
			first: "Amelia", last: "Earhart", school: "Purdue",
			gpa: 3.9, academic: 92, essay: 88, social: 80, rec: 90, motivation: 95, clarity: 90,
			pct: 91, leadership: true, submitted: fixedNow.Add(-72 * time.Hour),
		},
		{
			year: "2026", scholarship: "Delta_Airlines_Scholarship", id: "75180",
			first: "Bessie", last: "Coleman", school: "",
			gpa: 3.1, academic: 55, essay: 60, social: 50, rec: 70, motivation: 70, clarity: 60,
			pct: 62, submitted: fixedNow.Add(-48 * time.Hour),
		},
		{
			year: "2025", scholarship: "Boeing_Pilot_Scholarship", id: "80001",
			first: "Jacqueline", last: "Cochran", school: "MIT",
			gpa: 3.5, academic: 78, essay: 76, social: 70, rec: 80, motivation: 80, clarity: 80,
			pct: 77, submitted: fixedNow.Add(-24 * time.Hour),
		},
	}
}

type testEnv struct {
	root     string
	repo     *records.Repository
	sessions *session.Memory
	set      *Set
}

func newTestEnv(t *testing.T, fixtures ...appFixture) *testEnv {
	t.Helper()
	root := filepath.Join(t.TempDir(), "output")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, f := range fixtures {
		writeFixture(t, root, f)
	}
	repo := records.NewRepository(records.Options{Root: root, Logger: testLogger()})
	t.Cleanup(repo.Close)
	sessions := session.NewMemory(session.Options{Logger: testLogger()})
	set := NewSet(Options{
		Records:  repo,
		Sessions: sessions,
		Logger:   testLogger(),
		Now:      func() time.Time { return fixedNow },
	})
	return &testEnv{root: root, repo: repo, sessions: sessions, set: set}
}

// call invokes a capability and decodes its result into a generic map.
func call(t *testing.T, p capability.Provider, name, args string) map[string]any {
	t.Helper()
	raw, err := p.Handle(context.Background(), name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s(%s): %v", name, args, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s result: %v", name, err)
	}
	return out
}

// callErr invokes a capability that is expected to fail and returns the failure kind.
func callErr(t *testing.T, p capability.Provider, name, args string) capability.ErrorKind {
	t.Helper()
	_, err := p.Handle(context.Background(), name, json.RawMessage(args))
	if err == nil {
		t.Fatalf("%s(%s): expected error", name, args)
	}
	return capability.KindOf(err)
}

func ids(items []any, key string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it.(map[string]any)[key].(string)
	}
	return out
}

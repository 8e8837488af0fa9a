package providers

import (
	"context"
	"testing"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/session"
)

func newSession(t *testing.T, env *testEnv) string {
	t.Helper()
	s, err := env.sessions.Create(context.Background(), "tester")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s.ID
}

func TestCurrentApplicationRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := newSession(t, env)
	p := env.set.Context

	got := call(t, p, "get_current_application", `{"session_id":"`+id+`"}`)
	if got["application_id"] != nil {
		t.Errorf("fresh session application_id = %v, want null", got["application_id"])
	}

	set := call(t, p, "set_current_application", `{"session_id":"`+id+`","application_id":"75179"}`)
	if set["updated"] != true || set["application_id"] != "75179" {
		t.Errorf("set result = %v", set)
	}

	got = call(t, p, "get_current_application", `{"session_id":"`+id+`"}`)
	if got["application_id"] != "75179" {
		t.Errorf("application_id = %v, want 75179", got["application_id"])
	}

	s, err := env.sessions.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cur := s.CurrentApplication(); cur != "75179" {
		t.Errorf("stored current application = %q", cur)
	}
}

func TestGetCurrentApplicationIgnoresNonStrings(t *testing.T) {
	env := newTestEnv(t)
	id := newSession(t, env)
	if err := env.sessions.SetContext(context.Background(), id, session.KeyCurrentApplication, 42); err != nil {
		t.Fatalf("SetContext: %v", err)
	}
	got := call(t, env.set.Context, "get_current_application", `{"session_id":"`+id+`"}`)
	if got["application_id"] != nil {
		t.Errorf("application_id = %v, want null", got["application_id"])
	}
}

func TestGetContext(t *testing.T) {
	env := newTestEnv(t)
	id := newSession(t, env)
	p := env.set.Context

	call(t, p, "update_context", `{"session_id":"`+id+`","context_data":{"user":{"role":"reviewer"},"note":"x"}}`)

	t.Run("conversation returns everything", func(t *testing.T) {
		got := call(t, p, "get_context", `{"session_id":"`+id+`"}`)
		if got["context_type"] != "conversation" {
			t.Errorf("context_type = %v", got["context_type"])
		}
		data := got["data"].(map[string]any)
		for _, key := range []string{session.KeyCurrentApplication, session.KeyPreferences, "user", "note"} {
			if _, ok := data[key]; !ok {
				t.Errorf("data missing %q: %v", key, data)
			}
		}
		if got["created_at"] == "" || got["updated_at"] == "" {
			t.Errorf("timestamps missing: %v", got)
		}
	})

	t.Run("typed context returns the nested object", func(t *testing.T) {
		got := call(t, p, "get_context", `{"session_id":"`+id+`","context_type":"user"}`)
		data := got["data"].(map[string]any)
		if data["role"] != "reviewer" || len(data) != 1 {
			t.Errorf("data = %v", data)
		}
	})

	t.Run("absent typed context is empty", func(t *testing.T) {
		got := call(t, p, "get_context", `{"session_id":"`+id+`","context_type":"application"}`)
		if data := got["data"].(map[string]any); len(data) != 0 {
			t.Errorf("data = %v, want empty", data)
		}
	})
}

func TestUpdateContextMergeAndReplace(t *testing.T) {
	env := newTestEnv(t)
	id := newSession(t, env)
	p := env.set.Context
	ctx := context.Background()

	call(t, p, "update_context", `{"session_id":"`+id+`","context_data":{"a":1}}`)
	got := call(t, p, "update_context", `{"session_id":"`+id+`","context_data":{"b":2},"merge":true}`)
	if got["updated"] != true {
		t.Errorf("updated = %v", got["updated"])
	}
	s, err := env.sessions.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Context["a"] != float64(1) || s.Context["b"] != float64(2) {
		t.Errorf("merged context = %v", s.Context)
	}

	call(t, p, "update_context", `{"session_id":"`+id+`","context_data":{"c":3},"merge":false}`)
	s, err = env.sessions.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Context["a"]; ok {
		t.Errorf("replace kept old key: %v", s.Context)
	}
	if s.Context["c"] != float64(3) {
		t.Errorf("replaced context = %v", s.Context)
	}
}

func TestContextUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	tests := map[string]string{
		"get_context":             `{"session_id":"nope"}`,
		"update_context":          `{"session_id":"nope","context_data":{"a":1}}`,
		"get_current_application": `{"session_id":"nope"}`,
		"set_current_application": `{"session_id":"nope","application_id":"75179"}`,
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if kind := callErr(t, env.set.Context, name, args); kind != capability.KindInvalidArguments {
				t.Errorf("kind = %s, want %s", kind, capability.KindInvalidArguments)
			}
		})
	}
}

func TestContextRequiresStore(t *testing.T) {
	p := NewSessionContext(nil, testLogger())
	if kind := callErr(t, p, "get_context", `{"session_id":"x"}`); kind != capability.KindProviderInternal {
		t.Errorf("kind = %s, want %s", kind, capability.KindProviderInternal)
	}
}

// ABOUTME: Tests for the MCP server: tool publication, dispatch routing and transports.
// ABOUTME: Drives the protocol server directly and through the HTTP and stdio transports.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/dispatch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T) *dispatch.Manager {
	t.Helper()
	p := capability.NewBase("application_data", testLogger(), func(_ context.Context, b *capability.Base) error {
		if err := b.Register(capability.Descriptor{
			Name:        "get_application",
			Description: "Retrieve a scholarship application by ID",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"application_id":{"type":"string"}},"required":["application_id"]}`),
		}, func(_ context.Context, args capability.Args) (any, error) {
			return map[string]any{"application_id": args.String("application_id"), "gpa": 3.9}, nil
		}); err != nil {
			return err
		}
		return b.Register(capability.Descriptor{Name: "broken", Description: "Always fails"},
			func(context.Context, capability.Args) (any, error) { return nil, errors.New("disk on fire") })
	})
	m := dispatch.New(dispatch.Config{Providers: []capability.Provider{p}, Logger: testLogger()})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(Config{Dispatcher: newTestDispatcher(t), Logger: testLogger(), Version: "test"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

// rpc sends one JSON-RPC message to the protocol server and decodes the reply.
func rpc(t *testing.T, s *Server, method string, id int, params any) map[string]any {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		msg["params"] = params
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	reply := s.MCPServer().HandleMessage(context.Background(), raw)
	out, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return decoded
}

var initializeParams = map[string]any{
	"protocolVersion": "2025-03-26",
	"capabilities":    map[string]any{},
	"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
}

func TestNewServerRequiresDispatcher(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatal("expected error without dispatcher")
	}
}

func TestInitializeAdvertisesServer(t *testing.T) {
	s := newTestServer(t)
	resp := rpc(t, s, "initialize", 1, initializeParams)

	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("initialize returned %v", resp)
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != DefaultName || info["version"] != "test" {
		t.Errorf("serverInfo = %v", info)
	}
	if _, ok := result["capabilities"].(map[string]any)["tools"]; !ok {
		t.Errorf("tools capability not advertised: %v", result["capabilities"])
	}
}

func TestToolsListPublishesEveryCapability(t *testing.T) {
	s := newTestServer(t)
	if s.ToolCount() != 2 {
		t.Errorf("ToolCount = %d, want 2", s.ToolCount())
	}
	rpc(t, s, "initialize", 1, initializeParams)
	resp := rpc(t, s, "tools/list", 2, nil)

	tools := resp["result"].(map[string]any)["tools"].([]any)
	byName := map[string]map[string]any{}
	for _, tl := range tools {
		m := tl.(map[string]any)
		byName[m["name"].(string)] = m
	}
	get, ok := byName["get_application"]
	if !ok {
		t.Fatalf("get_application missing from %v", byName)
	}
	schema := get["inputSchema"].(map[string]any)
	if req := schema["required"].([]any); len(req) != 1 || req[0] != "application_id" {
		t.Errorf("schema not passed through: %v", schema)
	}
	if _, ok := byName["broken"]; !ok {
		t.Error("broken missing from tools/list")
	}
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) (string, bool) {
	t.Helper()
	resp := rpc(t, s, "tools/call", 3, map[string]any{"name": name, "arguments": args})
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("tools/call %s returned %v", name, resp)
	}
	content := result["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content = %v", content)
	}
	isError, _ := result["isError"].(bool)
	return content[0].(map[string]any)["text"].(string), isError
}

func TestToolsCallSuccess(t *testing.T) {
	s := newTestServer(t)
	text, isError := callTool(t, s, "get_application", map[string]any{"application_id": "75179"})
	if isError {
		t.Fatalf("unexpected error result: %s", text)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if data["application_id"] != "75179" || data["gpa"] != 3.9 {
		t.Errorf("data = %v", data)
	}
}

func TestToolsCallFailuresAreToolErrors(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		tool string
		args map[string]any
		kind capability.ErrorKind
	}{
		{"provider failure", "broken", map[string]any{}, capability.KindProviderInternal},
		{"schema violation", "get_application", map[string]any{"application_id": 7}, capability.KindInvalidArguments},
		{"missing argument", "get_application", map[string]any{}, capability.KindInvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isError := callTool(t, s, tt.tool, tt.args)
			if !isError {
				t.Fatalf("expected error result, got %s", text)
			}
			var failure map[string]any
			if err := json.Unmarshal([]byte(text), &failure); err != nil {
				t.Fatalf("failure is not JSON: %v", err)
			}
			if failure["success"] != false || failure["error_kind"] != string(tt.kind) || failure["tool_name"] != tt.tool {
				t.Errorf("failure = %v", failure)
			}
		})
	}
}

func TestStreamableHTTPHandler(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	post := func(sessionID string, body any) *http.Response {
		t.Helper()
		raw, _ := json.Marshal(body)
		req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(raw))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		if sessionID != "" {
			req.Header.Set("Mcp-Session-Id", sessionID)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		return resp
	}

	resp := post("", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": initializeParams})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}
	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not return an Mcp-Session-Id")
	}

	resp = post(sessionID, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "tools/list"})
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tools/list status = %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "get_application") {
		t.Errorf("tools/list body = %s", body)
	}
}

func TestServeStdio(t *testing.T) {
	s := newTestServer(t)
	msg, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize", "params": initializeParams})
	in := strings.NewReader(string(msg) + "\n")
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.ServeStdio(ctx, in, &out); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}
	if !strings.Contains(out.String(), `"serverInfo"`) {
		t.Errorf("stdio output = %q", out.String())
	}
}

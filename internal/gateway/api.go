// ABOUTME: HTTP API handlers for sessions, chat, tools and health under /api/v1.
// ABOUTME: Loop failures map to HTTP statuses; tool failures never surface here.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/cappelaere/wai/internal/conversation"
	"github.com/cappelaere/wai/internal/model"
	"github.com/cappelaere/wai/internal/session"
)

// MaxQueryLength is the longest accepted chat query, in characters.
const MaxQueryLength = 10000

// Error kinds reported for request problems that never reach the loop.
const (
	KindInvalidRequest = "invalid_request"
	KindValidation     = "validation_error"
	KindInternal       = "internal_error"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// CreateSessionRequest is the JSON request body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	UserID string `json:"user_id"`
}

// SessionResponse is the JSON response for session creation.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

// SessionDetailResponse is the JSON response for GET /api/v1/sessions/{id}.
type SessionDetailResponse struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	Context      map[string]any `json:"context"`
	History      []model.Turn   `json:"history"`
	CreatedAt    string         `json:"created_at"`
	LastAccessed string         `json:"last_accessed"`
	ExpiresAt    string         `json:"expires_at"`
}

// SessionSummary is one entry of GET /api/v1/sessions?user_id=.
type SessionSummary struct {
	SessionID    string `json:"session_id"`
	CreatedAt    string `json:"created_at"`
	LastAccessed string `json:"last_accessed"`
	Turns        int    `json:"turns"`
}

// ContextRequest is the JSON request body for PUT /api/v1/sessions/{id}.
type ContextRequest struct {
	SessionID string         `json:"session_id"`
	Context   map[string]any `json:"context"`
}

// ChatRequest is the JSON request body for POST /api/v1/chat.
type ChatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the JSON response for POST /api/v1/chat.
type ChatResponse struct {
	Response     string                  `json:"response"`
	ResponseHTML string                  `json:"response_html,omitempty"`
	SessionID    string                  `json:"session_id"`
	Timestamp    string                  `json:"timestamp"`
	Iterations   int                     `json:"iterations"`
	ToolCalls    []conversation.ToolCall `json:"tool_calls"`
}

// ToolInfo describes one capability for GET /api/v1/tools.
type ToolInfo struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Provider     string          `json:"provider"`
}

// HealthResponse is the JSON response for GET /api/v1/health.
type HealthResponse struct {
	Status          string `json:"status"`
	CapabilityCount int    `json:"capability_count"`
	ModelReady      bool   `json:"model_ready"`
	SessionCount    int    `json:"session_count"`
	Timestamp       string `json:"timestamp"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// api holds the handlers' shared dependencies.
type api struct {
	app            *AppContext
	logger         *slog.Logger
	sessionTimeout time.Duration
	now            func() time.Time
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// handleCreateSession handles POST /api/v1/sessions.
func (a *api) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error(), KindInvalidRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		a.sendJSONError(w, http.StatusUnprocessableEntity, "user_id is required", KindValidation)
		return
	}

	s, err := a.app.Sessions.Create(r.Context(), req.UserID)
	if err != nil {
		a.logger.Error("failed to create session", "error", err, "user_id", req.UserID)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to create session", KindInternal)
		return
	}
	a.logger.Info("session created", "session_id", s.ID, "user_id", req.UserID)

	a.writeJSON(w, http.StatusCreated, SessionResponse{
		SessionID: s.ID,
		CreatedAt: formatTime(s.CreatedAt),
		ExpiresAt: formatTime(s.CreatedAt.Add(a.sessionTimeout)),
	})
}

// handleListSessions handles GET /api/v1/sessions?user_id=.
func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		a.sendJSONError(w, http.StatusUnprocessableEntity, "user_id query parameter is required", KindValidation)
		return
	}
	sessions, err := a.app.Sessions.ListByUser(r.Context(), userID)
	if err != nil {
		a.logger.Error("failed to list sessions", "error", err, "user_id", userID)
		a.sendJSONError(w, http.StatusInternalServerError, "failed to list sessions", KindInternal)
		return
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionSummary{
			SessionID:    s.ID,
			CreatedAt:    formatTime(s.CreatedAt),
			LastAccessed: formatTime(s.LastAccessed),
			Turns:        len(s.History),
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"sessions": out, "count": len(out)})
}

// handleGetSession handles GET /api/v1/sessions/{id}.
func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := a.app.Sessions.Load(r.Context(), id)
	if err != nil {
		a.sendLoopError(w, id, err)
		return
	}
	history := s.History
	if history == nil {
		history = []model.Turn{}
	}
	ctx := s.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	a.writeJSON(w, http.StatusOK, SessionDetailResponse{
		SessionID:    s.ID,
		UserID:       s.UserID,
		Context:      ctx,
		History:      history,
		CreatedAt:    formatTime(s.CreatedAt),
		LastAccessed: formatTime(s.LastAccessed),
		ExpiresAt:    formatTime(s.ExpiresAt(a.sessionTimeout)),
	})
}

// handleUpdateContext handles PUT /api/v1/sessions/{id}. Keys in the body are
// merged into the existing context.
func (a *api) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ContextRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error(), KindInvalidRequest)
		return
	}
	if req.SessionID != id {
		a.sendJSONError(w, http.StatusBadRequest, "session ID in path does not match request body", KindInvalidRequest)
		return
	}

	if err := a.app.Sessions.UpdateContext(r.Context(), id, req.Context, true); err != nil {
		a.sendLoopError(w, id, err)
		return
	}
	a.logger.Info("session context updated", "session_id", id, "keys", len(req.Context))
	a.writeJSON(w, http.StatusOK, map[string]any{"updated": true, "session_id": id})
}

// handleDeleteSession handles DELETE /api/v1/sessions/{id}.
func (a *api) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.app.Sessions.Delete(r.Context(), id); err != nil {
		a.sendLoopError(w, id, err)
		return
	}
	a.logger.Info("session deleted", "session_id", id)
	a.writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "session_id": id})
}

// handleChat handles POST /api/v1/chat. With ?format=html the answer is also
// rendered from markdown.
func (a *api) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, err.Error(), KindInvalidRequest)
		return
	}
	query := strings.TrimSpace(req.Query)
	switch {
	case query == "":
		a.sendJSONError(w, http.StatusUnprocessableEntity, "query is required", KindValidation)
		return
	case utf8.RuneCountInString(query) > MaxQueryLength:
		a.sendJSONError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("query must be at most %d characters", MaxQueryLength), KindValidation)
		return
	case req.SessionID == "":
		a.sendJSONError(w, http.StatusUnprocessableEntity, "session_id is required", KindValidation)
		return
	}

	result, err := a.app.Engine.ProcessQuery(r.Context(), query, req.SessionID)
	if err != nil {
		a.sendLoopError(w, req.SessionID, err)
		return
	}

	toolCalls := result.ToolCalls
	if toolCalls == nil {
		toolCalls = []conversation.ToolCall{}
	}
	resp := ChatResponse{
		Response:   result.Answer,
		SessionID:  result.SessionID,
		Timestamp:  formatTime(a.now()),
		Iterations: result.Iterations,
		ToolCalls:  toolCalls,
	}
	if r.URL.Query().Get("format") == "html" {
		html, err := renderMarkdown(result.Answer)
		if err != nil {
			a.logger.Warn("failed to render answer as html", "error", err)
		} else {
			resp.ResponseHTML = html
		}
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// handleTools handles GET /api/v1/tools.
func (a *api) handleTools(w http.ResponseWriter, r *http.Request) {
	entries := a.app.Dispatcher.Entries()
	tools := make([]ToolInfo, 0, len(entries))
	for _, e := range entries {
		tools = append(tools, ToolInfo{
			Name:         e.Descriptor.Name,
			Description:  e.Descriptor.Description,
			InputSchema:  e.Descriptor.Schema(),
			OutputSchema: e.Descriptor.OutputSchema,
			Provider:     e.ProviderID,
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"tools": tools,
		"count": len(tools),
		"stats": a.app.Dispatcher.Stats(),
	})
}

// handleAPIHealth handles GET /api/v1/health. The service is degraded when
// the model is unreachable or no capability is registered.
func (a *api) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:          "healthy",
		CapabilityCount: a.app.Registry.Len(),
		ModelReady:      a.app.Model != nil && a.app.Model.Ready(),
		Timestamp:       formatTime(a.now()),
	}
	count, err := a.app.Sessions.Count(r.Context())
	if err != nil {
		a.logger.Warn("failed to count sessions", "error", err)
		resp.Status = "degraded"
	}
	resp.SessionCount = count
	if !resp.ModelReady || resp.CapabilityCount == 0 {
		resp.Status = "degraded"
	}
	a.writeJSON(w, http.StatusOK, resp)
}

// handleHealth returns 200 OK if the server is alive.
func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the capability set is initialized.
func (a *api) handleReady(w http.ResponseWriter, r *http.Request) {
	n := a.app.Registry.Len()
	if !a.app.Dispatcher.Ready() || n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("capabilities not initialized"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d capabilities)", n)
}

// handleEvents handles GET /api/v1/sessions/{id}/events, streaming the
// progress of queries on the session as server-sent events.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a.app.Broadcaster == nil {
		a.sendJSONError(w, http.StatusNotFound, "event streaming is disabled", KindInvalidRequest)
		return
	}
	if _, err := a.app.Sessions.Load(r.Context(), id); err != nil {
		a.sendLoopError(w, id, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.logger.Error("streaming not supported")
		a.sendJSONError(w, http.StatusInternalServerError, "streaming not supported", KindInternal)
		return
	}

	events, _ := a.app.Broadcaster.Subscribe(r.Context(), id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	a.writeSSEEvent(w, "subscribed", map[string]string{"session_id": id})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (a *api) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		a.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// classifyError maps a loop or session failure to an HTTP status and kind.
func classifyError(err error) (int, string) {
	kind := conversation.Outcome(err)
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		return http.StatusNotFound, kind
	case kind == "model_"+string(model.TransportRateLimit):
		return http.StatusTooManyRequests, kind
	case strings.HasPrefix(kind, "model_"):
		return http.StatusBadGateway, kind
	case errors.Is(err, conversation.ErrIterationBoundExceeded):
		return http.StatusInternalServerError, kind
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kind
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, kind
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func errorMessage(status int, sessionID string) string {
	switch status {
	case http.StatusNotFound:
		return "Session not found or expired: " + sessionID
	case http.StatusTooManyRequests:
		return "The language model service is rate limiting requests, try again shortly"
	case http.StatusBadGateway:
		return "The language model service is unavailable"
	case http.StatusGatewayTimeout, http.StatusServiceUnavailable:
		return "The request was cancelled before an answer was produced"
	default:
		return "Failed to process query"
	}
}

// sendLoopError reports a session or conversation failure.
func (a *api) sendLoopError(w http.ResponseWriter, sessionID string, err error) {
	status, kind := classifyError(err)
	msg := errorMessage(status, sessionID)
	if errors.Is(err, conversation.ErrIterationBoundExceeded) {
		msg = "The question required more tool calls than allowed; try a narrower question"
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err, "session_id", sessionID, "kind", kind)
	} else {
		a.logger.Warn("request failed", "error", err, "session_id", sessionID, "kind", kind)
	}
	a.sendJSONError(w, status, msg, kind)
}

// sendJSONError writes a JSON error response.
func (a *api) sendJSONError(w http.ResponseWriter, status int, message, kind string) {
	a.writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

// decodeJSON parses a request body, rejecting unknown trailing content.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	if dec.More() {
		return errors.New("invalid JSON body: unexpected trailing data")
	}
	return nil
}

func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

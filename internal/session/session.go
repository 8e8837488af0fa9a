// ABOUTME: Session model, Store contract and helpers shared by all store implementations.
// ABOUTME: Sessions expire after a period of inactivity and keep a bounded turn history.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cappelaere/wai/internal/model"
)

// Context keys with a fixed meaning.
const (
	// KeyCurrentApplication holds the id of the application the user is focused on.
	KeyCurrentApplication = "current_application_id"
	KeyPreferences        = "preferences"
)

const (
	DefaultTimeout    = time.Hour
	DefaultMaxHistory = 100
)

// ErrNotFound is returned when no session exists with the given id.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session existed but timed out. The session
// has been removed by the time the caller sees this error.
var ErrExpired = errors.New("session expired")

// IsNotFoundOrExpired reports whether err means the session is unusable.
func IsNotFoundOrExpired(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}

// Session is one user's conversation state.
type Session struct {
	ID           string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	Context      map[string]any `json:"context"`
	History      []model.Turn   `json:"history"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
}

// ExpiresAt is the instant the session times out if it is not touched again.
func (s *Session) ExpiresAt(timeout time.Duration) time.Time {
	return s.LastAccessed.Add(timeout)
}

// Expired reports whether the session has timed out at now.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastAccessed) > timeout
}

// CurrentApplication returns the focused application id, or "" when none is set.
func (s *Session) CurrentApplication() string {
	if s == nil || s.Context == nil {
		return ""
	}
	id, _ := s.Context[KeyCurrentApplication].(string)
	return id
}

// Recent returns at most the last n turns, dropping leading turns until the
// window starts with a user turn.
func (s *Session) Recent(n int) []model.Turn {
	h := s.History
	if n >= 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	for len(h) > 0 && h[0].Role != model.RoleUser {
		h = h[1:]
	}
	out := make([]model.Turn, len(h))
	copy(out, h)
	return out
}

// Clone returns a deep copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Context = cloneMap(s.Context)
	c.History = make([]model.Turn, len(s.History))
	for i, t := range s.History {
		parts := make([]model.Part, len(t.Parts))
		copy(parts, t.Parts)
		c.History[i] = model.Turn{Role: t.Role, Parts: parts}
	}
	return &c
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, userID string) (*Session, error)
	Load(ctx context.Context, id string) (*Session, error)
	// AppendTurns adds turns atomically and trims history to the store's limit.
	AppendTurns(ctx context.Context, id string, turns ...model.Turn) error
	GetContext(ctx context.Context, id, key string) (any, bool, error)
	SetContext(ctx context.Context, id, key string, value any) error
	// UpdateContext merges data into the context, or replaces it when merge is false.
	UpdateContext(ctx context.Context, id string, data map[string]any, merge bool) error
	Delete(ctx context.Context, id string) error
	// CleanupExpired removes every timed-out session and returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	Close() error
}

// Options configures a store.
type Options struct {
	Timeout    time.Duration
	MaxHistory int
	Logger     *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxHistory <= 0 {
		o.MaxHistory = DefaultMaxHistory
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func newContext() map[string]any {
	return map[string]any{
		KeyCurrentApplication: nil,
		KeyPreferences:        map[string]any{},
	}
}

// normalize round-trips v through JSON so stored values have the same shape
// regardless of the backing store.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("context value is not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// applyUpdate merges or replaces ctx with data. Both maps must already be normalized.
func applyUpdate(ctx, data map[string]any, merge bool) map[string]any {
	if !merge {
		return cloneMap(data)
	}
	out := cloneMap(ctx)
	if out == nil {
		out = make(map[string]any, len(data))
	}
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func trimHistory(h []model.Turn, max int) []model.Turn {
	if max > 0 && len(h) > max {
		return h[len(h)-max:]
	}
	return h
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

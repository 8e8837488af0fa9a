// ABOUTME: In-memory Store implementation guarded by a mutex.
// ABOUTME: Values are deep-copied in and out so callers never share state with the store.

package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/cappelaere/wai/internal/model"
)

// Memory keeps sessions in process memory.
type Memory struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts Options) *Memory {
	opts = opts.withDefaults()
	return &Memory{
		opts:     opts,
		logger:   opts.Logger.With("component", "session", "store", "memory"),
		sessions: make(map[string]*Session),
	}
}

func (m *Memory) Create(_ context.Context, userID string) (*Session, error) {
	now := m.opts.Now()
	s := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Context:      newContext(),
		History:      []model.Turn{},
		CreatedAt:    now,
		LastAccessed: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", s.ID, "user_id", userID)
	return s.Clone(), nil
}

// live returns the stored session after refreshing it. Callers hold m.mu.
func (m *Memory) live(id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.opts.Now()
	if s.Expired(now, m.opts.Timeout) {
		delete(m.sessions, id)
		m.logger.Info("session expired", "session_id", id)
		return nil, ErrExpired
	}
	s.LastAccessed = now
	return s, nil
}

func (m *Memory) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (m *Memory) AppendTurns(_ context.Context, id string, turns ...model.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return err
	}
	h := make([]model.Turn, 0, len(s.History)+len(turns))
	h = append(h, s.History...)
	h = append(h, turns...)
	s.History = trimHistory(h, m.opts.MaxHistory)
	return nil
}

func (m *Memory) GetContext(_ context.Context, id, key string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return nil, false, err
	}
	v, ok := s.Context[key]
	return cloneValue(v), ok, nil
}

func (m *Memory) SetContext(_ context.Context, id, key string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return err
	}
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = v
	return nil
}

func (m *Memory) UpdateContext(_ context.Context, id string, data map[string]any, merge bool) error {
	norm, err := normalizeMap(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.live(id)
	if err != nil {
		return err
	}
	s.Context = applyUpdate(s.Context, norm, merge)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.logger.Info("session deleted", "session_id", id)
	return nil
}

func (m *Memory) CleanupExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.opts.Now()
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now, m.opts.Timeout) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.opts.Now()
	n := 0
	for _, s := range m.sessions {
		if !s.Expired(now, m.opts.Timeout) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.opts.Now()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == userID && !s.Expired(now, m.opts.Timeout) {
			out = append(out, s.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

func sortByCreated(ss []*Session) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].ID < ss[j].ID
		}
		return ss[i].CreatedAt.Before(ss[j].CreatedAt)
	})
}

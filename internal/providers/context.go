// ABOUTME: context provider: reads and writes the per-session context map through the SessionStore.
// ABOUTME: Tracks the currently focused application under the current_application_id key.

package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cappelaere/wai/internal/capability"
	"github.com/cappelaere/wai/internal/session"
)

// SessionContext exposes session context to the model.
type SessionContext struct {
	*capability.Base
	store session.Store
}

// NewSessionContext creates the context provider over store.
func NewSessionContext(store session.Store, logger *slog.Logger) *SessionContext {
	p := &SessionContext{store: store}
	p.Base = capability.NewBase(ContextID, logger, p.setup)
	return p
}

func (p *SessionContext) setup(_ context.Context, b *capability.Base) error {
	if p.store == nil {
		return errors.New("no session store configured")
	}
	return registerAll(b, []tool{
		{
			name:        "get_context",
			description: "Retrieve the current context for a conversation or session",
			schema: `{"type":"object","properties":{
				"session_id":{"type":"string","description":"Session identifier"},
				"context_type":{"type":"string","enum":["conversation","application","user"],"default":"conversation","description":"Type of context to retrieve"}},
				"required":["session_id"]}`,
			output:  `{"type":"object","properties":{"session_id":{"type":"string"},"context_type":{"type":"string"},"data":{"type":"object"},"created_at":{"type":"string"},"updated_at":{"type":"string"}},"required":["session_id","context_type","data","created_at","updated_at"]}`,
			handler: p.getContext,
		},
		{
			name:        "update_context",
			description: "Update or create context for a conversation or session",
			schema: `{"type":"object","properties":{
				"session_id":{"type":"string","description":"Session identifier"},
				"context_data":{"type":"object","additionalProperties":true,"description":"Context data to store"},
				"merge":{"type":"boolean","default":true,"description":"Whether to merge with existing context or replace it"}},
				"required":["session_id","context_data"]}`,
			output:  `{"type":"object","properties":{"session_id":{"type":"string"},"updated":{"type":"boolean"},"updated_at":{"type":"string"}},"required":["session_id","updated","updated_at"]}`,
			handler: p.updateContext,
		},
		{
			name:        "get_current_application",
			description: "Get the currently focused application for a session",
			schema:      `{"type":"object","properties":{"session_id":{"type":"string","description":"Session identifier"}},"required":["session_id"]}`,
			output:      `{"type":"object","properties":{"session_id":{"type":"string"},"application_id":{"type":["string","null"]}},"required":["session_id","application_id"]}`,
			handler:     p.getCurrentApplication,
		},
		{
			name:        "set_current_application",
			description: "Set the currently focused application for a session",
			schema: `{"type":"object","properties":{
				"session_id":{"type":"string","description":"Session identifier"},
				"application_id":{"type":"string","description":"Application ID to focus on"}},
				"required":["session_id","application_id"]}`,
			output:  `{"type":"object","properties":{"session_id":{"type":"string"},"application_id":{"type":"string"},"updated":{"type":"boolean"}},"required":["session_id","application_id","updated"]}`,
			handler: p.setCurrentApplication,
		},
	})
}

// sessionError turns an unusable session into an invalid-arguments failure
// so the model can correct the id it passed.
func sessionError(id string, err error) error {
	if session.IsNotFoundOrExpired(err) {
		return fmt.Errorf("%w: session %s: %v", capability.ErrInvalidArguments, id, err)
	}
	return fmt.Errorf("session %s: %w", id, err)
}

type getContextParams struct {
	SessionID   string `mapstructure:"session_id"`
	ContextType string `mapstructure:"context_type"`
}

func (p *SessionContext) getContext(ctx context.Context, args capability.Args) (any, error) {
	in := getContextParams{ContextType: "conversation"}
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	s, err := p.store.Load(ctx, in.SessionID)
	if err != nil {
		return nil, sessionError(in.SessionID, err)
	}

	data := s.Context
	if data == nil {
		data = map[string]any{}
	}
	if in.ContextType != "conversation" {
		nested, ok := data[in.ContextType].(map[string]any)
		if !ok {
			nested = map[string]any{}
		}
		data = nested
	}
	return map[string]any{
		"session_id":   in.SessionID,
		"context_type": in.ContextType,
		"data":         data,
		"created_at":   formatTime(s.CreatedAt),
		"updated_at":   formatTime(s.LastAccessed),
	}, nil
}

type updateContextParams struct {
	SessionID   string         `mapstructure:"session_id"`
	ContextData map[string]any `mapstructure:"context_data"`
	Merge       bool           `mapstructure:"merge"`
}

func (p *SessionContext) updateContext(ctx context.Context, args capability.Args) (any, error) {
	in := updateContextParams{Merge: true}
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	if err := p.store.UpdateContext(ctx, in.SessionID, in.ContextData, in.Merge); err != nil {
		return nil, sessionError(in.SessionID, err)
	}
	s, err := p.store.Load(ctx, in.SessionID)
	if err != nil {
		return nil, sessionError(in.SessionID, err)
	}
	p.Logger().Info("session context updated", "session_id", in.SessionID, "merge", in.Merge, "keys", len(in.ContextData))
	return map[string]any{
		"session_id": in.SessionID,
		"updated":    true,
		"updated_at": formatTime(s.LastAccessed),
	}, nil
}

type sessionParams struct {
	SessionID     string `mapstructure:"session_id"`
	ApplicationID string `mapstructure:"application_id"`
}

func (p *SessionContext) getCurrentApplication(ctx context.Context, args capability.Args) (any, error) {
	var in sessionParams
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	v, _, err := p.store.GetContext(ctx, in.SessionID, session.KeyCurrentApplication)
	if err != nil {
		return nil, sessionError(in.SessionID, err)
	}
	var current any
	if id, ok := v.(string); ok && id != "" {
		current = id
	}
	return map[string]any{
		"session_id":     in.SessionID,
		"application_id": current,
	}, nil
}

func (p *SessionContext) setCurrentApplication(ctx context.Context, args capability.Args) (any, error) {
	var in sessionParams
	if err := args.Decode(&in); err != nil {
		return nil, err
	}
	if err := p.store.SetContext(ctx, in.SessionID, session.KeyCurrentApplication, in.ApplicationID); err != nil {
		return nil, sessionError(in.SessionID, err)
	}
	p.Logger().Info("current application set", "session_id", in.SessionID, "application_id", in.ApplicationID)
	return map[string]any{
		"session_id":     in.SessionID,
		"application_id": in.ApplicationID,
		"updated":        true,
	}, nil
}

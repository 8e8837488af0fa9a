// ABOUTME: Conversation turn and content part sum type with tagged JSON encoding.
// ABOUTME: Parts are Text, ToolCall and ToolResult; turns carry a user or assistant role.

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Part is one element of a turn's content. The set of implementations is closed.
type Part interface {
	partType() string
}

// TextPart is plain text.
type TextPart struct {
	Text string
}

// ToolCallPart is a request from the model to invoke a capability.
type ToolCallPart struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResultPart carries the outcome of a ToolCallPart with the same ID.
type ToolResultPart struct {
	ID      string
	Content string
	IsError bool
}

func (TextPart) partType() string       { return "text" }
func (ToolCallPart) partType() string   { return "tool_call" }
func (ToolResultPart) partType() string { return "tool_result" }

// Turn is one role-tagged entry in a conversation.
type Turn struct {
	Role  Role
	Parts []Part
}

// UserText builds a user turn with a single text part.
func UserText(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// AssistantText builds an assistant turn with a single text part.
func AssistantText(text string) Turn {
	return Turn{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
}

// Text joins the turn's text parts with newlines.
func (t Turn) Text() string {
	return JoinText(t.Parts)
}

// ToolCalls returns the turn's tool-call parts in order.
func (t Turn) ToolCalls() []ToolCallPart {
	return ToolCalls(t.Parts)
}

// JoinText concatenates the text parts of a part list with newlines.
func JoinText(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolCalls extracts the tool-call parts of a part list.
func ToolCalls(parts []Part) []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

type partJSON struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type turnJSON struct {
	Role    Role       `json:"role"`
	Content []partJSON `json:"content"`
}

// MarshalJSON encodes the turn with a type discriminator on each part.
func (t Turn) MarshalJSON() ([]byte, error) {
	out := turnJSON{Role: t.Role, Content: make([]partJSON, 0, len(t.Parts))}
	for _, p := range t.Parts {
		pj := partJSON{Type: p.partType()}
		switch v := p.(type) {
		case TextPart:
			pj.Text = v.Text
		case ToolCallPart:
			pj.ID, pj.Name, pj.Arguments = v.ID, v.Name, v.Arguments
		case ToolResultPart:
			pj.ID, pj.Content, pj.IsError = v.ID, v.Content, v.IsError
		}
		out.Content = append(out.Content, pj)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a turn produced by MarshalJSON.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var in turnJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Role.Valid() {
		return fmt.Errorf("invalid turn role %q", in.Role)
	}
	parts := make([]Part, 0, len(in.Content))
	for _, pj := range in.Content {
		switch pj.Type {
		case "text":
			parts = append(parts, TextPart{Text: pj.Text})
		case "tool_call":
			parts = append(parts, ToolCallPart{ID: pj.ID, Name: pj.Name, Arguments: pj.Arguments})
		case "tool_result":
			parts = append(parts, ToolResultPart{ID: pj.ID, Content: pj.Content, IsError: pj.IsError})
		default:
			return fmt.Errorf("unknown part type %q", pj.Type)
		}
	}
	t.Role = in.Role
	t.Parts = parts
	return nil
}

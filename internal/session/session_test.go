package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cappelaere/wai/internal/model"
)

func TestRecentStartsOnUserTurn(t *testing.T) {
	s := &Session{History: []model.Turn{
		model.UserText("q1"), model.AssistantText("a1"),
		model.UserText("q2"), model.AssistantText("a2"),
		model.UserText("q3"), model.AssistantText("a3"),
	}}

	assert.Len(t, s.Recent(10), 6)
	assert.Equal(t, []model.Turn{model.UserText("q3"), model.AssistantText("a3")}, s.Recent(2))

	// An odd window would start on an assistant turn; it is dropped.
	got := s.Recent(3)
	assert.Equal(t, []model.Turn{model.UserText("q3"), model.AssistantText("a3")}, got)

	assert.Empty(t, (&Session{}).Recent(10))
}

func TestRecentReturnsCopy(t *testing.T) {
	s := &Session{History: []model.Turn{model.UserText("q"), model.AssistantText("a")}}
	got := s.Recent(10)
	got[0] = model.UserText("changed")
	assert.Equal(t, "q", s.History[0].Text())
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{LastAccessed: now}
	assert.False(t, s.Expired(now.Add(time.Hour), time.Hour), "exactly at the timeout is still live")
	assert.True(t, s.Expired(now.Add(time.Hour+time.Nanosecond), time.Hour))
	assert.Equal(t, now.Add(time.Hour), s.ExpiresAt(time.Hour))
}

func TestCloneIsDeep(t *testing.T) {
	s := &Session{
		ID:      "s1",
		Context: map[string]any{"prefs": map[string]any{"tone": "brief"}, "list": []any{"a"}},
		History: []model.Turn{model.UserText("q")},
	}
	c := s.Clone()
	c.Context["prefs"].(map[string]any)["tone"] = "long"
	c.Context["list"].([]any)[0] = "b"
	c.History[0].Parts[0] = model.TextPart{Text: "changed"}

	assert.Equal(t, "brief", s.Context["prefs"].(map[string]any)["tone"])
	assert.Equal(t, "a", s.Context["list"].([]any)[0])
	assert.Equal(t, "q", s.History[0].Text())
}

func TestCurrentApplication(t *testing.T) {
	var nilSession *Session
	assert.Equal(t, "", nilSession.CurrentApplication())
	assert.Equal(t, "", (&Session{Context: newContext()}).CurrentApplication())
	assert.Equal(t, "75179", (&Session{Context: map[string]any{KeyCurrentApplication: "75179"}}).CurrentApplication())
}

func TestIsNotFoundOrExpired(t *testing.T) {
	assert.True(t, IsNotFoundOrExpired(fmt.Errorf("loading: %w", ErrNotFound)))
	assert.True(t, IsNotFoundOrExpired(ErrExpired))
	assert.False(t, IsNotFoundOrExpired(errors.New("disk full")))
}

func TestApplyUpdate(t *testing.T) {
	base := map[string]any{"a": float64(1), "b": "x"}
	merged := applyUpdate(base, map[string]any{"b": "y", "c": true}, true)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "y", "c": true}, merged)
	assert.Equal(t, "x", base["b"], "input is not mutated")

	replaced := applyUpdate(base, map[string]any{"c": true}, false)
	assert.Equal(t, map[string]any{"c": true}, replaced)
}

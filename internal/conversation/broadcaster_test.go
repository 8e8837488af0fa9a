// ABOUTME: Tests for the per-session progress broadcaster.
// ABOUTME: Covers fan-out, isolation, slow consumers, cancellation and concurrency.

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "s1")
	ch2, _ := b.Subscribe(t.Context(), "s1")

	b.Publish(Event{Type: EventToolCall, SessionID: "s1", Tool: "get_application"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := receive(t, ch)
		assert.Equal(t, EventToolCall, ev.Type)
		assert.Equal(t, "get_application", ev.Tool)
		assert.False(t, ev.Timestamp.IsZero(), "timestamp should be stamped on publish")
	}
}

func TestBroadcaster_SessionsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), "s1")
	ch2, _ := b.Subscribe(t.Context(), "s2")

	b.Publish(Event{Type: EventAnswer, SessionID: "s1"})

	assert.Equal(t, EventAnswer, receive(t, ch1).Type)
	select {
	case <-ch2:
		t.Fatal("subscriber of s2 received an s1 event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlock(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), "s1")
	fast, _ := b.Subscribe(t.Context(), "s1")

	done := make(chan struct{})
	go func() {
		for i := range 3 * subscriberBufferSize {
			b.Publish(Event{Type: EventModelCall, SessionID: "s1", Iteration: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	assert.Equal(t, EventModelCall, receive(t, fast).Type)
}

func TestBroadcaster_CancellationClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "s1")
	require.Equal(t, 1, b.Subscribers("s1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Eventually(t, func() bool { return b.Subscribers("s1") == 0 }, time.Second, 10*time.Millisecond)

	// Publishing to a session with no subscribers is a no-op.
	b.Publish(Event{Type: EventAnswer, SessionID: "s1"})
}

func TestBroadcaster_CloseClosesAll(t *testing.T) {
	b := NewBroadcaster(nil)
	ch1, _ := b.Subscribe(t.Context(), "s1")
	ch2, _ := b.Subscribe(t.Context(), "s2")

	b.Close()

	for i, ch := range []<-chan Event{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok, "channel %d should be closed", i)
	}
}

func TestBroadcaster_NilIsNoop(t *testing.T) {
	var b *Broadcaster
	b.Publish(Event{Type: EventAnswer, SessionID: "s1"})
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			subCtx, subCancel := context.WithCancel(ctx)
			defer subCancel()
			ch, _ := b.Subscribe(subCtx, "busy")
			for range 5 {
				select {
				case <-ch:
				case <-time.After(100 * time.Millisecond):
					return
				}
			}
		})
	}
	for range 8 {
		wg.Go(func() {
			for range 20 {
				b.Publish(Event{Type: EventToolResult, SessionID: "busy"})
			}
		})
	}
	wg.Wait()
}

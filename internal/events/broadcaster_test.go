// ABOUTME: Tests for the lifecycle event broadcaster
// ABOUTME: Covers thread filtering, slow subscribers, cancellation and close

package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBroadcaster_FiltersByThread(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), "")
	one, _ := b.Subscribe(t.Context(), "thread-1")
	two, _ := b.Subscribe(t.Context(), "thread-2")

	b.Publish(Event{Kind: SessionCreated, ThreadID: "thread-1", SessionID: "s1"})

	ev := receive(t, all)
	assert.Equal(t, SessionCreated, ev.Kind)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.At.IsZero())

	assert.Equal(t, "s1", receive(t, one).SessionID)
	assertNoEvent(t, two)
}

func TestBroadcaster_KeepsPublishedIDAndTime(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "")
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.Publish(Event{ID: "evt-1", Kind: TurnCompleted, ThreadID: "t", At: at})

	ev := receive(t, ch)
	assert.Equal(t, "evt-1", ev.ID)
	assert.Equal(t, at, ev.At)
}

func TestBroadcaster_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "")
	for i := 0; i < subscriberBufferSize+10; i++ {
		b.Publish(Event{Kind: TurnCompleted, ThreadID: "t", Detail: fmt.Sprint(i)})
	}

	assert.Len(t, ch, subscriberBufferSize)
	assert.Equal(t, "0", receive(t, ch).Detail)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "")
	require.Equal(t, 1, b.Len())

	cancel()
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, id := b.Subscribe(t.Context(), "")
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Kind: SessionClosed, ThreadID: "t"})
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil)

	ch, _ := b.Subscribe(t.Context(), "")
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	late, _ := b.Subscribe(t.Context(), "")
	_, ok = <-late
	assert.False(t, ok, "subscriptions after close are already closed")
}

func TestBroadcaster_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		ctx, cancel := context.WithCancel(context.Background())
		ch, _ := b.Subscribe(ctx, "")
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(Event{Kind: TurnCompleted, ThreadID: "t"})
			}
			cancel()
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
}

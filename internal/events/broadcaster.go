// ABOUTME: In-memory fan-out of session lifecycle events
// ABOUTME: Subscribers receive every event or only those for one thread

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Kind names a lifecycle transition.
type Kind string

const (
	SessionCreated Kind = "session.created"
	TurnCompleted  Kind = "turn.completed"
	TurnFailed     Kind = "turn.failed"
	SessionClosed  Kind = "session.closed"
)

// Event is one lifecycle transition of a session.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ThreadID  string    `json:"thread_id"`
	SessionID string    `json:"session_id"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

type subscriber struct {
	thread string
	ch     chan Event
}

// Broadcaster delivers published events to subscribers without blocking the
// publisher. A subscriber whose buffer is full misses events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a Broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]subscriber),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers for events on threadID, or on every thread when
// threadID is empty. The channel is closed when ctx is cancelled, on
// Unsubscribe, or on Close.
func (b *Broadcaster) Subscribe(ctx context.Context, threadID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = subscriber{thread: threadID, ch: ch}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID, "thread_id", threadID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()
	return ch, subID
}

// Publish stamps ev with an ID and time if missing and fans it out.
func (b *Broadcaster) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subscribers {
		if sub.thread != "" && sub.thread != ev.ThreadID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "kind", ev.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(sub.ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.closed = true
	b.logger.Debug("broadcaster closed")
}

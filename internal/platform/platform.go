// ABOUTME: Chat platform boundary: messages, thread metadata, triggers and the client interface
// ABOUTME: Adapters (discord, matrix) translate native events into Triggers and implement Client

package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a thread or message does not exist on the platform.
	ErrNotFound = errors.New("not found")

	// ErrPartialDelivery is returned when the start of a long message was
	// posted but a later part failed. Resending would duplicate the start.
	ErrPartialDelivery = errors.New("message partially delivered")
)

// ThreadID is the opaque, stable identifier of a conversation thread.
type ThreadID string

// MessageKind separates conversational messages from platform-internal notices.
type MessageKind int

const (
	// KindDefault is an ordinary message typed by a user or sent by a bot.
	KindDefault MessageKind = iota
	// KindSystem is a platform-internal message (join/leave, pins, thread created, ...).
	KindSystem
)

// Message is one platform message as returned by history fetches.
type Message struct {
	ID         string
	AuthorID   string
	AuthorName string
	// AuthorBot is set for messages sent by any bot or webhook account.
	AuthorBot bool
	Kind      MessageKind
	Content   string
	Timestamp time.Time
}

// ThreadInfo is the platform's view of a thread at the time of the call.
type ThreadInfo struct {
	ID       ThreadID
	ParentID string
	OwnerID  string
	// MessageCount is the number of messages posted inside the thread,
	// excluding the message the thread was started from.
	MessageCount int
}

// TriggerKind identifies which trigger source produced an event.
type TriggerKind int

const (
	// TriggerStart is an explicit start command (the /chat slash command).
	TriggerStart TriggerKind = iota + 1
	// TriggerReaction is an emoji reaction on an existing message.
	TriggerReaction
	// TriggerMessage is a plain message posted in an existing thread.
	TriggerMessage
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerStart:
		return "start"
	case TriggerReaction:
		return "reaction"
	case TriggerMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Trigger is a platform event that may request a conversational turn.
type Trigger struct {
	Kind TriggerKind

	// ChannelID is the channel (or room) the event happened in. For
	// TriggerMessage it is the parent channel of the thread.
	ChannelID string
	// MessageID is the message the event refers to: the title card for
	// TriggerStart, the reacted message for TriggerReaction, the new
	// message for TriggerMessage.
	MessageID string
	// ThreadID is set for TriggerMessage.
	ThreadID ThreadID
	// BotOwnedThread reports whether ThreadID was started by the bot.
	BotOwnedThread bool

	AuthorID   string
	AuthorName string
	Text       string
	// Emoji is the reaction key for TriggerReaction.
	Emoji     string
	Timestamp time.Time
}

// Handler consumes triggers produced by a platform adapter.
type Handler interface {
	HandleTrigger(ctx context.Context, trigger Trigger) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, trigger Trigger) error

// HandleTrigger calls f(ctx, trigger).
func (f HandlerFunc) HandleTrigger(ctx context.Context, trigger Trigger) error {
	return f(ctx, trigger)
}

// Client is what the session layer needs from a chat platform.
type Client interface {
	// Name identifies the platform ("discord", "matrix").
	Name() string
	// SelfID is the bot's own author identity.
	SelfID() string
	// SelfName is the bot's display name, used in thread titles.
	SelfName() string

	ThreadInfo(ctx context.Context, thread ThreadID) (ThreadInfo, error)
	// FetchHistory returns the thread's messages oldest first.
	FetchHistory(ctx context.Context, thread ThreadID) ([]Message, error)
	GetMessage(ctx context.Context, channelID, messageID string) (Message, error)

	// Send posts text into the thread and returns the new message ID.
	Send(ctx context.Context, thread ThreadID, text string) (string, error)
	// Edit replaces the content of a message previously returned by Send.
	Edit(ctx context.Context, thread ThreadID, messageID, text string) error
	Typing(ctx context.Context, thread ThreadID) error
	// StartThread opens a thread rooted at messageID in channelID.
	StartThread(ctx context.Context, channelID, messageID, title string) (ThreadID, error)
}

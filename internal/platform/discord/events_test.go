// ABOUTME: Tests for Discord payload conversion
// ABOUTME: Covers thread message, reaction and slash command triggers and message splitting

package discord

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

func TestNormalizeBotToken(t *testing.T) {
	assert.Equal(t, "Bot abc", normalizeBotToken("abc"))
	assert.Equal(t, "Bot abc", normalizeBotToken("  Bot abc "))
	assert.Equal(t, "bot abc", normalizeBotToken("bot abc"))
}

func TestMessageTrigger(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	thread := &discordgo.Channel{ID: "thread-1", ParentID: "chan-1", OwnerID: "bot-1", Type: discordgo.ChannelTypeGuildPublicThread}
	msg := &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "thread-1",
		Content:   "hello there",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "user-1", Username: "alice", GlobalName: "Alice A."},
	}

	tr, ok := messageTrigger(msg, thread, "bot-1")
	require.True(t, ok)
	assert.Equal(t, platform.Trigger{
		Kind:           platform.TriggerMessage,
		ChannelID:      "chan-1",
		MessageID:      "msg-1",
		ThreadID:       "thread-1",
		BotOwnedThread: true,
		AuthorID:       "user-1",
		AuthorName:     "Alice A.",
		Text:           "hello there",
		Timestamp:      ts,
	}, tr)

	tr, ok = messageTrigger(msg, thread, "someone-else")
	require.True(t, ok)
	assert.False(t, tr.BotOwnedThread)

	_, ok = messageTrigger(msg, &discordgo.Channel{ID: "chan-1", Type: discordgo.ChannelTypeGuildText}, "bot-1")
	assert.False(t, ok, "messages outside threads are not triggers")

	system := *msg
	system.Type = discordgo.MessageTypeChannelPinnedMessage
	_, ok = messageTrigger(&system, thread, "bot-1")
	assert.False(t, ok, "system messages are not triggers")
}

func TestReactionTrigger(t *testing.T) {
	tr := reactionTrigger(&discordgo.MessageReaction{
		UserID:    "admin-1",
		MessageID: "msg-9",
		ChannelID: "chan-1",
		Emoji:     discordgo.Emoji{Name: "🧠"},
	})
	assert.Equal(t, platform.TriggerReaction, tr.Kind)
	assert.Equal(t, "🧠", tr.Emoji)
	assert.Equal(t, "admin-1", tr.AuthorID)
	assert.Equal(t, "msg-9", tr.MessageID)

	custom := reactionTrigger(&discordgo.MessageReaction{Emoji: discordgo.Emoji{Name: "brain", ID: "123"}})
	assert.Equal(t, "brain:123", custom.Emoji)
}

func TestCommandTrigger(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:        "int-1",
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "chan-1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "user-1", Username: "alice"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "chat",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: "message", Type: discordgo.ApplicationCommandOptionString, Value: "  what is a neuron? "},
			},
		},
	}}

	tr, ok := commandTrigger(i, "chat")
	require.True(t, ok)
	assert.Equal(t, platform.TriggerStart, tr.Kind)
	assert.Equal(t, "chan-1", tr.ChannelID)
	assert.Equal(t, "user-1", tr.AuthorID)
	assert.Equal(t, "alice", tr.AuthorName)
	assert.Equal(t, "what is a neuron?", tr.Text)

	_, ok = commandTrigger(i, "other")
	assert.False(t, ok)

	ping := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}}
	_, ok = commandTrigger(ping, "chat")
	assert.False(t, ok)
}

func TestConvertMessage(t *testing.T) {
	m := convertMessage(&discordgo.Message{
		ID:      "m1",
		Content: "hi",
		Author:  &discordgo.User{ID: "u1", Username: "bob"},
	})
	assert.Equal(t, platform.KindDefault, m.Kind)
	assert.Equal(t, "bob", m.AuthorName)
	assert.False(t, m.AuthorBot)

	hook := convertMessage(&discordgo.Message{ID: "m2", WebhookID: "w1", Author: &discordgo.User{ID: "w1"}})
	assert.True(t, hook.AuthorBot)

	created := convertMessage(&discordgo.Message{ID: "m3", Type: discordgo.MessageTypeThreadCreated})
	assert.Equal(t, platform.KindSystem, created.Kind)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{""}, splitMessage("", 10))

	parts := splitMessage("line one\nline two\nline three", 12)
	assert.Equal(t, []string{"line one\n", "line two\n", "line three"}, parts)

	long := strings.Repeat("é", 25)
	parts = splitMessage(long, 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}

func TestThreadName(t *testing.T) {
	assert.Equal(t, "alice's chat with Chatbot", threadName("alice's chat with Chatbot"))
	long := threadName(strings.Repeat("a", 150))
	assert.Equal(t, maxThreadName, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "…"))
}

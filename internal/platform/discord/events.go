// ABOUTME: Conversion between discordgo payloads and platform triggers and messages
// ABOUTME: Pure functions so event handling can be tested without a gateway connection

package discord

import (
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

func normalizeBotToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}

func displayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func isThread(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

func convertMessage(m *discordgo.Message) platform.Message {
	msg := platform.Message{
		ID:        m.ID,
		Kind:      messageKind(m.Type),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = displayName(m.Author)
		msg.AuthorBot = m.Author.Bot
	}
	if m.WebhookID != "" {
		msg.AuthorBot = true
	}
	return msg
}

func messageKind(t discordgo.MessageType) platform.MessageKind {
	switch t {
	case discordgo.MessageTypeDefault, discordgo.MessageTypeReply, discordgo.MessageTypeChatInputCommand:
		return platform.KindDefault
	}
	return platform.KindSystem
}

// messageTrigger builds a TriggerMessage for a message posted in a thread.
func messageTrigger(m *discordgo.Message, ch *discordgo.Channel, selfID string) (platform.Trigger, bool) {
	if ch == nil || !isThread(ch) || messageKind(m.Type) != platform.KindDefault {
		return platform.Trigger{}, false
	}
	tr := platform.Trigger{
		Kind:           platform.TriggerMessage,
		ChannelID:      ch.ParentID,
		MessageID:      m.ID,
		ThreadID:       platform.ThreadID(ch.ID),
		BotOwnedThread: selfID != "" && ch.OwnerID == selfID,
		Text:           m.Content,
		Timestamp:      m.Timestamp,
	}
	if m.Author != nil {
		tr.AuthorID = m.Author.ID
		tr.AuthorName = displayName(m.Author)
	}
	return tr, true
}

func reactionTrigger(r *discordgo.MessageReaction) platform.Trigger {
	emoji := r.Emoji.Name
	if r.Emoji.ID != "" {
		emoji = r.Emoji.APIName()
	}
	return platform.Trigger{
		Kind:      platform.TriggerReaction,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		AuthorID:  r.UserID,
		Emoji:     emoji,
	}
}

// commandTrigger builds a TriggerStart from a slash command invocation.
func commandTrigger(i *discordgo.InteractionCreate, command string) (platform.Trigger, bool) {
	if i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return platform.Trigger{}, false
	}
	data := i.ApplicationCommandData()
	if data.Name != command {
		return platform.Trigger{}, false
	}

	tr := platform.Trigger{
		Kind:      platform.TriggerStart,
		ChannelID: i.ChannelID,
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user != nil {
		tr.AuthorID = user.ID
		tr.AuthorName = displayName(user)
	}
	for _, opt := range data.Options {
		if opt.Name == "message" && opt.Type == discordgo.ApplicationCommandOptionString {
			tr.Text = strings.TrimSpace(opt.StringValue())
		}
	}
	return tr, true
}

func threadName(title string) string {
	if utf8.RuneCountInString(title) <= maxThreadName {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxThreadName-1]) + "…"
}

// splitMessage cuts text into parts of at most limit runes, preferring
// line breaks. It always returns at least one part.
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := limit
		if nl := strings.LastIndex(string(runes[:limit]), "\n"); nl > 0 {
			cut = utf8.RuneCountInString(string(runes[:limit])[:nl]) + 1
		}
		parts = append(parts, string(runes[:cut]))
		text = string(runes[cut:])
	}
	return append(parts, text)
}

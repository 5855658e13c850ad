// ABOUTME: Conversion between Matrix events and platform triggers and messages
// ABOUTME: Also renders markdown replies into HTML formatted bodies

package matrix

import (
	"bytes"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

// messageContent parses evt as a room message, or returns nil.
func messageContent(evt *event.Event) *event.MessageEventContent {
	if evt.Type.Type != event.EventMessage.Type {
		return nil
	}
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(event.EventMessage); err != nil {
			return nil
		}
	}
	content, _ := evt.Content.Parsed.(*event.MessageEventContent)
	return content
}

func convertEvent(evt *event.Event) platform.Message {
	msg := platform.Message{
		ID:         evt.ID.String(),
		AuthorID:   evt.Sender.String(),
		AuthorName: localpart(evt.Sender.String()),
		Kind:       platform.KindSystem,
		Timestamp:  time.UnixMilli(evt.Timestamp).UTC(),
	}
	content := messageContent(evt)
	if content == nil {
		return msg
	}
	// Notices are automated output, such as the title card rooting a chat.
	switch content.MsgType {
	case event.MsgText, event.MsgEmote:
		msg.Kind = platform.KindDefault
		msg.Content = content.Body
	}
	// Edits are applied by redaction, never by replacement events.
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		msg.Kind = platform.KindSystem
	}
	return msg
}

// messageTrigger turns a room message into a start command or a threaded
// message trigger. root is the thread root for TriggerMessage.
func messageTrigger(evt *event.Event, commandPrefix string) (platform.Trigger, id.EventID, bool) {
	content := messageContent(evt)
	if content == nil || content.MsgType != event.MsgText {
		return platform.Trigger{}, "", false
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return platform.Trigger{}, "", false
	}

	tr := platform.Trigger{
		ChannelID:  evt.RoomID.String(),
		MessageID:  evt.ID.String(),
		AuthorID:   evt.Sender.String(),
		AuthorName: localpart(evt.Sender.String()),
		Text:       content.Body,
		Timestamp:  time.UnixMilli(evt.Timestamp).UTC(),
	}

	if root := content.RelatesTo.GetThreadParent(); root != "" {
		tr.Kind = platform.TriggerMessage
		tr.ThreadID = makeThreadID(evt.RoomID, root)
		return tr, root, true
	}

	if commandPrefix != "" && isCommand(content.Body, commandPrefix) {
		tr.Kind = platform.TriggerStart
		tr.MessageID = ""
		tr.Text = strings.TrimSpace(strings.TrimPrefix(content.Body, commandPrefix))
		return tr, "", true
	}
	return platform.Trigger{}, "", false
}

func isCommand(body, prefix string) bool {
	if !strings.HasPrefix(body, prefix) {
		return false
	}
	rest := body[len(prefix):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\n'
}

func reactionTrigger(evt *event.Event) (platform.Trigger, bool) {
	if evt.Content.Parsed == nil {
		if err := evt.Content.ParseRaw(event.EventReaction); err != nil {
			return platform.Trigger{}, false
		}
	}
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok || content.RelatesTo.Type != event.RelAnnotation {
		return platform.Trigger{}, false
	}
	return platform.Trigger{
		Kind:      platform.TriggerReaction,
		ChannelID: evt.RoomID.String(),
		MessageID: content.RelatesTo.EventID.String(),
		AuthorID:  evt.Sender.String(),
		// Clients differ on the emoji presentation selector.
		Emoji:     strings.TrimSuffix(content.RelatesTo.Key, "\ufe0f"),
		Timestamp: time.UnixMilli(evt.Timestamp).UTC(),
	}, true
}

// localpart returns "alice" for "@alice:example.org".
func localpart(userID string) string {
	name := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	return name
}

type renderer struct {
	md goldmark.Markdown
}

func newRenderer() *renderer {
	return &renderer{md: goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)}
}

// content builds a text message with an HTML body when markdown renders.
func (r *renderer) content(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = strings.TrimSpace(buf.String())
	}
	return content
}

// ABOUTME: Trigger policy: slash command, reaction and thread message handling
// ABOUTME: Spawns threads idempotently and routes eligible messages to sessions

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

const defaultInitialText = "A human has requested a chat!"

// SpawnRequest asks for a new chat thread.
type SpawnRequest struct {
	ChannelID string
	// MessageID is the message to start the thread from. Empty means the
	// platform posts a title card and starts the thread from that.
	MessageID  string
	AuthorID   string
	AuthorName string
	// InitialText is the first human turn. Empty sends defaultInitialText
	// after an intro notice.
	InitialText string
}

// Spawn starts a thread and its session, then queues the initial turn. If
// the resulting thread already has a live session, Spawn returns that
// session with ErrDuplicateSpawn and changes nothing.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*Session, *Pending, error) {
	title := fmt.Sprintf("%s's chat with %s", req.AuthorName, m.client.SelfName())
	threadID, err := m.client.StartThread(ctx, req.ChannelID, req.MessageID, title)
	if err != nil {
		return nil, nil, fmt.Errorf("starting thread: %w", err)
	}

	if s, ok := m.registry.Get(threadID); ok {
		m.logger.Debug("thread already has a live session", "thread_id", threadID, "session_id", s.ID)
		return s, nil, ErrDuplicateSpawn
	}

	text := req.InitialText
	intro := strings.TrimSpace(text) == ""
	if intro {
		text = defaultInitialText
	}

	ev := Event{
		ThreadID:   threadID,
		ChannelID:  req.ChannelID,
		AuthorID:   req.AuthorID,
		AuthorName: req.AuthorName,
	}
	s, _, err := m.dispatch(ctx, ev, true)
	if err != nil {
		return s, nil, err
	}

	if intro {
		if _, err := m.client.Send(ctx, threadID, m.introNotice(text)); err != nil {
			m.logger.Warn("failed to post intro notice", "thread_id", threadID, "error", err)
		}
	}

	ev.Text = text
	s, p, err := m.dispatch(ctx, ev, false)
	if err != nil {
		return s, nil, err
	}
	m.logger.Info("chat spawned", "thread_id", threadID, "session_id", s.ID, "author", req.AuthorName)
	return s, p, nil
}

func (m *Manager) introNotice(initial string) string {
	var b strings.Builder
	b.WriteString("Remember! The bot...\n")
	if m.policy.IgnorePrefix != "" {
		fmt.Fprintf(&b, "...ignores messages starting with %s\n", m.policy.IgnorePrefix)
	}
	b.WriteString("...makes things up some times\n")
	b.WriteString("...cannot search the internet\n")
	b.WriteString("...is doing its best 🤖❤️\n\n")
	fmt.Fprintf(&b, "Beginning chat with initial message:\n> %s", initial)
	return m.notice(b.String())
}

// HandleTrigger applies the trigger policy and routes accepted triggers.
// Ignored triggers return nil; rejected ones return ErrChannelNotAllowed or
// ErrUnauthorizedTrigger, which callers should not surface to users.
func (m *Manager) HandleTrigger(ctx context.Context, tr platform.Trigger) error {
	switch tr.Kind {
	case platform.TriggerStart:
		return m.handleStart(ctx, tr)
	case platform.TriggerReaction:
		return m.handleReaction(ctx, tr)
	case platform.TriggerMessage:
		return m.handleMessage(ctx, tr)
	default:
		return fmt.Errorf("unknown trigger kind %d", tr.Kind)
	}
}

func (m *Manager) handleStart(ctx context.Context, tr platform.Trigger) error {
	if len(m.allowed) > 0 && !m.allowed[tr.ChannelID] {
		m.logger.Debug("chat requested outside allowed channels", "channel_id", tr.ChannelID, "user", tr.AuthorName)
		return ErrChannelNotAllowed
	}

	_, _, err := m.Spawn(ctx, SpawnRequest{
		ChannelID:   tr.ChannelID,
		MessageID:   tr.MessageID,
		AuthorID:    tr.AuthorID,
		AuthorName:  tr.AuthorName,
		InitialText: tr.Text,
	})
	if errors.Is(err, ErrDuplicateSpawn) {
		return nil
	}
	return err
}

func (m *Manager) handleReaction(ctx context.Context, tr platform.Trigger) error {
	if tr.AuthorID == m.client.SelfID() || tr.Emoji != m.policy.ReactionEmoji {
		return nil
	}
	if !m.admins[tr.AuthorID] {
		m.logger.Debug("reaction trigger from non-admin ignored", "user_id", tr.AuthorID, "message_id", tr.MessageID)
		return ErrUnauthorizedTrigger
	}

	msg, err := m.client.GetMessage(ctx, tr.ChannelID, tr.MessageID)
	if err != nil {
		return fmt.Errorf("fetching reacted message: %w", err)
	}

	_, _, err = m.Spawn(ctx, SpawnRequest{
		ChannelID:   tr.ChannelID,
		MessageID:   tr.MessageID,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorName,
		InitialText: msg.Content,
	})
	if errors.Is(err, ErrDuplicateSpawn) {
		return nil
	}
	return err
}

func (m *Manager) handleMessage(ctx context.Context, tr platform.Trigger) error {
	if !tr.BotOwnedThread || tr.ThreadID == "" {
		return nil
	}
	if tr.AuthorID == m.client.SelfID() {
		return nil
	}
	if strings.TrimSpace(tr.Text) == "" {
		return nil
	}
	if m.policy.IgnorePrefix != "" && strings.HasPrefix(tr.Text, m.policy.IgnorePrefix) {
		return nil
	}

	_, err := m.OnTriggerEvent(ctx, Event{
		ThreadID:   tr.ThreadID,
		ChannelID:  tr.ChannelID,
		MessageID:  tr.MessageID,
		AuthorID:   tr.AuthorID,
		AuthorName: tr.AuthorName,
		Text:       tr.Text,
	})
	return err
}

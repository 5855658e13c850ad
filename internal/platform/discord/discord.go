// ABOUTME: Discord platform adapter built on discordgo
// ABOUTME: Turns gateway events into triggers and implements the platform client over the REST API

package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/HuMoN-Research-Lab/chatbot/internal/dedupe"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

const (
	// maxMessageLen is Discord's content limit per message.
	maxMessageLen = 2000
	// maxThreadName is Discord's thread name limit.
	maxThreadName = 100
	// historyPage is the largest page the messages endpoint returns.
	historyPage = 100
	// threadArchiveMinutes hides idle threads after a day.
	threadArchiveMinutes = 1440

	errCodeThreadAlreadyCreated = 160004
)

// Config configures the adapter.
type Config struct {
	Token string
	// GuildID scopes slash command registration. Empty registers globally.
	GuildID     string
	CommandName string
}

// Adapter connects to the Discord gateway.
type Adapter struct {
	cfg     Config
	session *discordgo.Session
	seen    *dedupe.Cache
	lanes   *lanes
	logger  *slog.Logger

	mu       sync.RWMutex
	selfID   string
	selfName string
	handler  platform.Handler
	ctx      context.Context
}

// New creates an adapter. No connection is made until Run.
func New(cfg Config, seen *dedupe.Cache, logger *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is required")
	}
	if cfg.CommandName == "" {
		cfg.CommandName = "chat"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s, err := discordgo.New(normalizeBotToken(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
	// Handlers run on the gateway reader in event order. Anything slow is
	// handed off: messages to their thread's lane, the rest to a goroutine.
	s.SyncEvents = true

	a := &Adapter{
		cfg:     cfg,
		session: s,
		seen:    seen,
		lanes:   newLanes(),
		logger:  logger.With("component", "discord"),
		ctx:     context.Background(),
	}
	s.AddHandler(a.onReady)
	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { go a.onInteraction(s, i) })
	s.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) { go a.onReaction(s, r) })
	s.AddHandler(a.onMessage)
	return a, nil
}

// Run opens the gateway connection and feeds triggers to h until ctx is done.
func (a *Adapter) Run(ctx context.Context, h platform.Handler) error {
	a.mu.Lock()
	a.handler = h
	a.ctx = ctx
	a.mu.Unlock()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	a.logger.Info("discord adapter started")

	<-ctx.Done()

	if err := a.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	a.logger.Info("discord adapter stopped")
	return nil
}

func (a *Adapter) dispatch(tr platform.Trigger, key string) {
	a.mu.RLock()
	h, ctx := a.handler, a.ctx
	a.mu.RUnlock()
	if h == nil {
		return
	}
	if a.seen != nil && a.seen.Seen(key) {
		a.logger.Debug("dropping redelivered event", "kind", tr.Kind, "message_id", tr.MessageID)
		return
	}
	if err := h.HandleTrigger(ctx, tr); err != nil {
		a.logger.Debug("trigger not handled", "kind", tr.Kind, "message_id", tr.MessageID, "error", err)
	}
}

func (a *Adapter) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if r.User == nil {
		return
	}
	a.mu.Lock()
	a.selfID = r.User.ID
	a.selfName = displayName(r.User)
	a.mu.Unlock()
	a.logger.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))

	go a.registerCommand(s, r.User.ID)
}

func (a *Adapter) registerCommand(s *discordgo.Session, appID string) {
	cmd := &discordgo.ApplicationCommand{
		Name:        a.cfg.CommandName,
		Description: "Start a chat with the bot in a new thread",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "message",
			Description: "Your first message",
			Required:    false,
		}},
	}
	if _, err := s.ApplicationCommandCreate(appID, a.cfg.GuildID, cmd); err != nil {
		a.logger.Error("failed to register slash command", "command", a.cfg.CommandName, "error", err)
	}
}

func (a *Adapter) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	tr, ok := commandTrigger(i, a.cfg.CommandName)
	if !ok {
		return
	}

	// Interactions must be acknowledged within three seconds; the thread is
	// created afterwards.
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		a.logger.Warn("failed to acknowledge interaction", "error", err)
		return
	}

	a.dispatch(tr, dedupe.Key("discord", "interaction", i.ID))

	done := "Chat started 💬"
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &done}); err != nil {
		a.logger.Debug("failed to update interaction response", "error", err)
	}
}

func (a *Adapter) onReaction(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil {
		return
	}
	tr := reactionTrigger(r.MessageReaction)
	a.dispatch(tr, dedupe.Key("discord", "reaction", tr.MessageID, tr.AuthorID, tr.Emoji))
}

func (a *Adapter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	ch, err := a.channel(m.ChannelID)
	if err != nil {
		a.logger.Debug("failed to resolve channel", "channel_id", m.ChannelID, "error", err)
		return
	}
	tr, ok := messageTrigger(m.Message, ch, a.SelfID())
	if !ok {
		return
	}
	key := dedupe.Key("discord", "message", m.ID)
	a.lanes.submit(string(tr.ThreadID), func() { a.dispatch(tr, key) })
}

// channel prefers the gateway state cache over a REST call.
func (a *Adapter) channel(id string, opts ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if a.session.State != nil {
		if ch, err := a.session.State.Channel(id); err == nil {
			return ch, nil
		}
	}
	return a.session.Channel(id, opts...)
}

// Name implements platform.Client.
func (a *Adapter) Name() string { return "discord" }

// SelfID implements platform.Client.
func (a *Adapter) SelfID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.selfID
}

// SelfName implements platform.Client.
func (a *Adapter) SelfName() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.selfName == "" {
		return "the bot"
	}
	return a.selfName
}

// ThreadInfo implements platform.Client.
func (a *Adapter) ThreadInfo(ctx context.Context, thread platform.ThreadID) (platform.ThreadInfo, error) {
	ch, err := a.session.Channel(string(thread), discordgo.WithContext(ctx))
	if err != nil {
		return platform.ThreadInfo{}, wrapErr("fetch thread", err)
	}
	if !isThread(ch) {
		return platform.ThreadInfo{}, fmt.Errorf("channel %s is not a thread: %w", thread, platform.ErrNotFound)
	}
	return platform.ThreadInfo{
		ID:           thread,
		ParentID:     ch.ParentID,
		OwnerID:      ch.OwnerID,
		MessageCount: ch.MessageCount,
	}, nil
}

// FetchHistory implements platform.Client. The thread starter message is
// replaced by the parent-channel message it refers to.
func (a *Adapter) FetchHistory(ctx context.Context, thread platform.ThreadID) ([]platform.Message, error) {
	var raw []*discordgo.Message
	before := ""
	for {
		page, err := a.session.ChannelMessages(string(thread), historyPage, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrapErr("fetch history", err)
		}
		raw = append(raw, page...)
		if len(page) < historyPage {
			break
		}
		before = page[len(page)-1].ID
	}
	// The API pages newest first.
	slices.Reverse(raw)

	out := make([]platform.Message, 0, len(raw))
	for _, m := range raw {
		if m.Type == discordgo.MessageTypeThreadStarterMessage && m.MessageReference != nil {
			starter, err := a.session.ChannelMessage(m.MessageReference.ChannelID, m.MessageReference.MessageID, discordgo.WithContext(ctx))
			if err != nil {
				a.logger.Debug("failed to resolve thread starter", "thread_id", thread, "error", err)
				continue
			}
			m = starter
		}
		out = append(out, convertMessage(m))
	}
	return out, nil
}

// GetMessage implements platform.Client.
func (a *Adapter) GetMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	m, err := a.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, wrapErr("fetch message", err)
	}
	return convertMessage(m), nil
}

// Send implements platform.Client. Text longer than one message is split
// and the ID of the last part is returned.
func (a *Adapter) Send(ctx context.Context, thread platform.ThreadID, text string) (string, error) {
	var id string
	for _, part := range splitMessage(text, maxMessageLen) {
		m, err := a.session.ChannelMessageSend(string(thread), part, discordgo.WithContext(ctx))
		if err != nil {
			return id, wrapErr("send message", err)
		}
		id = m.ID
	}
	return id, nil
}

// Edit implements platform.Client. Overflow beyond one message is sent as
// follow-up messages; once the edit landed, a failed follow-up is reported
// as platform.ErrPartialDelivery.
func (a *Adapter) Edit(ctx context.Context, thread platform.ThreadID, messageID, text string) error {
	parts := splitMessage(text, maxMessageLen)
	if _, err := a.session.ChannelMessageEdit(string(thread), messageID, parts[0], discordgo.WithContext(ctx)); err != nil {
		return wrapErr("edit message", err)
	}
	for i, part := range parts[1:] {
		if _, err := a.session.ChannelMessageSend(string(thread), part, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("%w: part %d of %d: %w", platform.ErrPartialDelivery, i+2, len(parts), wrapErr("send message", err))
		}
	}
	return nil
}

// Typing implements platform.Client.
func (a *Adapter) Typing(ctx context.Context, thread platform.ThreadID) error {
	return a.session.ChannelTyping(string(thread), discordgo.WithContext(ctx))
}

// StartThread implements platform.Client. With no messageID a title card
// embed is posted first and the thread hangs off it.
func (a *Adapter) StartThread(ctx context.Context, channelID, messageID, title string) (platform.ThreadID, error) {
	if messageID == "" {
		card, err := a.session.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{Title: title}, discordgo.WithContext(ctx))
		if err != nil {
			return "", wrapErr("post title card", err)
		}
		messageID = card.ID
	}

	ch, err := a.session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                threadName(title),
		AutoArchiveDuration: threadArchiveMinutes,
	}, discordgo.WithContext(ctx))
	if err != nil {
		// A thread started from a message shares the message's ID.
		if restCode(err) == errCodeThreadAlreadyCreated {
			return platform.ThreadID(messageID), nil
		}
		return "", wrapErr("start thread", err)
	}
	return platform.ThreadID(ch.ID), nil
}

func wrapErr(op string, err error) error {
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, platform.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func statusCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

func restCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code
	}
	return 0
}

// ABOUTME: Matrix platform adapter built on mautrix
// ABOUTME: Maps m.thread relations to chat threads and renders replies to HTML with goldmark

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/HuMoN-Research-Lab/chatbot/internal/dedupe"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

const (
	// typingTimeout is how long one typing notification lasts.
	typingTimeout = 30 * time.Second
	relationsPage = 100
)

// Config configures the adapter.
type Config struct {
	Homeserver    string
	UserID        string
	AccessToken   string
	CommandPrefix string
}

// Adapter connects to a Matrix homeserver as the bot user.
type Adapter struct {
	cfg    Config
	client *mautrix.Client
	self   id.UserID
	seen   *dedupe.Cache
	render *renderer
	logger *slog.Logger

	// owned caches which thread roots the bot started.
	owned sync.Map

	mu      sync.RWMutex
	handler platform.Handler
	ctx     context.Context
}

// New creates an adapter. No request is made until Run.
func New(cfg Config, seen *dedupe.Cache, logger *slog.Logger) (*Adapter, error) {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!chat"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		self:   id.UserID(cfg.UserID),
		seen:   seen,
		render: newRenderer(),
		logger: logger.With("component", "matrix"),
		ctx:    context.Background(),
	}, nil
}

// Run syncs with the homeserver and feeds triggers to h until ctx is done.
func (a *Adapter) Run(ctx context.Context, h platform.Handler) error {
	a.mu.Lock()
	a.handler = h
	a.ctx = ctx
	a.mu.Unlock()

	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.client.Syncer)
	}
	// The first sync replays recent timelines; those events were handled
	// before the restart or are too old to answer.
	syncer.OnSync(a.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, a.onMessage)
	syncer.OnEventType(event.EventReaction, a.onReaction)

	a.logger.Info("starting matrix sync", "homeserver", a.cfg.Homeserver, "user_id", a.cfg.UserID)
	err := a.client.SyncWithContext(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	a.logger.Info("matrix adapter stopped")
	return nil
}

func (a *Adapter) dispatch(tr platform.Trigger, evtID id.EventID) {
	a.mu.RLock()
	h, ctx := a.handler, a.ctx
	a.mu.RUnlock()
	if h == nil {
		return
	}
	if a.seen != nil && a.seen.Seen(dedupe.Key("matrix", evtID.String())) {
		a.logger.Debug("dropping redelivered event", "event_id", evtID)
		return
	}
	if err := h.HandleTrigger(ctx, tr); err != nil {
		a.logger.Debug("trigger not handled", "kind", tr.Kind, "event_id", evtID, "error", err)
	}
}

func (a *Adapter) onMessage(ctx context.Context, evt *event.Event) {
	tr, root, ok := messageTrigger(evt, a.cfg.CommandPrefix)
	if !ok {
		return
	}
	if tr.Kind == platform.TriggerMessage {
		tr.BotOwnedThread = a.ownsThread(ctx, evt.RoomID, root)
	}
	a.dispatch(tr, evt.ID)
}

func (a *Adapter) onReaction(ctx context.Context, evt *event.Event) {
	tr, ok := reactionTrigger(evt)
	if !ok {
		return
	}
	a.dispatch(tr, evt.ID)
}

// ownsThread reports whether the bot started the thread at root: either
// the root is the bot's title card or the bot posted the first reply.
func (a *Adapter) ownsThread(ctx context.Context, room id.RoomID, root id.EventID) bool {
	if v, ok := a.owned.Load(root); ok {
		return v.(bool)
	}

	owned := false
	if rootEvt, err := a.client.GetEvent(ctx, room, root); err == nil && rootEvt.Sender == a.self {
		owned = true
	} else {
		first, err := a.client.GetRelations(ctx, room, root, &mautrix.ReqGetRelations{
			RelationType: event.RelThread,
			Dir:          mautrix.DirectionForward,
			Limit:        1,
		})
		if err != nil {
			a.logger.Debug("failed to inspect thread", "root", root, "error", err)
			return false
		}
		owned = len(first.Chunk) > 0 && first.Chunk[0].Sender == a.self
	}
	if owned {
		a.owned.Store(root, true)
	}
	return owned
}

// Name implements platform.Client.
func (a *Adapter) Name() string { return "matrix" }

// SelfID implements platform.Client.
func (a *Adapter) SelfID() string { return a.self.String() }

// SelfName implements platform.Client.
func (a *Adapter) SelfName() string { return localpart(a.self.String()) }

// ThreadInfo implements platform.Client. Matrix has no cheap reply count,
// so MessageCount is 1 when the thread has any reply and 0 otherwise.
func (a *Adapter) ThreadInfo(ctx context.Context, thread platform.ThreadID) (platform.ThreadInfo, error) {
	room, root, err := splitThreadID(thread)
	if err != nil {
		return platform.ThreadInfo{}, err
	}
	rootEvt, err := a.client.GetEvent(ctx, room, root)
	if err != nil {
		return platform.ThreadInfo{}, wrapErr("fetch thread root", err)
	}
	first, err := a.client.GetRelations(ctx, room, root, &mautrix.ReqGetRelations{
		RelationType: event.RelThread,
		Dir:          mautrix.DirectionForward,
		Limit:        1,
	})
	if err != nil {
		return platform.ThreadInfo{}, wrapErr("fetch thread replies", err)
	}

	info := platform.ThreadInfo{
		ID:           thread,
		ParentID:     room.String(),
		OwnerID:      rootEvt.Sender.String(),
		MessageCount: len(first.Chunk),
	}
	if a.ownsThread(ctx, room, root) {
		info.OwnerID = a.self.String()
	}
	return info, nil
}

// FetchHistory implements platform.Client. The root message comes first,
// followed by every threaded reply in order.
func (a *Adapter) FetchHistory(ctx context.Context, thread platform.ThreadID) ([]platform.Message, error) {
	room, root, err := splitThreadID(thread)
	if err != nil {
		return nil, err
	}
	rootEvt, err := a.client.GetEvent(ctx, room, root)
	if err != nil {
		return nil, wrapErr("fetch thread root", err)
	}

	out := []platform.Message{convertEvent(rootEvt)}
	from := ""
	for {
		resp, err := a.client.GetRelations(ctx, room, root, &mautrix.ReqGetRelations{
			RelationType: event.RelThread,
			Dir:          mautrix.DirectionForward,
			From:         from,
			Limit:        relationsPage,
		})
		if err != nil {
			return nil, wrapErr("fetch thread replies", err)
		}
		for _, evt := range resp.Chunk {
			if evt.Type.Type != event.EventMessage.Type {
				continue
			}
			out = append(out, convertEvent(evt))
		}
		if resp.NextBatch == "" || len(resp.Chunk) == 0 {
			return out, nil
		}
		from = resp.NextBatch
	}
}

// GetMessage implements platform.Client.
func (a *Adapter) GetMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	evt, err := a.client.GetEvent(ctx, id.RoomID(channelID), id.EventID(messageID))
	if err != nil {
		return platform.Message{}, wrapErr("fetch message", err)
	}
	return convertEvent(evt), nil
}

// Send implements platform.Client.
func (a *Adapter) Send(ctx context.Context, thread platform.ThreadID, text string) (string, error) {
	room, root, err := splitThreadID(thread)
	if err != nil {
		return "", err
	}
	content := a.render.content(text)
	content.RelatesTo = (&event.RelatesTo{}).SetThread(root, root)

	resp, err := a.client.SendMessageEvent(ctx, room, event.EventMessage, content)
	if err != nil {
		return "", wrapErr("send message", err)
	}
	return resp.EventID.String(), nil
}

// Edit implements platform.Client by posting text and redacting the old
// message, so history fetched later never needs edit aggregation.
func (a *Adapter) Edit(ctx context.Context, thread platform.ThreadID, messageID, text string) error {
	room, _, err := splitThreadID(thread)
	if err != nil {
		return err
	}
	if _, err := a.Send(ctx, thread, text); err != nil {
		return err
	}
	if _, err := a.client.RedactEvent(ctx, room, id.EventID(messageID)); err != nil {
		a.logger.Warn("failed to redact replaced message", "event_id", messageID, "error", err)
	}
	return nil
}

// Typing implements platform.Client.
func (a *Adapter) Typing(ctx context.Context, thread platform.ThreadID) error {
	room, _, err := splitThreadID(thread)
	if err != nil {
		return err
	}
	_, err = a.client.UserTyping(ctx, room, true, typingTimeout)
	return err
}

// StartThread implements platform.Client. With no messageID a title card
// notice becomes the thread root.
func (a *Adapter) StartThread(ctx context.Context, channelID, messageID, title string) (platform.ThreadID, error) {
	room := id.RoomID(channelID)
	root := id.EventID(messageID)
	if root == "" {
		card := a.render.content("### " + title)
		card.MsgType = event.MsgNotice
		resp, err := a.client.SendMessageEvent(ctx, room, event.EventMessage, card)
		if err != nil {
			return "", wrapErr("post title card", err)
		}
		root = resp.EventID
	}
	a.owned.Store(root, true)
	return makeThreadID(room, root), nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, mautrix.MNotFound) {
		return fmt.Errorf("%s: %w: %w", op, platform.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// makeThreadID joins a room and thread root. Neither contains a '|'.
func makeThreadID(room id.RoomID, root id.EventID) platform.ThreadID {
	return platform.ThreadID(room.String() + "|" + root.String())
}

func splitThreadID(thread platform.ThreadID) (id.RoomID, id.EventID, error) {
	room, root, ok := strings.Cut(string(thread), "|")
	if !ok || room == "" || root == "" {
		return "", "", fmt.Errorf("malformed matrix thread id %q: %w", thread, platform.ErrNotFound)
	}
	return id.RoomID(room), id.EventID(root), nil
}

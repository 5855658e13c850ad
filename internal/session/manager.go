// ABOUTME: Lifecycle manager routing platform events into per-thread sessions
// ABOUTME: Creates or resumes sessions, queues turns, and delivers replies into threads

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HuMoN-Research-Lab/chatbot/internal/agent"
	"github.com/HuMoN-Research-Lab/chatbot/internal/events"
	"github.com/HuMoN-Research-Lab/chatbot/internal/memory"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
	"github.com/HuMoN-Research-Lab/chatbot/internal/store"
)

// maxEnqueueAttempts bounds retries when a session is evicted between
// lookup and enqueue.
const maxEnqueueAttempts = 3

// typingRefresh keeps the typing indicator alive during long model calls.
const typingRefresh = 8 * time.Second

// Archive records sessions and turns. It is never read on the live path.
type Archive interface {
	SaveSession(ctx context.Context, rec *store.SessionRecord) error
	SaveTurn(ctx context.Context, rec *store.TurnRecord) error
	CloseSession(ctx context.Context, id string, closedAt time.Time) error
}

// Publisher receives lifecycle events. Publish must not block.
type Publisher interface {
	Publish(ev events.Event)
}

// Policy holds the trigger rules and in-thread wording.
type Policy struct {
	// AllowedChannels restricts where chats may be started. Empty allows all.
	AllowedChannels []string
	// AdminUsers may start chats by reaction.
	AdminUsers []string
	// ReactionEmoji is the emoji that spawns a chat from a message.
	ReactionEmoji string
	// IgnorePrefix marks human messages the bot skips.
	IgnorePrefix string
	// NoticePrefix is prepended to every bot notice so reconstruction can
	// tell notices from replies.
	NoticePrefix string
	// ResumeNotice is posted after memory was rebuilt from history. Empty
	// disables it.
	ResumeNotice string
	// DefaultVariant is used for channels without a mapping.
	DefaultVariant agent.Variant
	// ChannelVariants maps a parent channel to an assistant variant.
	ChannelVariants map[string]agent.Variant
}

// Options configures a Manager.
type Options struct {
	Client        platform.Client
	Registry      *Registry
	Agents        *agent.Factory
	Reconstructor *memory.Reconstructor
	// Archive is optional.
	Archive Archive
	// Events receives lifecycle transitions. Optional.
	Events Publisher
	Policy Policy
	// ReconstructTimeout bounds history fetch and reconstruction.
	ReconstructTimeout time.Duration
	Logger             *slog.Logger
	Now                func() time.Time
}

// Event is one human message routed to a thread.
type Event struct {
	ThreadID platform.ThreadID
	// ChannelID is the parent channel, used for variant selection.
	ChannelID string
	// MessageID identifies the triggering platform message, if it was
	// already posted into the thread; it and anything after it are excluded
	// from reconstructed history.
	MessageID  string
	AuthorID   string
	AuthorName string
	Text       string
}

// Manager is the session lifecycle manager.
type Manager struct {
	client        platform.Client
	registry      *Registry
	agents        *agent.Factory
	reconstructor *memory.Reconstructor
	archive       Archive
	events        Publisher
	policy        Policy
	timeout       time.Duration
	logger        *slog.Logger
	now           func() time.Time

	allowed map[string]bool
	admins  map[string]bool

	// ctx outlives individual triggers; workers and factories run under it.
	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
}

// NewManager validates opts and creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, errors.New("session manager requires a platform client")
	}
	if opts.Registry == nil {
		return nil, errors.New("session manager requires a registry")
	}
	if opts.Agents == nil {
		return nil, errors.New("session manager requires an agent factory")
	}
	if opts.ReconstructTimeout <= 0 {
		return nil, errors.New("session manager requires a reconstruct timeout")
	}
	if opts.Reconstructor == nil {
		opts.Reconstructor = memory.NewReconstructor(memory.ReconstructorOptions{
			IgnorePrefix: opts.Policy.IgnorePrefix,
			NoticePrefix: opts.Policy.NoticePrefix,
			Estimator:    opts.Agents.Estimator(),
		})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !opts.Policy.DefaultVariant.Valid() {
		opts.Policy.DefaultVariant = agent.CourseAssistant
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		client:        opts.Client,
		registry:      opts.Registry,
		agents:        opts.Agents,
		reconstructor: opts.Reconstructor,
		archive:       opts.Archive,
		events:        opts.Events,
		policy:        opts.Policy,
		timeout:       opts.ReconstructTimeout,
		logger:        opts.Logger.With("component", "session-manager"),
		now:           opts.Now,
		allowed:       toSet(opts.Policy.AllowedChannels),
		admins:        toSet(opts.Policy.AdminUsers),
		ctx:           ctx,
		cancel:        cancel,
	}
	return m, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Registry returns the registry the manager operates on.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// OnTriggerEvent resolves or creates the session for ev.ThreadID and, if
// ev carries text, enqueues it as a human turn. The returned Pending is nil
// when there was nothing to enqueue.
func (m *Manager) OnTriggerEvent(ctx context.Context, ev Event) (*Pending, error) {
	_, p, err := m.dispatch(ctx, ev, false)
	return p, err
}

// dispatch is OnTriggerEvent with an optional requirement that this call
// create the session. When mustCreate is set and another caller created it,
// the existing session is returned with ErrDuplicateSpawn and nothing is
// enqueued.
func (m *Manager) dispatch(ctx context.Context, ev Event, mustCreate bool) (*Session, *Pending, error) {
	if ev.ThreadID == "" {
		return nil, nil, errors.New("event has no thread")
	}
	if m.ctx.Err() != nil {
		return nil, nil, ErrManagerStopped
	}

	for attempt := 1; ; attempt++ {
		s, created, err := m.registry.GetOrCreate(ctx, ev.ThreadID, m.factory(ev))
		if err != nil {
			if s != nil {
				// Created while shutting down; it was archived and announced.
				m.archiveClose(context.WithoutCancel(ctx), s, m.now())
				m.publish(events.SessionClosed, s, "shutdown")
			}
			return nil, nil, err
		}
		if mustCreate && !created {
			return s, nil, ErrDuplicateSpawn
		}
		if ev.Text == "" {
			return s, nil, nil
		}

		p := newPending(ev.Text, ev.AuthorID, ev.AuthorName, m.now())
		err = s.enqueue(p)
		if err == nil {
			m.logger.Debug("turn queued",
				"thread_id", ev.ThreadID,
				"session_id", s.ID,
				"author", ev.AuthorName,
			)
			return s, p, nil
		}
		if !errors.Is(err, ErrSessionClosed) || attempt >= maxEnqueueAttempts {
			return nil, nil, err
		}
		// Evicted between lookup and enqueue; the next GetOrCreate rebuilds it.
		mustCreate = false
		m.logger.Debug("session closed during enqueue, retrying", "thread_id", ev.ThreadID, "attempt", attempt)
	}
}

// factory builds the session for ev's thread. History problems never fail
// it: the session starts empty instead.
func (m *Manager) factory(ev Event) Factory {
	return func(ctx context.Context) (*Session, error) {
		handle := m.agents.New(m.variantFor(ev.ChannelID))
		logger := m.logger.With("thread_id", ev.ThreadID)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		turns, resumable, err := m.reconstruct(rctx, ev, handle.Budget())
		cancel()

		origin := StateInitializing
		switch {
		case err != nil:
			logger.Warn("history unavailable, starting empty session", "error", err)
			turns = nil
		case resumable:
			origin = StateResuming
		}

		if err := handle.LoadHistory(turns); err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}

		s := newSession(ev.ThreadID, ev.ChannelID, handle, origin, m.now)
		s.activate()
		s.start(m.ctx, m.processTurn)

		logger.Info("session created",
			"session_id", s.ID,
			"origin", origin,
			"variant", handle.Variant(),
			"turns", len(turns),
		)

		m.archiveSession(s)
		m.publish(events.SessionCreated, s, origin.String())
		if origin == StateResuming && m.policy.ResumeNotice != "" {
			if _, err := m.client.Send(m.ctx, ev.ThreadID, m.notice(m.policy.ResumeNotice)); err != nil {
				logger.Warn("failed to post resume notice", "error", err)
			}
		}
		return s, nil
	}
}

// reconstruct fetches thread history and rebuilds memory. resumable reports
// whether the thread had conversation before the triggering message; the
// platform's message count includes the trigger itself.
func (m *Manager) reconstruct(ctx context.Context, ev Event, budget int) ([]memory.Turn, bool, error) {
	info, err := m.client.ThreadInfo(ctx, ev.ThreadID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: thread info: %w", memory.ErrHistoryUnavailable, err)
	}
	if info.MessageCount == 0 {
		return nil, false, nil
	}

	history, err := m.client.FetchHistory(ctx, ev.ThreadID)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %w", memory.ErrHistoryUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, true, fmt.Errorf("%w: %w", memory.ErrHistoryUnavailable, err)
	}

	history = before(history, ev.MessageID)
	if !slices.ContainsFunc(history, isConversation) {
		return nil, false, nil
	}
	turns, err := m.reconstructor.Reconstruct(history, m.client.SelfID(), budget)
	if err != nil {
		return nil, true, err
	}
	return turns, true, nil
}

// before returns the messages preceding messageID. If messageID is empty or
// absent, history is returned whole.
func before(history []platform.Message, messageID string) []platform.Message {
	if messageID == "" {
		return history
	}
	for i, msg := range history {
		if msg.ID == messageID {
			return history[:i]
		}
	}
	return history
}

// isConversation reports whether msg carries text someone wrote, as opposed
// to a platform event or an empty title card.
func isConversation(msg platform.Message) bool {
	return msg.Kind == platform.KindDefault && strings.TrimSpace(msg.Content) != ""
}

func (m *Manager) variantFor(channelID string) agent.Variant {
	if v, ok := m.policy.ChannelVariants[channelID]; ok && v.Valid() {
		return v
	}
	return m.policy.DefaultVariant
}

// processTurn runs one queued turn on the session worker.
func (m *Manager) processTurn(ctx context.Context, s *Session, p *Pending) {
	logger := m.logger.With("thread_id", s.ThreadID, "session_id", s.ID)

	placeholderID, err := m.client.Send(ctx, s.ThreadID, m.notice("Awaiting bot response..."))
	if err != nil {
		logger.Warn("failed to post placeholder", "error", err)
		placeholderID = ""
	}

	stopTyping := m.keepTyping(ctx, s.ThreadID, logger)
	start := m.now()
	reply, err := s.Agent().Process(ctx, p.Text)
	stopTyping()

	if err != nil {
		logger.Error("turn failed", "error", err, "duration", m.now().Sub(start))
		m.deliver(ctx, s.ThreadID, placeholderID, m.errorNotice(err), logger)
		m.publish(events.TurnFailed, s, err.Error())
		p.resolve("", err)
		return
	}

	logger.Info("turn completed", "duration", m.now().Sub(start), "reply_len", len(reply))
	m.deliver(ctx, s.ThreadID, placeholderID, reply, logger)
	m.archiveTurns(s, p, reply)
	m.publish(events.TurnCompleted, s, p.AuthorName)
	p.resolve(reply, nil)
}

// keepTyping shows the typing indicator until the returned func is called.
func (m *Manager) keepTyping(ctx context.Context, threadID platform.ThreadID, logger *slog.Logger) func() {
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(typingRefresh)
		defer ticker.Stop()
		for {
			if err := m.client.Typing(tctx, threadID); err != nil && tctx.Err() == nil {
				logger.Debug("typing indicator failed", "error", err)
			}
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// deliver replaces the placeholder with text, or posts text when there is
// no placeholder or the edit fails.
func (m *Manager) deliver(ctx context.Context, threadID platform.ThreadID, placeholderID, text string, logger *slog.Logger) {
	if placeholderID != "" {
		err := m.client.Edit(ctx, threadID, placeholderID, text)
		if err == nil {
			return
		}
		if errors.Is(err, platform.ErrPartialDelivery) {
			logger.Warn("reply truncated", "error", err)
			return
		}
		logger.Warn("failed to edit placeholder, sending instead", "error", err)
	}
	if _, err := m.client.Send(ctx, threadID, text); err != nil {
		logger.Error("failed to deliver message", "error", err)
	}
}

func (m *Manager) notice(text string) string {
	if m.policy.NoticePrefix == "" {
		return text
	}
	return m.policy.NoticePrefix + " " + text
}

func (m *Manager) errorNotice(err error) string {
	return m.notice(fmt.Sprintf("Oh no, something went wrong!\n```\n%v\n```", err))
}

func (m *Manager) archiveSession(s *Session) {
	if m.archive == nil {
		return
	}
	rec := &store.SessionRecord{
		ID:        s.ID,
		ThreadID:  string(s.ThreadID),
		Platform:  m.client.Name(),
		ChannelID: s.ChannelID,
		Variant:   s.Agent().Variant().String(),
		Origin:    s.Origin.String(),
		CreatedAt: s.CreatedAt,
	}
	if err := m.archive.SaveSession(m.ctx, rec); err != nil {
		m.logger.Warn("failed to archive session", "session_id", s.ID, "error", err)
	}
}

func (m *Manager) archiveTurns(s *Session, p *Pending, reply string) {
	if m.archive == nil {
		return
	}
	mem := s.Agent().Memory()
	if len(mem) < 2 {
		return
	}
	human, agentTurn := mem[len(mem)-2], mem[len(mem)-1]
	records := []*store.TurnRecord{
		{ID: uuid.New().String(), SessionID: s.ID, ThreadID: string(s.ThreadID), Role: store.TurnRoleHuman, Author: p.AuthorName, Text: p.Text, CreatedAt: human.Timestamp},
		{ID: uuid.New().String(), SessionID: s.ID, ThreadID: string(s.ThreadID), Role: store.TurnRoleAgent, Text: reply, CreatedAt: agentTurn.Timestamp},
	}
	for _, rec := range records {
		if err := m.archive.SaveTurn(m.ctx, rec); err != nil {
			m.logger.Warn("failed to archive turn", "session_id", s.ID, "error", err)
			return
		}
	}
}

func (m *Manager) publish(kind events.Kind, s *Session, detail string) {
	if m.events == nil {
		return
	}
	m.events.Publish(events.Event{
		Kind:      kind,
		ThreadID:  string(s.ThreadID),
		SessionID: s.ID,
		Detail:    detail,
		At:        m.now(),
	})
}

func (m *Manager) archiveClose(ctx context.Context, s *Session, at time.Time) {
	if m.archive == nil {
		return
	}
	if err := m.archive.CloseSession(ctx, s.ID, at); err != nil {
		m.logger.Warn("failed to archive session close", "session_id", s.ID, "error", err)
	}
}

// EvictIdle closes every session idle for at least threshold and returns
// how many were evicted.
func (m *Manager) EvictIdle(threshold time.Duration) int {
	now := m.now()
	evicted := m.registry.EvictIdle(now, threshold)
	for _, s := range evicted {
		m.logger.Info("session evicted", "thread_id", s.ThreadID, "session_id", s.ID, "idle", now.Sub(s.LastActivityAt()))
		m.archiveClose(m.ctx, s, now)
		m.publish(events.SessionClosed, s, "idle")
	}
	return len(evicted)
}

// Shutdown closes every session and waits for their workers to finish the
// turn in flight. If ctx expires first, in-flight model calls are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.shutdownOnce.Do(func() {
		sessions := m.registry.CloseAll()
		m.logger.Info("shutting down sessions", "count", len(sessions))

		for _, s := range sessions {
			select {
			case <-s.Done():
			case <-ctx.Done():
				err = ctx.Err()
			}
			if err != nil {
				break
			}
		}
		m.cancel()

		now := m.now()
		actx := context.WithoutCancel(ctx)
		for _, s := range sessions {
			<-s.Done()
			m.archiveClose(actx, s, now)
			m.publish(events.SessionClosed, s, "shutdown")
		}
	})
	return err
}

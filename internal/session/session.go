// ABOUTME: Session binds a platform thread to an agent handle with a FIFO turn queue
// ABOUTME: One worker goroutine per session processes turns strictly in acceptance order

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HuMoN-Research-Lab/chatbot/internal/agent"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateInitializing State = iota + 1
	StateResuming
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateResuming:
		return "resuming"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// turnFunc processes one queued turn.
type turnFunc func(ctx context.Context, s *Session, p *Pending)

// Session is a live conversation in one thread. Sessions are created by the
// Manager and owned by the Registry.
type Session struct {
	ID        string
	ThreadID  platform.ThreadID
	ChannelID string
	// Origin is StateInitializing for a fresh thread and StateResuming when
	// memory was rebuilt from history. It never changes.
	Origin    State
	CreatedAt time.Time

	agent *agent.Handle
	now   func() time.Time

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	queue        []*Pending
	inFlight     bool
	closed       bool

	wake chan struct{}
	done chan struct{}
}

func newSession(threadID platform.ThreadID, channelID string, handle *agent.Handle, origin State, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	created := now()
	return &Session{
		ID:           uuid.New().String(),
		ThreadID:     threadID,
		ChannelID:    channelID,
		Origin:       origin,
		CreatedAt:    created,
		agent:        handle,
		now:          now,
		state:        origin,
		lastActivity: created,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Agent returns the session's agent handle.
func (s *Session) Agent() *agent.Handle {
	return s.agent
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivityAt returns when a turn was last accepted or completed.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Done is closed once the worker has exited after Close.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// activate marks reconstruction complete.
func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.state = StateActive
	}
}

// start launches the worker. It must be called exactly once.
func (s *Session) start(ctx context.Context, process turnFunc) {
	go s.run(ctx, process)
}

// enqueue appends p to the turn queue.
func (s *Session) enqueue(p *Pending) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.queue = append(s.queue, p)
	s.lastActivity = s.now()
	s.mu.Unlock()

	s.signal()
	return nil
}

// Close stops accepting turns. A turn already in flight completes; turns
// still queued are failed with ErrSessionClosed. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	s.mu.Unlock()

	s.signal()
}

// closeIfIdle closes the session when nothing is queued or in flight and
// the last activity is at least threshold before now.
func (s *Session) closeIfIdle(now time.Time, threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.inFlight || len(s.queue) > 0 {
		return false
	}
	if now.Sub(s.lastActivity) < threshold {
		return false
	}
	s.closed = true
	s.state = StateClosed
	s.signal()
	return true
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) run(ctx context.Context, process turnFunc) {
	defer close(s.done)
	for {
		p, ok := s.next(ctx)
		if !ok {
			return
		}
		process(ctx, s, p)
		s.finish()
	}
}

// next blocks until a turn is queued or the session is closed. A cancelled
// ctx closes the session.
func (s *Session) next(ctx context.Context) (*Pending, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			rest := s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, p := range rest {
				p.resolve("", ErrSessionClosed)
			}
			return nil, false
		}
		if len(s.queue) > 0 {
			p := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.inFlight = true
			s.mu.Unlock()
			return p, true
		}
		s.mu.Unlock()
		select {
		case <-s.wake:
		case <-ctx.Done():
			s.Close()
		}
	}
}

func (s *Session) finish() {
	s.mu.Lock()
	s.inFlight = false
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// Info is a read-only view of a session for status reporting.
type Info struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id"`
	ChannelID      string    `json:"channel_id,omitempty"`
	Variant        string    `json:"variant"`
	State          string    `json:"state"`
	Origin         string    `json:"origin"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Queued         int       `json:"queued"`
	Busy           bool      `json:"busy"`
	Turns          int       `json:"turns"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	info := Info{
		ID:             s.ID,
		ThreadID:       string(s.ThreadID),
		ChannelID:      s.ChannelID,
		State:          s.state.String(),
		Origin:         s.Origin.String(),
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.lastActivity,
		Queued:         len(s.queue),
		Busy:           s.inFlight,
	}
	s.mu.Unlock()

	if s.agent != nil {
		info.Variant = s.agent.Variant().String()
		info.Turns = len(s.agent.Memory())
	}
	return info
}

// Pending is a human turn accepted onto a session queue.
type Pending struct {
	Text       string
	AuthorID   string
	AuthorName string
	AcceptedAt time.Time

	done  chan struct{}
	reply string
	err   error
}

func newPending(text, authorID, authorName string, at time.Time) *Pending {
	return &Pending{
		Text:       text,
		AuthorID:   authorID,
		AuthorName: authorName,
		AcceptedAt: at,
		done:       make(chan struct{}),
	}
}

func (p *Pending) resolve(reply string, err error) {
	p.reply = reply
	p.err = err
	close(p.done)
}

// Done is closed when the turn has been processed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the turn is processed and returns the agent's reply or
// the error that prevented one.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.reply, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

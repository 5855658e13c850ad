// ABOUTME: Registry maps conversation threads to their single live session
// ABOUTME: GetOrCreate collapses concurrent creations for one thread into a single factory call

package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

// Factory builds the session for a thread. It runs at most once per
// concurrent GetOrCreate burst and must return a fully initialised session.
type Factory func(ctx context.Context) (*Session, error)

// Registry holds at most one live Session per thread.
type Registry struct {
	mu       sync.Mutex
	sessions map[platform.ThreadID]*Session
	inflight singleflight.Group
	logger   *slog.Logger
	// closed is set by CloseAll; no session is inserted afterwards.
	closed bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[platform.ThreadID]*Session),
		logger:   logger.With("component", "registry"),
	}
}

// Get returns the live session for threadID.
func (r *Registry) Get(threadID platform.ThreadID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[threadID]
	return s, ok
}

// GetOrCreate returns the live session for threadID, calling factory to
// create one if none exists. Callers racing on the same thread share one
// factory call and its result; only the caller whose factory call inserted
// the session sees wasCreated. A factory error is returned to every racing
// caller and nothing is inserted.
//
// After CloseAll, GetOrCreate fails with ErrManagerStopped. A session whose
// factory finishes after CloseAll is closed instead of inserted, and only
// the caller that ran the factory gets it back, alongside the error, so it
// can release it.
func (r *Registry) GetOrCreate(ctx context.Context, threadID platform.ThreadID, factory Factory) (s *Session, wasCreated bool, err error) {
	r.mu.Lock()
	s, ok := r.sessions[threadID]
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, false, ErrManagerStopped
	}
	if ok {
		return s, false, nil
	}

	created, discarded := false, false
	v, err, _ := r.inflight.Do(string(threadID), func() (any, error) {
		// A previous flight may have inserted between Get and Do.
		if s, ok := r.Get(threadID); ok {
			return s, nil
		}

		s, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			s.Close()
			discarded = true
			r.logger.Debug("registry closed during session creation", "thread_id", threadID, "session_id", s.ID)
			return s, ErrManagerStopped
		}
		r.sessions[threadID] = s
		count := len(r.sessions)
		r.mu.Unlock()

		created = true
		r.logger.Debug("session registered",
			"thread_id", threadID,
			"session_id", s.ID,
			"origin", s.Origin,
			"live_sessions", count,
		)
		return s, nil
	})
	if err != nil {
		if discarded {
			return v.(*Session), false, err
		}
		return nil, false, err
	}
	return v.(*Session), created, nil
}

// Remove closes and removes the session for threadID, if any.
func (r *Registry) Remove(threadID platform.ThreadID) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[threadID]
	if ok {
		delete(r.sessions, threadID)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return s, ok
}

// EvictIdle closes and removes every session idle for at least threshold
// at now. Sessions with queued or in-flight turns are kept.
func (r *Registry) EvictIdle(now time.Time, threshold time.Duration) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*Session
	for id, s := range r.sessions {
		if s.closeIfIdle(now, threshold) {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	return evicted
}

// CloseAll closes and removes every session and stops the registry from
// accepting new ones.
func (r *Registry) CloseAll() []*Session {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return all
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns status views of the live sessions, oldest first.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(live))
	for _, s := range live {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord // keyed by session ID
	turns    map[string][]*TurnRecord  // keyed by session ID
	closed   bool
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]*SessionRecord),
		turns:    make(map[string][]*TurnRecord),
	}
}

func copySession(rec *SessionRecord) *SessionRecord {
	c := *rec
	if rec.ClosedAt != nil {
		closedAt := *rec.ClosedAt
		c.ClosedAt = &closedAt
	}
	return &c
}

// SaveSession stores a new session.
func (m *MockStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[rec.ID]; ok {
		return ErrDuplicateSession
	}
	m.sessions[rec.ID] = copySession(rec)
	return nil
}

// CloseSession stamps the close time of a session.
func (m *MockStore) CloseSession(ctx context.Context, id string, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	rec.ClosedAt = &closedAt
	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(rec), nil
}

// ListSessions returns sessions newest first.
func (m *MockStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*SessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		sessions = append(sessions, copySession(rec))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// ListThreadSessions returns a thread's sessions oldest first.
func (m *MockStore) ListThreadSessions(ctx context.Context, threadID string) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*SessionRecord
	for _, rec := range m.sessions {
		if rec.ThreadID == threadID {
			sessions = append(sessions, copySession(rec))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// SaveTurn appends a turn to its session.
func (m *MockStore) SaveTurn(ctx context.Context, rec *TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[rec.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", rec.SessionID, ErrNotFound)
	}
	c := *rec
	m.turns[rec.SessionID] = append(m.turns[rec.SessionID], &c)
	return nil
}

// GetSessionTurns returns a session's turns in save order, limited to the
// most recent limit when limit > 0.
func (m *MockStore) GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.turns[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	result := make([]*TurnRecord, len(turns))
	for i, t := range turns {
		c := *t
		result[i] = &c
	}
	return result, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

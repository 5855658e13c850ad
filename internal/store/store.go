// ABOUTME: Store interface and record types for the session archive
// ABOUTME: Defines SessionRecord, TurnRecord and the operations the gateway and CLI use

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a session ID is archived twice
var ErrDuplicateSession = errors.New("session already exists")

// Turn roles as stored in the archive
const (
	TurnRoleHuman = "human"
	TurnRoleAgent = "agent"
)

// SessionRecord is the archived form of one live session
type SessionRecord struct {
	ID        string
	ThreadID  string
	Platform  string // "discord" or "matrix"
	ChannelID string // parent channel or room of the thread
	Variant   string // assistant variant name
	Origin    string // "initializing" or "resuming"
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// TurnRecord is one archived message of a session
type TurnRecord struct {
	ID        string
	SessionID string
	ThreadID  string
	Role      string // TurnRoleHuman or TurnRoleAgent
	Author    string // display name for human turns
	Text      string
	CreatedAt time.Time
}

// Store defines the archive operations
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, rec *SessionRecord) error
	CloseSession(ctx context.Context, id string, closedAt time.Time) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error)
	ListThreadSessions(ctx context.Context, threadID string) ([]*SessionRecord, error)

	// Turns
	SaveTurn(ctx context.Context, rec *TurnRecord) error
	GetSessionTurns(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error)

	// Close releases any resources held by the store
	Close() error
}

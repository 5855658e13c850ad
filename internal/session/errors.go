// ABOUTME: Sentinel errors for session lifecycle failures
// ABOUTME: Callers match them with errors.Is

package session

import "errors"

var (
	// ErrDuplicateSpawn is returned by Spawn when the target thread already
	// has a live session. It is informational: the existing session is
	// returned alongside it.
	ErrDuplicateSpawn = errors.New("duplicate spawn attempt")

	// ErrUnauthorizedTrigger is returned when a trigger comes from a user
	// who may not start sessions that way.
	ErrUnauthorizedTrigger = errors.New("unauthorized trigger")

	// ErrChannelNotAllowed is returned when a chat is requested outside the
	// configured channels.
	ErrChannelNotAllowed = errors.New("channel not allowed")

	// ErrSessionClosed is returned when a turn is enqueued on a session that
	// was closed concurrently.
	ErrSessionClosed = errors.New("session closed")

	// ErrManagerStopped is returned for events arriving after Shutdown.
	ErrManagerStopped = errors.New("session manager stopped")
)

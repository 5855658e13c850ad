// ABOUTME: Turn and Role types for conversation memory
// ABOUTME: A Turn is one human or agent message unit in a thread's ordered history

package memory

import (
	"errors"
	"time"
)

// ErrHistoryUnavailable is returned when a thread's history cannot be fetched,
// does not arrive in time, or is malformed. Callers degrade to an empty memory.
var ErrHistoryUnavailable = errors.New("history unavailable")

// Role is the author class of a Turn.
type Role int

const (
	// RoleHuman marks a turn written by a person.
	RoleHuman Role = iota + 1
	// RoleAgent marks a turn written by the bot.
	RoleAgent
)

func (r Role) String() string {
	switch r {
	case RoleHuman:
		return "human"
	case RoleAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// Turn is one exchange unit in a conversation.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// NewHumanTurn returns a human turn stamped at the given time.
func NewHumanTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleHuman, Text: text, Timestamp: at}
}

// NewAgentTurn returns an agent turn stamped at the given time.
func NewAgentTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleAgent, Text: text, Timestamp: at}
}

// Clone returns a copy of turns that shares no backing array with the input.
func Clone(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

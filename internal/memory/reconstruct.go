// ABOUTME: Rebuilds an agent's conversation memory from a thread's platform history
// ABOUTME: Filters platform noise, classifies authorship, preserves order, truncates to budget

package memory

import (
	"fmt"
	"strings"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

// ReconstructorOptions configures which messages count as conversation turns.
type ReconstructorOptions struct {
	// IgnorePrefix marks human messages the bot was told to ignore ("~").
	IgnorePrefix string
	// NoticePrefix marks bot status notices (placeholders, error and reload
	// notices) that were never part of the conversation.
	NoticePrefix string
	// Estimator defaults to CharEstimator.
	Estimator Estimator
}

// Reconstructor turns a HistorySnapshot into an ordered sequence of Turns.
type Reconstructor struct {
	ignorePrefix string
	noticePrefix string
	estimator    Estimator
}

// NewReconstructor creates a Reconstructor.
func NewReconstructor(opts ReconstructorOptions) *Reconstructor {
	est := opts.Estimator
	if est == nil {
		est = CharEstimator{}
	}
	return &Reconstructor{
		ignorePrefix: opts.IgnorePrefix,
		noticePrefix: opts.NoticePrefix,
		estimator:    est,
	}
}

// Estimator returns the estimator used for truncation.
func (r *Reconstructor) Estimator() Estimator {
	return r.estimator
}

// Reconstruct classifies each message of history as a Human or Agent turn by
// comparing its author with selfID, in platform order, and keeps the most
// recent whole turns that fit budget estimated tokens (budget <= 0 keeps all).
//
// Returned timestamps are non-decreasing: a message stamped earlier than its
// predecessor (federation clock skew) inherits the predecessor's timestamp,
// since platform order is the only ordering signal.
func (r *Reconstructor) Reconstruct(history []platform.Message, selfID string, budget int) ([]Turn, error) {
	if selfID == "" {
		return nil, fmt.Errorf("%w: bot identity is empty", ErrHistoryUnavailable)
	}

	turns := make([]Turn, 0, len(history))
	for i, msg := range history {
		if msg.AuthorID == "" || msg.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: malformed message at position %d (id %q)", ErrHistoryUnavailable, i, msg.ID)
		}

		role, ok := r.classify(msg, selfID)
		if !ok {
			continue
		}

		ts := msg.Timestamp
		if n := len(turns); n > 0 && ts.Before(turns[n-1].Timestamp) {
			ts = turns[n-1].Timestamp
		}
		turns = append(turns, Turn{Role: role, Text: msg.Content, Timestamp: ts})
	}

	return Truncate(r.estimator, turns, budget), nil
}

// classify reports the role of msg, or false if msg is not a conversation turn.
func (r *Reconstructor) classify(msg platform.Message, selfID string) (Role, bool) {
	if msg.Kind != platform.KindDefault {
		return 0, false
	}
	if strings.TrimSpace(msg.Content) == "" {
		return 0, false
	}

	if msg.AuthorID == selfID {
		if r.noticePrefix != "" && strings.HasPrefix(msg.Content, r.noticePrefix) {
			return 0, false
		}
		return RoleAgent, true
	}

	// Other bots and webhooks are neither the human nor us.
	if msg.AuthorBot {
		return 0, false
	}
	if r.ignorePrefix != "" && strings.HasPrefix(msg.Content, r.ignorePrefix) {
		return 0, false
	}
	return RoleHuman, true
}

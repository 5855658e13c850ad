// ABOUTME: Tests for history reconstruction and truncation
// ABOUTME: Covers fidelity, filtering, ordering, idempotence and budget handling

package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
)

const (
	botID   = "bot-1"
	humanID = "human-1"
)

var baseTime = time.Date(2023, 5, 8, 12, 0, 0, 0, time.UTC)

func msg(author string, text string, offset int) platform.Message {
	return platform.Message{
		ID:        fmt.Sprintf("m%d", offset),
		AuthorID:  author,
		Content:   text,
		Timestamp: baseTime.Add(time.Duration(offset) * time.Second),
	}
}

func newTestReconstructor() *Reconstructor {
	return NewReconstructor(ReconstructorOptions{IgnorePrefix: "~", NoticePrefix: "> 🤖"})
}

// toMessages feeds turns back through the platform message model.
func toMessages(turns []Turn) []platform.Message {
	out := make([]platform.Message, len(turns))
	for i, t := range turns {
		author := humanID
		if t.Role == RoleAgent {
			author = botID
		}
		out[i] = platform.Message{ID: fmt.Sprintf("r%d", i), AuthorID: author, Content: t.Text, Timestamp: t.Timestamp}
	}
	return out
}

func TestReconstruct_ExampleThread(t *testing.T) {
	history := []platform.Message{
		msg(humanID, "hi", 0),
		msg(botID, "hello!", 1),
		msg(humanID, "what's this course about?", 2),
	}

	turns, err := newTestReconstructor().Reconstruct(history, botID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	assert.Equal(t, Turn{Role: RoleHuman, Text: "hi", Timestamp: baseTime}, turns[0])
	assert.Equal(t, RoleAgent, turns[1].Role)
	assert.Equal(t, "hello!", turns[1].Text)
	assert.Equal(t, RoleHuman, turns[2].Role)
	assert.Equal(t, "what's this course about?", turns[2].Text)
}

func TestReconstruct_AlternatingFidelityAndIdempotence(t *testing.T) {
	for _, k := range []int{0, 1, 2, 7, 50} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			history := make([]platform.Message, k)
			for i := range history {
				author := humanID
				if i%2 == 1 {
					author = botID
				}
				history[i] = msg(author, fmt.Sprintf("message %d", i), i)
			}

			r := newTestReconstructor()
			turns, err := r.Reconstruct(history, botID, 0)
			require.NoError(t, err)
			require.Len(t, turns, k)

			for i, turn := range turns {
				want := RoleHuman
				if i%2 == 1 {
					want = RoleAgent
				}
				assert.Equal(t, want, turn.Role, "turn %d", i)
				if i > 0 {
					assert.False(t, turn.Timestamp.Before(turns[i-1].Timestamp), "timestamps must not decrease")
				}
			}

			again, err := r.Reconstruct(toMessages(turns), botID, 0)
			require.NoError(t, err)
			assert.Equal(t, turns, again)
		})
	}
}

func TestReconstruct_FiltersNonConversationMessages(t *testing.T) {
	history := []platform.Message{
		msg(humanID, "hi", 0),
		{ID: "sys", AuthorID: "system", Kind: platform.KindSystem, Content: "human-1 joined the thread", Timestamp: baseTime.Add(time.Second)},
		{ID: "other-bot", AuthorID: "bot-2", AuthorBot: true, Content: "I am another bot", Timestamp: baseTime.Add(2 * time.Second)},
		msg(humanID, "~ side note, ignore me", 3),
		msg(botID, "> 🤖 Awaiting bot response...", 4),
		msg(botID, "hello there", 5),
		msg(humanID, "   ", 6),
	}

	turns, err := newTestReconstructor().Reconstruct(history, botID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].Text)
	assert.Equal(t, "hello there", turns[1].Text)
	assert.Equal(t, RoleAgent, turns[1].Role)
}

func TestReconstruct_KeepsMultilineMessageVerbatim(t *testing.T) {
	text := "line one\nline two\n\n```go\nfmt.Println(1)\n```"
	turns, err := newTestReconstructor().Reconstruct([]platform.Message{
		msg(humanID, text, 0),
		msg(humanID, "second message", 1),
	}, botID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 2, "consecutive messages from the same author are not merged")
	assert.Equal(t, text, turns[0].Text)
}

func TestReconstruct_PreservesPlatformOrderUnderClockSkew(t *testing.T) {
	history := []platform.Message{
		msg(humanID, "first", 10),
		msg(botID, "second", 5),
		msg(humanID, "third", 11),
	}

	turns, err := newTestReconstructor().Reconstruct(history, botID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{turns[0].Text, turns[1].Text, turns[2].Text})
	assert.Equal(t, turns[0].Timestamp, turns[1].Timestamp)
}

func TestReconstruct_MalformedHistory(t *testing.T) {
	r := newTestReconstructor()

	_, err := r.Reconstruct([]platform.Message{{ID: "x", Content: "no author", Timestamp: baseTime}}, botID, 0)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	_, err = r.Reconstruct([]platform.Message{{ID: "y", AuthorID: humanID, Content: "no time"}}, botID, 0)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	_, err = r.Reconstruct(nil, "", 0)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestReconstruct_TruncatesToBudget(t *testing.T) {
	var history []platform.Message
	for i := 0; i < 20; i++ {
		author := humanID
		if i%2 == 1 {
			author = botID
		}
		// 40 runes each -> 10 tokens per turn
		history = append(history, msg(author, fmt.Sprintf("%02d", i)+strings.Repeat("x", 38), i))
	}

	r := newTestReconstructor()
	for _, budget := range []int{5, 10, 35, 100, 199, 200, 1000} {
		t.Run(fmt.Sprintf("budget=%d", budget), func(t *testing.T) {
			turns, err := r.Reconstruct(history, botID, budget)
			require.NoError(t, err)

			assert.LessOrEqual(t, EstimateTurns(r.Estimator(), turns), budget)

			wantKept := budget / 10
			if wantKept > len(history) {
				wantKept = len(history)
			}
			require.Len(t, turns, wantKept)

			// Retained turns are exactly the most recent ones, unsplit.
			offset := len(history) - wantKept
			for i, turn := range turns {
				assert.Equal(t, history[offset+i].Content, turn.Text)
				assert.Equal(t, history[offset+i].Timestamp, turn.Timestamp)
			}
		})
	}
}

func TestTruncate_OversizedNewestTurnIsDropped(t *testing.T) {
	turns := []Turn{
		NewHumanTurn("short", baseTime),
		NewAgentTurn(strings.Repeat("y", 400), baseTime),
	}
	kept := Truncate(CharEstimator{}, turns, 50)
	assert.Empty(t, kept)
}

func TestCharEstimator(t *testing.T) {
	est := CharEstimator{}
	assert.Equal(t, 1, est.EstimateTurn(Turn{Text: ""}))
	assert.Equal(t, 1, est.EstimateTurn(Turn{Text: "abcd"}))
	assert.Equal(t, 2, est.EstimateTurn(Turn{Text: "abcde"}))
	assert.Equal(t, 1, est.EstimateTurn(Turn{Text: "🧠🧠🧠"}), "estimates count runes, not bytes")
}

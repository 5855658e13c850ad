// ABOUTME: Per-session agent handle owning the conversation memory buffer
// ABOUTME: Forwards human turns with prior memory to the model and records successful exchanges

package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HuMoN-Research-Lab/chatbot/internal/llm"
	"github.com/HuMoN-Research-Lab/chatbot/internal/memory"
)

// ErrHistoryAlreadyLoaded is returned when LoadHistory is called twice or
// after the first Process.
var ErrHistoryAlreadyLoaded = errors.New("history already loaded")

// Handle is one session's conversational agent. It is created by a Factory.
type Handle struct {
	variant   Variant
	provider  llm.Provider
	model     string
	prompt    string
	maxTokens int
	temp      float64
	budget    int
	estimator memory.Estimator
	now       func() time.Time

	mu     sync.Mutex
	turns  []memory.Turn
	sealed bool
}

// Variant returns the behavior this handle was created with.
func (h *Handle) Variant() Variant {
	return h.variant
}

// Budget returns the token budget applied to prior turns.
func (h *Handle) Budget() int {
	return h.budget
}

// LoadHistory seeds the memory buffer with reconstructed turns.
func (h *Handle) LoadHistory(turns []memory.Turn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sealed {
		return ErrHistoryAlreadyLoaded
	}
	h.sealed = true
	h.turns = memory.Clone(turns)
	return nil
}

// Memory returns a copy of the memory buffer.
func (h *Handle) Memory() []memory.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return memory.Clone(h.turns)
}

// Process sends humanText, preceded by the most recent prior turns that fit
// the budget, to the model. On success the human and agent turns are
// appended to memory. On failure memory is unchanged and the provider's
// error is returned as is.
func (h *Handle) Process(ctx context.Context, humanText string) (string, error) {
	h.mu.Lock()
	h.sealed = true
	received := h.now()
	prior := h.window(humanText)
	h.mu.Unlock()

	messages := make([]llm.Message, 0, len(prior)+1)
	for _, t := range prior {
		role := llm.RoleUser
		if t.Role == memory.RoleAgent {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: humanText})

	resp, err := h.provider.Complete(ctx, llm.Request{
		Model:        h.model,
		SystemPrompt: h.prompt,
		Messages:     messages,
		MaxTokens:    h.maxTokens,
		Temperature:  h.temp,
	})
	if err != nil {
		return "", err
	}

	replied := h.now()
	if replied.Before(received) {
		replied = received
	}

	h.mu.Lock()
	h.turns = append(h.turns, memory.NewHumanTurn(humanText, received), memory.NewAgentTurn(resp.Text, replied))
	h.mu.Unlock()

	return resp.Text, nil
}

// window returns the most recent turns that fit the budget alongside
// humanText. A non-positive budget sends everything. Callers hold h.mu.
func (h *Handle) window(humanText string) []memory.Turn {
	if h.budget <= 0 {
		return memory.Clone(h.turns)
	}
	remaining := h.budget - h.estimator.EstimateTurn(memory.Turn{Text: humanText})
	if remaining <= 0 {
		return nil
	}
	return memory.Clone(memory.Truncate(h.estimator, h.turns, remaining))
}

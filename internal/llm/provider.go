// ABOUTME: Model exchange interface and shared request/response types
// ABOUTME: Providers map vendor failures onto ErrUpstreamUnavailable and ErrRateLimited

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUpstreamUnavailable is returned when the model API cannot be reached or
// answers with an error.
var ErrUpstreamUnavailable = errors.New("upstream model unavailable")

// ErrRateLimited is returned when the model API rejects the call for quota
// or rate reasons.
var ErrRateLimited = errors.New("rate limited")

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single prior or new message sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is one model exchange.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the model's reply.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Provider performs a model exchange. Implementations do not retry.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Model) == "" {
		return errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	if req.MaxTokens <= 0 {
		return errors.New("max tokens must be greater than zero")
	}
	return nil
}

// upstreamError wraps a transport or API failure as ErrUpstreamUnavailable.
func upstreamError(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrUpstreamUnavailable, err)
}

// WithTimeout bounds every Complete call on p by d. A non-positive d
// returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: d}
}

type timeoutProvider struct {
	Provider
	timeout time.Duration
}

func (p *timeoutProvider) Complete(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.Provider.Complete(ctx, req)
}

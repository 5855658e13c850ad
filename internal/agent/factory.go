// ABOUTME: Builds agent handles from shared model settings and per-variant configuration
// ABOUTME: Every handle gets its own memory buffer; only the provider is shared

package agent

import (
	"errors"
	"time"

	"github.com/HuMoN-Research-Lab/chatbot/internal/llm"
	"github.com/HuMoN-Research-Lab/chatbot/internal/memory"
)

// VariantConfig overrides the defaults for one variant.
type VariantConfig struct {
	// Prompt replaces DefaultPrompt when non-empty.
	Prompt string
	// TokenBudget limits prior turns sent to the model.
	TokenBudget int
}

// FactoryConfig holds the model settings shared by every handle.
type FactoryConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// TokenBudget applies to variants without their own budget.
	TokenBudget int
	Variants    map[Variant]VariantConfig
	Estimator   memory.Estimator
	Now         func() time.Time
}

// Factory creates Handles.
type Factory struct {
	provider llm.Provider
	cfg      FactoryConfig
}

// NewFactory validates cfg and returns a Factory.
func NewFactory(provider llm.Provider, cfg FactoryConfig) (*Factory, error) {
	if provider == nil {
		return nil, errors.New("agent factory requires a provider")
	}
	if cfg.Model == "" {
		return nil, errors.New("agent factory requires a model")
	}
	if cfg.MaxTokens <= 0 {
		return nil, errors.New("agent factory requires max tokens")
	}
	if cfg.Estimator == nil {
		cfg.Estimator = memory.CharEstimator{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Factory{provider: provider, cfg: cfg}, nil
}

// Budget returns the token budget configured for v.
func (f *Factory) Budget(v Variant) int {
	if vc, ok := f.cfg.Variants[v]; ok && vc.TokenBudget > 0 {
		return vc.TokenBudget
	}
	return f.cfg.TokenBudget
}

// Estimator returns the estimator handles use for windowing.
func (f *Factory) Estimator() memory.Estimator {
	return f.cfg.Estimator
}

// New creates a Handle with an empty memory buffer.
func (f *Factory) New(v Variant) *Handle {
	if !v.Valid() {
		v = CourseAssistant
	}
	prompt := DefaultPrompt(v)
	if vc, ok := f.cfg.Variants[v]; ok && vc.Prompt != "" {
		prompt = vc.Prompt
	}
	return &Handle{
		variant:   v,
		provider:  f.provider,
		model:     f.cfg.Model,
		prompt:    prompt,
		maxTokens: f.cfg.MaxTokens,
		temp:      f.cfg.Temperature,
		budget:    f.Budget(v),
		estimator: f.cfg.Estimator,
		now:       f.cfg.Now,
	}
}

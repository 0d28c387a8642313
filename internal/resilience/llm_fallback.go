package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/interviewlens/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that grades answers with the first model
// that responds.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates a chain whose preferred model is primary.
// cfg.Kind defaults to "llm".
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a model to the chain.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete forwards req to each model in turn until one answers.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, name, err := Do(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if name != f.group.members[0].name {
		slog.Info("feedback served by fallback model", "provider", name)
	}
	return resp, nil
}

// Names returns the model names in the order they are tried.
func (f *LLMFallback) Names() []string {
	return f.group.Names()
}

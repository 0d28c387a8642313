package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/interviewlens/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that tries cloud engines first and offline
// engines after them, in registration order.
//
// An engine answering [stt.ErrNoSpeech] is healthy: the next engine still gets
// the clip, but the answer never opens the engine's breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates a chain whose preferred engine is primary.
// cfg.Kind defaults to "stt".
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.CircuitBreaker.IsSuccessful = isNoSpeech
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends an engine to the chain.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe returns the first transcript any engine produces. A transcript
// without an Engine is labelled with the name the engine was registered
// under.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	t, name, err := Do(ctx, f.group, func(ctx context.Context, p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if t.Engine == "" {
		t.Engine = name
	}
	return t, nil
}

// Names returns the engine names in the order they are tried.
func (f *STTFallback) Names() []string {
	return f.group.Names()
}

// States reports each engine's breaker state.
func (f *STTFallback) States() []MemberState {
	return f.group.States()
}

// Available reports whether any engine would currently accept a clip.
func (f *STTFallback) Available() bool {
	return f.group.Available()
}

func isNoSpeech(err error) bool {
	return errors.Is(err, stt.ErrNoSpeech)
}

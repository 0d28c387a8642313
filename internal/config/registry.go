package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/interviewlens/pkg/provider/embeddings"
	"github.com/MrWong99/interviewlens/pkg/provider/llm"
	"github.com/MrWong99/interviewlens/pkg/provider/stt"
	"github.com/MrWong99/interviewlens/pkg/vision"
)

// ErrProviderNotRegistered is returned when no factory exists for a
// configured provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds, as used in errors and [Registry.Names].
const (
	KindSTT        = "stt"
	KindLLM        = "llm"
	KindEmbeddings = "embeddings"
	KindVision     = "vision"
)

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// Registry maps provider names to factories, one namespace per kind. main
// registers the built-in backends; tests register mocks. Safe for concurrent
// use.
type Registry struct {
	mu         sync.RWMutex
	stt        factories[stt.Provider]
	llm        factories[llm.Provider]
	embeddings factories[embeddings.Provider]
	vision     factories[vision.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		stt:        newFactories[stt.Provider](KindSTT),
		llm:        newFactories[llm.Provider](KindLLM),
		embeddings: newFactories[embeddings.Provider](KindEmbeddings),
		vision:     newFactories[vision.Provider](KindVision),
	}
}

// RegisterSTT registers a speech recogniser under name, replacing any
// earlier factory of that name.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) { register(r, r.stt, name, f) }

// RegisterLLM registers a coaching model backend.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { register(r, r.llm, name, f) }

// RegisterEmbeddings registers an answer embedding backend.
func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	register(r, r.embeddings, name, f)
}

// RegisterVision registers a face landmark detector.
func (r *Registry) RegisterVision(name string, f Factory[vision.Provider]) {
	register(r, r.vision, name, f)
}

// CreateSTT builds the recogniser named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, entry)
}

// CreateLLM builds the model backend named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, entry)
}

// CreateEmbeddings builds the embedding backend named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return create(r, r.embeddings, entry)
}

// CreateVision builds the landmark detector named by entry.Name.
func (r *Registry) CreateVision(entry ProviderEntry) (vision.Provider, error) {
	return create(r, r.vision, entry)
}

// Names returns the registered names of kind, sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindSTT:
		return slices.Sorted(maps.Keys(r.stt.m))
	case KindLLM:
		return slices.Sorted(maps.Keys(r.llm.m))
	case KindEmbeddings:
		return slices.Sorted(maps.Keys(r.embeddings.m))
	case KindVision:
		return slices.Sorted(maps.Keys(r.vision.m))
	}
	return nil
}

// Check reports every provider named in cfg that has no factory, so a typo
// in a fallback entry fails at startup rather than on the first upload.
func (r *Registry) Check(cfg *ProvidersConfig) error {
	type ref struct {
		kind, name string
	}
	refs := []ref{{KindSTT, cfg.STT.Name}, {KindLLM, cfg.LLM.Name}, {KindEmbeddings, cfg.Embeddings.Name}, {KindVision, cfg.Vision.Name}}
	for _, e := range cfg.STTFallbacks {
		refs = append(refs, ref{KindSTT, e.Name})
	}
	for _, e := range cfg.LLMFallbacks {
		refs = append(refs, ref{KindLLM, e.Name})
	}

	var errs []error
	for _, ref := range refs {
		if ref.name != "" && !slices.Contains(r.Names(ref.kind), ref.name) {
			errs = append(errs, fmt.Errorf("%w: %s/%q (known: %v)", ErrProviderNotRegistered, ref.kind, ref.name, r.Names(ref.kind)))
		}
	}
	return errors.Join(errs...)
}

func register[T any](r *Registry, fs factories[T], name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs.m[name] = f
}

func create[T any](r *Registry, fs factories[T], entry ProviderEntry) (T, error) {
	r.mu.RLock()
	f, ok := fs.m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, fs.kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s provider %q: %w", fs.kind, entry.Name, err)
	}
	return p, nil
}

// Package mock is an [embeddings.Provider] for tests.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/MrWong99/interviewlens/pkg/provider/embeddings"
)

// Provider returns EmbedResult, or EmbedErr when set. With neither set and
// DimensionsValue > 0 it derives a stable vector from the text, so equal
// answers embed equally.
type Provider struct {
	EmbedResult     []float32
	EmbedErr        error
	DimensionsValue int
	ModelIDValue    string

	mu sync.Mutex
	// Texts lists every embedded text in call order.
	Texts []string
}

var _ embeddings.Provider = (*Provider)(nil)

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.Texts = append(p.Texts, text)
	p.mu.Unlock()

	switch {
	case p.EmbedErr != nil:
		return nil, p.EmbedErr
	case p.EmbedResult != nil || p.DimensionsValue <= 0:
		return p.EmbedResult, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, p.DimensionsValue)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(seed>>40)/float32(1<<24)*2 - 1
	}
	return vec, nil
}

func (p *Provider) Dimensions() int { return p.DimensionsValue }

func (p *Provider) ModelID() string { return p.ModelIDValue }

// CallCount returns how often Embed ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Texts)
}

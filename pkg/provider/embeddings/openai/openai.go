// Package openai embeds answers with the OpenAI embeddings endpoint or any
// server that mirrors it, such as Ollama's /v1 API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/interviewlens/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxInputRunes keeps long answers under the 8k-token input limit.
const maxInputRunes = 24000

// knownDimensions lists native vector widths by model name prefix.
var knownDimensions = []struct {
	prefix string
	dims   int
}{
	{"text-embedding-3-large", 3072},
	{"text-embedding-3-small", 1536},
	{"text-embedding-ada-002", 1536},
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
	{"all-minilm", 384},
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider is an [embeddings.Provider] for one model.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
	shorten    bool
}

type options struct {
	req        []option.RequestOption
	dimensions int
}

// Option configures a Provider.
type Option func(*options)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *options) { o.req = append(o.req, option.WithBaseURL(url)) }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(o *options) { o.req = append(o.req, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.req = append(o.req, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithDimensions sets the vector width. text-embedding-3 models are asked to
// shorten their vectors to n; other models must natively produce n values.
func WithDimensions(n int) Option {
	return func(o *options) { o.dimensions = n }
}

// New creates a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	o := options{req: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, fn := range opts {
		fn(&o)
	}

	p := &Provider{client: oai.NewClient(o.req...), model: model, dimensions: o.dimensions}
	if p.dimensions <= 0 {
		p.dimensions = nativeDimensions(model)
	} else {
		p.shorten = strings.HasPrefix(strings.ToLower(model), "text-embedding-3")
	}
	return p, nil
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncate(strings.TrimSpace(text), maxInputRunes)
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	}
	if p.shorten {
		params.Dimensions = param.NewOpt(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %s: %w", p.model, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: %s returned no vectors", p.model)
	}

	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	if err := embeddings.CheckDimensions(vec, p.dimensions); err != nil {
		return nil, fmt.Errorf("openai embeddings: %s: %w", p.model, err)
	}
	return vec, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }

// nativeDimensions guesses a model's vector width; unknown models get 1536.
func nativeDimensions(model string) int {
	lower := strings.ToLower(model)
	for _, k := range knownDimensions {
		if strings.HasPrefix(lower, k.prefix) {
			return k.dims
		}
	}
	return 1536
}

// truncate cuts s to at most n runes, preferring the last word boundary.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexAny(cut, " \n\t"); i > n/2 {
		cut = cut[:i]
	}
	return cut
}

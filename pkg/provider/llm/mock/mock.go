// Package mock is a scripted [llm.Provider] for tests that exercise coaching
// without a model.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"feedback":"..."}`}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/interviewlens/pkg/provider/llm"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers every Complete with CompleteResponse and CompleteErr, or
// with CompleteFunc when set. Configure it before use.
type Provider struct {
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CompleteFunc overrides the canned reply, e.g. to echo the prompt or to
	// block until ctx is done.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	mu            sync.Mutex
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// CallCount returns how often Complete ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastRequest returns the most recent request, or false before any call.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}

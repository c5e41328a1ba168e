// Package mock is an in-memory [llm.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lectern/pkg/provider/llm"
)

// Call is one recorded request.
type Call struct {
	Req llm.CompletionRequest
}

// Provider answers with canned values and records every request. Configure
// it before use; the call slices may be read once the calls have returned.
type Provider struct {
	mu sync.Mutex

	// Complete answers with CompleteFunc if set, else CompleteResponse and
	// CompleteErr.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error
	CompleteFunc     func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// StreamCompletion fails with StreamErr or emits StreamChunks in order.
	StreamChunks []llm.Chunk
	StreamErr    error

	CompleteCalls []Call
	StreamCalls   []Call
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Req: req})
	chunks, err := append([]llm.Chunk(nil), p.StreamChunks...), p.StreamErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return resp, err
}

// CallCount is the number of requests of either kind.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls) + len(p.StreamCalls)
}

// Requests returns a copy of all recorded requests, completions first.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, 0, len(p.CompleteCalls)+len(p.StreamCalls))
	for _, c := range p.CompleteCalls {
		out = append(out, c.Req)
	}
	for _, c := range p.StreamCalls {
		out = append(out, c.Req)
	}
	return out
}

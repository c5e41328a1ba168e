// Package mock is an in-memory [embeddings.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lectern/pkg/provider/embeddings"
)

var (
	_ embeddings.Provider     = (*Provider)(nil)
	_ embeddings.RoleEmbedder = (*Provider)(nil)
)

// Call is one recorded embedding request.
type Call struct {
	Role embeddings.Role
	Text string
}

// Provider returns EmbedResult and EmbedErr, or the result of EmbedFunc when
// set. The zero value embeds every text as nil.
type Provider struct {
	EmbedFunc       func(text string) ([]float32, error)
	EmbedResult     []float32
	EmbedErr        error
	DimensionsValue int
	ModelIDValue    string

	mu    sync.Mutex
	calls []Call
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.EmbedRole(ctx, embeddings.RoleDocument, text)
}

func (p *Provider) EmbedRole(_ context.Context, role embeddings.Role, text string) ([]float32, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Role: role, Text: text})
	fn := p.EmbedFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return p.EmbedResult, p.EmbedErr
}

func (p *Provider) Dimensions() int { return p.DimensionsValue }

func (p *Provider) ModelID() string { return p.ModelIDValue }

// Calls returns the embedded texts in call order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, len(p.calls))
	for i, c := range p.calls {
		texts[i] = c.Text
	}
	return texts
}

// Roles returns every recorded request in call order.
func (p *Provider) Roles() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

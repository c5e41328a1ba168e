// Package mock provides an in-memory document.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/lectern/pkg/document"
)

// Provider serves documents registered with [Provider.Add]. Page bytes are a
// fake "%PDF mock" payload naming the range.
type Provider struct {
	mu    sync.Mutex
	pages map[string][]string

	// Err, if set, is returned by every method.
	Err error

	GetPagesCalls int
}

var _ document.Provider = (*Provider)(nil)

// Add registers a document whose pages have the given text.
func (p *Provider) Add(pdfID string, pages ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pages == nil {
		p.pages = make(map[string][]string)
	}
	p.pages[pdfID] = pages
}

func (p *Provider) lookup(pdfID string) ([]string, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	pages, ok := p.pages[pdfID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", document.ErrNotFound, pdfID)
	}
	return pages, nil
}

// GetPages implements document.Provider.
func (p *Provider) GetPages(_ context.Context, pdfID string, start, end int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GetPagesCalls++
	pages, err := p.lookup(pdfID)
	if err != nil {
		return nil, err
	}
	if err := document.ValidateRange(start, end, len(pages)); err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "%%PDF mock %s %d-%d", pdfID, start, end), nil
}

// GetPageText implements document.Provider.
func (p *Provider) GetPageText(_ context.Context, pdfID string, start, end int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pages, err := p.lookup(pdfID)
	if err != nil {
		return "", err
	}
	if err := document.ValidateRange(start, end, len(pages)); err != nil {
		return "", err
	}
	return strings.Join(pages[start-1:end], "\n\n"), nil
}

// PageCount implements document.Provider.
func (p *Provider) PageCount(_ context.Context, pdfID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pages, err := p.lookup(pdfID)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

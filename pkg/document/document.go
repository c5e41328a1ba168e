// Package document serves page ranges of stored PDFs: the bytes of a range
// for document-grounded generation, and their plain text for chat context.
//
// PDFs come from a [Source]. [Library] de-duplicates concurrent downloads of
// the same id and keeps a bounded number of recently used files in memory.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNotFound is returned when a source has no PDF for the id.
	ErrNotFound = errors.New("document: not found")

	// ErrInvalidPageRange is returned when a page range is outside the
	// document or inverted.
	ErrInvalidPageRange = errors.New("document: invalid page range")
)

func init() {
	// No pdfcpu config directory in the user's home.
	api.DisableConfigDir()
}

// DefaultCacheSize is the number of PDFs a [Library] keeps in memory.
const DefaultCacheSize = 16

// Provider is the read side used by generation and the HTTP API.
type Provider interface {
	// GetPages returns a PDF containing only pages start..end (1-based,
	// inclusive).
	GetPages(ctx context.Context, pdfID string, start, end int) ([]byte, error)

	// GetPageText returns the text of pages start..end joined with blank lines.
	GetPageText(ctx context.Context, pdfID string, start, end int) (string, error)

	// PageCount returns the number of pages in the document.
	PageCount(ctx context.Context, pdfID string) (int, error)
}

// ValidateRange checks 1 <= start <= end <= count.
func ValidateRange(start, end, count int) error {
	if start < 1 || end < start || end > count {
		return fmt.Errorf("%w: %d-%d of %d pages", ErrInvalidPageRange, start, end, count)
	}
	return nil
}

// Library implements [Provider] on top of a [Source].
type Library struct {
	source Source
	conf   *model.Configuration
	size   int

	group singleflight.Group

	mu    sync.Mutex
	cache map[string][]byte
	order []string // least recently used first
}

var _ Provider = (*Library)(nil)

// Option configures a [Library].
type Option func(*Library)

// WithCacheSize overrides [DefaultCacheSize]. Values below 1 disable caching.
func WithCacheSize(n int) Option {
	return func(l *Library) { l.size = n }
}

// NewLibrary returns a Library reading from source.
func NewLibrary(source Source, opts ...Option) *Library {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	l := &Library{
		source: source,
		conf:   conf,
		size:   DefaultCacheSize,
		cache:  make(map[string][]byte),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// load returns the raw PDF for id, downloading it at most once concurrently.
func (l *Library) load(ctx context.Context, pdfID string) ([]byte, error) {
	if data, ok := l.cached(pdfID); ok {
		return data, nil
	}
	v, err, _ := l.group.Do(pdfID, func() (any, error) {
		if data, ok := l.cached(pdfID); ok {
			return data, nil
		}
		data, err := l.source.Open(ctx, pdfID)
		if err != nil {
			return nil, err
		}
		l.remember(pdfID, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (l *Library) cached(pdfID string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.cache[pdfID]
	if ok {
		l.touch(pdfID)
	}
	return data, ok
}

func (l *Library) remember(pdfID string, data []byte) {
	if l.size < 1 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[pdfID]; ok {
		l.touch(pdfID)
		return
	}
	for len(l.order) >= l.size {
		delete(l.cache, l.order[0])
		l.order = l.order[1:]
	}
	l.cache[pdfID] = data
	l.order = append(l.order, pdfID)
}

// touch moves pdfID to the back of the LRU order. Caller holds l.mu.
func (l *Library) touch(pdfID string) {
	for i, id := range l.order {
		if id == pdfID {
			l.order = append(append(l.order[:i:i], l.order[i+1:]...), pdfID)
			return
		}
	}
}

// PageCount implements [Provider].
func (l *Library) PageCount(ctx context.Context, pdfID string) (int, error) {
	data, err := l.load(ctx, pdfID)
	if err != nil {
		return 0, err
	}
	n, err := api.PageCount(bytes.NewReader(data), l.conf)
	if err != nil {
		return 0, fmt.Errorf("document: page count %q: %w", pdfID, err)
	}
	return n, nil
}

// GetPages implements [Provider].
func (l *Library) GetPages(ctx context.Context, pdfID string, start, end int) ([]byte, error) {
	data, err := l.load(ctx, pdfID)
	if err != nil {
		return nil, err
	}
	count, err := api.PageCount(bytes.NewReader(data), l.conf)
	if err != nil {
		return nil, fmt.Errorf("document: page count %q: %w", pdfID, err)
	}
	if err := ValidateRange(start, end, count); err != nil {
		return nil, err
	}
	if start == 1 && end == count {
		return data, nil
	}
	var out bytes.Buffer
	selection := []string{fmt.Sprintf("%d-%d", start, end)}
	if err := api.Trim(bytes.NewReader(data), &out, selection, l.conf); err != nil {
		return nil, fmt.Errorf("document: trim %q %d-%d: %w", pdfID, start, end, err)
	}
	return out.Bytes(), nil
}

// GetPageText implements [Provider].
func (l *Library) GetPageText(ctx context.Context, pdfID string, start, end int) (string, error) {
	data, err := l.load(ctx, pdfID)
	if err != nil {
		return "", err
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("document: open %q: %w", pdfID, err)
	}
	if err := ValidateRange(start, end, r.NumPage()); err != nil {
		return "", err
	}
	pages := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("document: page %d text: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// Package ollama embeds text with a local Ollama server through its native
// /api/embed endpoint.
//
//	p, err := ollama.New("", "nomic-embed-text")
//	vec, err := embeddings.EmbedAs(ctx, p, embeddings.RoleQuery, "light reactions")
package ollama

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lectern/pkg/provider/embeddings"
)

// DefaultBaseURL is where a local Ollama listens.
const DefaultBaseURL = "http://localhost:11434"

const probeTimeout = 15 * time.Second

var (
	_ embeddings.Provider     = (*Provider)(nil)
	_ embeddings.RoleEmbedder = (*Provider)(nil)
)

// family describes an embedding model family Ollama ships.
type family struct {
	match       string
	dims        int
	queryPrefix string
	docPrefix   string
}

var families = []family{
	{match: "nomic-embed-text", dims: 768, queryPrefix: "search_query: ", docPrefix: "search_document: "},
	{match: "mxbai-embed-large", dims: 1024, queryPrefix: "Represent this sentence for searching relevant passages: "},
	{match: "bge-m3", dims: 1024},
	{match: "all-minilm", dims: 384},
}

func lookup(model string) family {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.Contains(lower, f.match) {
			return f
		}
	}
	return family{}
}

// Provider talks to one Ollama model. It is safe for concurrent use.
type Provider struct {
	endpoint  string
	model     string
	family    family
	client    *http.Client
	keepAlive string
	maxChars  int

	mu   sync.Mutex
	dims int
}

// Option configures a [Provider].
type Option func(*Provider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout sets the request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client = &http.Client{Timeout: d} }
}

// WithDimensions fixes the vector length. Without it the length comes from
// the known model families or is probed on first use.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dims = n }
}

// WithKeepAlive controls how long Ollama keeps the model loaded, e.g. "10m".
func WithKeepAlive(d string) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// WithMaxInputChars bounds the input length. Default
// [embeddings.DefaultMaxInputChars].
func WithMaxInputChars(n int) Option {
	return func(p *Provider) { p.maxChars = n }
}

// New returns a provider for model on the server at baseURL, or
// [DefaultBaseURL] if empty.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(cmp.Or(baseURL, DefaultBaseURL), "/") + "/api/embed",
		model:    model,
		family:   lookup(model),
		client:   &http.Client{},
		maxChars: embeddings.DefaultMaxInputChars,
	}
	for _, o := range opts {
		o(p)
	}
	if p.dims == 0 {
		p.dims = p.family.dims
	}
	return p, nil
}

// Embed embeds text as stored content.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return p.EmbedRole(ctx, embeddings.RoleDocument, text)
}

// EmbedRole prepends the family's query or document prefix before embedding.
func (p *Provider) EmbedRole(ctx context.Context, role embeddings.Role, text string) ([]float32, error) {
	prefix := p.family.docPrefix
	if role == embeddings.RoleQuery {
		prefix = p.family.queryPrefix
	}
	vecs, err := p.embed(ctx, prefix+embeddings.Truncate(text, p.maxChars))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	p.learnDims(len(vecs[0]))
	return vecs[0], nil
}

// Dimensions returns the vector length. For an unknown model the first call
// embeds a probe string; 0 means the probe failed and the next call retries.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	n := p.dims
	p.mu.Unlock()
	if n != 0 {
		return n
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	vecs, err := p.embed(ctx, "probe")
	if err != nil {
		return 0
	}
	p.learnDims(len(vecs[0]))
	return len(vecs[0])
}

func (p *Provider) learnDims(n int) {
	p.mu.Lock()
	if p.dims == 0 {
		p.dims = n
	}
	p.mu.Unlock()
}

// ModelID returns the Ollama model name.
func (p *Provider) ModelID() string { return p.model }

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (p *Provider) embed(ctx context.Context, inputs ...string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: inputs, Truncate: true, KeepAlive: p.keepAlive})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out embedResponse
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(out.Embeddings) != len(inputs) || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(out.Embeddings), len(inputs))
	}
	return out.Embeddings, nil
}

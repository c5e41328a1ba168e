// Package openai embeds text through the OpenAI embeddings API or any
// compatible endpoint (Azure, vLLM, LocalAI, Ollama's /v1).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/lectern/pkg/provider/embeddings"
)

// DefaultModel is used when no model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

var nativeDims = map[string]int{
	oai.EmbeddingModelTextEmbedding3Small: 1536,
	oai.EmbeddingModelTextEmbedding3Large: 3072,
	oai.EmbeddingModelTextEmbeddingAda002: 1536,
}

// Provider embeds one model. It is safe for concurrent use.
type Provider struct {
	client   oai.Client
	model    string
	dims     int
	reduced  bool
	maxChars int
}

type settings struct {
	reqOpts  []option.RequestOption
	dims     int
	maxChars int
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithBaseURL(url)) }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithOrganization(org)) }
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.reqOpts = append(s.reqOpts, option.WithHTTPClient(c)) }
}

// WithDimensions asks text-embedding-3 models for shortened vectors. For
// other models it only declares the length the endpoint returns.
func WithDimensions(n int) Option {
	return func(s *settings) { s.dims = n }
}

// WithMaxInputChars bounds the input length. Default
// [embeddings.DefaultMaxInputChars].
func WithMaxInputChars(n int) Option {
	return func(s *settings) { s.maxChars = n }
}

// New returns a provider for model, or [DefaultModel] if empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	s := settings{maxChars: embeddings.DefaultMaxInputChars}
	for _, o := range opts {
		o(&s)
	}

	p := &Provider{
		client:   oai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, s.reqOpts...)...),
		model:    model,
		dims:     nativeDims[model],
		maxChars: s.maxChars,
	}
	switch {
	case s.dims > 0:
		p.reduced = strings.HasPrefix(model, "text-embedding-3") && s.dims != p.dims
		p.dims = s.dims
	case p.dims == 0:
		p.dims = 1536
	}
	return p, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai embeddings: text must not be empty")
	}
	params := oai.EmbeddingNewParams{
		Model:          p.model,
		Input:          oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(embeddings.Truncate(text, p.maxChars))},
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if p.reduced {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	src := resp.Data[0].Embedding
	if len(src) != p.dims {
		return nil, fmt.Errorf("openai embeddings: got %d dimensions, want %d", len(src), p.dims)
	}
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (p *Provider) Dimensions() int { return p.dims }

func (p *Provider) ModelID() string { return p.model }

// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint. Groq serves the same API, so the default
// configuration targets Groq's hosted whisper-large-v3.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/lectern/pkg/provider/stt"
)

const (
	// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	defaultModel = "whisper-large-v3"
)

// Option is a functional option for configuring the Provider.
type Option func(*config)

type config struct {
	baseURL  string
	model    string
	language string
}

// WithBaseURL overrides the API base URL. Defaults to GroqBaseURL.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the default recognition language.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// Provider implements stt.Provider using Audio.Transcriptions.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// New creates a new Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := config{baseURL: GroqBaseURL, model: defaultModel}
	for _, o := range opts {
		o(&cfg)
	}
	return &Provider{
		client:   oai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(cfg.baseURL)),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe uploads audio as a multipart file and returns the recognised text.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}
	name := opts.Filename
	if name == "" {
		name = stt.DefaultFilename
	}
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), name, stt.ContentType(name)),
		Model: oai.AudioModel(model),
	}
	if lang := firstNonEmpty(opts.Language, p.language); lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ stt.Provider = (*Provider)(nil)

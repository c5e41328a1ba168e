// Package openai provides a TTS provider backed by the OpenAI speech endpoint
// (or any OpenAI-compatible server). The response body is read incrementally,
// so audio reaches the caller while the server is still producing it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
	readSize     = 4096
)

// Option is a functional option for configuring the OpenAI TTS Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   string
	voice   string
}

// WithBaseURL overrides the API base URL for OpenAI-compatible servers.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice used when the caller's VoiceProfile has no ID.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// Provider implements tts.Provider using the OpenAI audio speech API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// New creates a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
	}, nil
}

// Format reports mp3.
func (p *Provider) Format() types.AudioFormat { return types.AudioFormatMP3 }

// Synthesize requests mp3 speech for text and streams the response body.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan tts.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.voice
	}

	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if voice.Speed > 0 {
		params.Speed = oai.Float(voice.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}

	out := make(chan tts.Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		for {
			buf := make([]byte, readSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case out <- tts.Chunk{Data: buf[:n]}:
				case <-ctx.Done():
					return
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			if err != nil {
				select {
				case out <- tts.Chunk{Err: fmt.Errorf("openai tts: read body: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

var _ tts.Provider = (*Provider)(nil)

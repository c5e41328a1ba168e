// Package gemini provides a Google Gemini TTS provider built on the genai SDK.
//
// Gemini speech models return raw 16-bit PCM (24 kHz, mono) as inline data.
// The provider wraps the PCM in a WAV container so the output is a playable
// file on its own.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

const (
	defaultModel = "gemini-2.5-flash-preview-tts"
	defaultVoice = "Kore"

	pcmSampleRate = 24000
	pcmChannels   = 1

	sliceSize = 4096
)

// Option is a functional option for configuring the Gemini TTS Provider.
type Option func(*config)

type config struct {
	model      string
	voice      string
	baseURL    string
	httpClient *http.Client
}

// WithModel sets the speech model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the prebuilt voice used when the caller's VoiceProfile has no ID.
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// Provider implements tts.Provider backed by a Gemini speech model.
type Provider struct {
	client *genai.Client
	model  string
	voice  string
}

// New creates a new Gemini TTS Provider. apiKey must be non-empty.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini tts: apiKey must not be empty")
	}
	cfg := config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.httpClient,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: create client: %w", err)
	}
	return &Provider{client: client, model: cfg.model, voice: cfg.voice}, nil
}

// Format reports wav.
func (p *Provider) Format() types.AudioFormat { return types.AudioFormatWAV }

// Synthesize generates speech for text with a single GenerateContent call and
// streams the resulting WAV file.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan tts.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("gemini tts: text must not be empty")
	}
	voiceName := voice.ID
	if voiceName == "" {
		voiceName = p.voice
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceName},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini tts: generate: %w", err)
	}

	pcm := collectPCM(resp)
	if len(pcm) == 0 {
		return nil, errors.New("gemini tts: response contains no audio")
	}
	wav := audio.EncodeWAV(pcm, pcmSampleRate, pcmChannels)

	out := make(chan tts.Chunk)
	go func() {
		defer close(out)
		for off := 0; off < len(wav); off += sliceSize {
			select {
			case out <- tts.Chunk{Data: wav[off:min(off+sliceSize, len(wav))]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// collectPCM concatenates the inline audio parts of the first candidate.
func collectPCM(resp *genai.GenerateContentResponse) []byte {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var pcm []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil {
			pcm = append(pcm, part.InlineData.Data...)
		}
	}
	return pcm
}

var _ tts.Provider = (*Provider)(nil)

// Package coqui synthesizes narration on a self-hosted Coqui TTS server.
//
// Two server flavours exist. [APIModeStandard] talks to the tts-server shipped
// with the coqui-ai/TTS images (GET /api/tts). [APIModeXTTS] talks to the
// XTTS v2 API server (POST /tts_to_audio/), where the voice ID names a
// reference speaker WAV on the server.
//
// Either server answers with one complete WAV file.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	ch, err := p.Synthesize(ctx, "Photosynthesis converts light.", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	xttsEndpoint   = "/tts_to_audio/"
	apiTTSEndpoint = "/api/tts"

	chunkSize = 4096
	maxWAV    = 64 << 20
)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Provider is a Coqui TTS client.
type Provider struct {
	base     string
	language string
	mode     APIMode
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language sent with each request. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each synthesis call. Default 60s; XTTS on CPU is slow.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour. Default [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// New returns a client for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server url must not be empty")
	}
	p := &Provider{
		base:     strings.TrimRight(serverURL, "/"),
		language: "en",
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

func (p *Provider) Format() types.AudioFormat { return types.AudioFormatWAV }

// Synthesize waits for the server's WAV before returning, so a failed
// request is always reported through the error return.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan tts.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	req, err := p.request(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("coqui: %s: status %d: %s", req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxWAV))
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}
	if _, err := audio.ParseWAV(wav); err != nil {
		return nil, fmt.Errorf("coqui: server returned invalid WAV: %w", err)
	}
	return stream(ctx, wav), nil
}

func (p *Provider) request(ctx context.Context, text string, voice types.VoiceProfile) (*http.Request, error) {
	if p.mode == APIModeXTTS {
		body, err := json.Marshal(map[string]string{
			"text":        text,
			"speaker_wav": voice.ID,
			"language":    p.language,
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+xttsEndpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	q := url.Values{"text": {text}}
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.base+apiTTSEndpoint+"?"+q.Encode(), nil)
}

func stream(ctx context.Context, wav []byte) <-chan tts.Chunk {
	out := make(chan tts.Chunk)
	go func() {
		defer close(out)
		for len(wav) > 0 {
			n := min(chunkSize, len(wav))
			select {
			case out <- tts.Chunk{Data: wav[:n]}:
				wav = wav[n:]
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Package deepgram transcribes recorded questions with Deepgram's
// pre-recorded audio API (POST /v1/listen).
package deepgram

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/lectern/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// DefaultBaseURL is the hosted Deepgram API.
const DefaultBaseURL = "https://api.deepgram.com"

// Provider is a Deepgram client.
type Provider struct {
	apiKey   string
	base     string
	model    string
	language string
	keyterms []string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the model. Default "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 recognition language. "multi" enables
// code-switching on nova-3. Default "en".
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithKeyterms boosts recognition of domain vocabulary. Deepgram honours
// key terms on nova-3 only.
func WithKeyterms(terms ...string) Option {
	return func(p *Provider) { p.keyterms = append(p.keyterms, terms...) }
}

// WithBaseURL points the client at another deployment.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.base = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) { p.client = hc }
}

func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		base:     DefaultBaseURL,
		model:    "nova-3",
		language: "en",
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe returns the best alternative of the first channel. Silence
// yields an empty transcript and no error.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}
	endpoint := p.base + "/v1/listen?" + p.query(opts).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", stt.ContentType(cmp.Or(opts.Filename, stt.DefaultFilename)))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}
	return transcript(body)
}

func (p *Provider) query(opts stt.Options) url.Values {
	q := url.Values{
		"model":        {cmp.Or(opts.Model, p.model)},
		"language":     {cmp.Or(opts.Language, p.language)},
		"punctuate":    {"true"},
		"smart_format": {"true"},
	}
	if len(p.keyterms) > 0 {
		q["keyterm"] = p.keyterms
	}
	return q
}

func apiError(status int, body []byte) error {
	var e struct {
		Code    string `json:"err_code"`
		Message string `json:"err_msg"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("deepgram: status %d: %s: %s", status, e.Code, e.Message)
	}
	return fmt.Errorf("deepgram: status %d: %s", status, bytes.TrimSpace(body))
}

func transcript(body []byte) (string, error) {
	var lr struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", fmt.Errorf("deepgram: decode response: %w", err)
	}
	for _, ch := range lr.Results.Channels {
		for _, alt := range ch.Alternatives {
			return strings.TrimSpace(alt.Transcript), nil
		}
	}
	return "", nil
}

// Package whisper transcribes questions with whisper.cpp.
//
// [Provider] posts recordings to a whisper-server's /inference endpoint. The
// server decodes any container ffmpeg understands when started with
// --convert. [NativeProvider] links whisper.cpp and accepts WAV only.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, recording, stt.Options{Filename: "q.webm"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/lectern/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	modelSampleRate = 16000
)

var _ stt.Provider = (*Provider)(nil)

// Provider is a client for a whisper-server.
type Provider struct {
	endpoint string
	model    string
	language string
	prompt   string
	client   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty uses the model the
// server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language. Default "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPrompt primes the decoder, e.g. with course vocabulary.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New returns a client for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server url must not be empty")
	}
	p := &Provider{
		endpoint: strings.TrimRight(serverURL, "/") + "/inference",
		language: defaultLanguage,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	if len(audio) == 0 {
		return "", stt.ErrEmptyAudio
	}
	body, contentType, err := p.form(audio, opts)
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whisper: read response: %w", err)
	}
	var out struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	decodeErr := json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode != http.StatusOK && out.Error != "":
		return "", fmt.Errorf("whisper: status %d: %s", resp.StatusCode, out.Error)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("whisper: status %d", resp.StatusCode)
	case decodeErr != nil:
		return "", fmt.Errorf("whisper: decode response: %w", decodeErr)
	case out.Error != "":
		return "", fmt.Errorf("whisper: %s", out.Error)
	}
	return strings.TrimSpace(out.Text), nil
}

// form encodes the inference request. Empty fields are left out so the
// server applies its own defaults.
func (p *Provider) form(audio []byte, opts stt.Options) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", firstNonEmpty(opts.Filename, stt.DefaultFilename))
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"response_format", "json"},
		{"language", firstNonEmpty(opts.Language, p.language)},
		{"model", firstNonEmpty(opts.Model, p.model)},
		{"prompt", p.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

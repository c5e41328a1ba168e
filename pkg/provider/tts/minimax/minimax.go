// Package minimax provides a Minimax T2A v2 TTS provider. The API answers one
// HTTP request with the complete mp3 file encoded as hex; the provider
// decodes it and forwards it in slices. It implements the tts.Provider
// interface.
package minimax

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

const (
	defaultBaseURL = "https://api.minimax.io"
	t2aEndpoint    = "/v1/t2a_v2"
	defaultModel   = "speech-2.5-hd-preview"
	defaultVoice   = "moss_audio_d1efbcbb-a84b-11f0-acd3-2a7238f4ad26"
	defaultTimeout = 60 * time.Second

	sliceSize = 4096

	// maxTextLength is the T2A v2 synchronous request limit in characters.
	maxTextLength = 10000
)

// Option is a functional option for configuring the Minimax Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the synthesis model.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the voice used when the caller's VoiceProfile has no ID.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		p.voice = voiceID
	}
}

// WithTimeout sets the HTTP timeout for synthesis requests.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by the Minimax T2A v2 API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	httpClient *http.Client
}

// New creates a new Minimax Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("minimax: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		voice:      defaultVoice,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type t2aRequest struct {
	Model         string        `json:"model"`
	Text          string        `json:"text"`
	Stream        bool          `json:"stream"`
	LanguageBoost string        `json:"language_boost"`
	OutputFormat  string        `json:"output_format"`
	VoiceSetting  voiceSetting  `json:"voice_setting"`
	AudioSetting  audioSetting  `json:"audio_setting"`
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type audioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
	Channel    int    `json:"channel"`
}

type t2aResponse struct {
	Data struct {
		Audio string `json:"audio"`
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// Format reports mp3.
func (p *Provider) Format() types.AudioFormat { return types.AudioFormatMP3 }

// MaxTextLength implements tts.Sizer.
func (p *Provider) MaxTextLength() int { return maxTextLength }

// Synthesize requests the complete audio for text and streams it. All API
// failures surface as the returned error.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan tts.Chunk, error) {
	mp3, err := p.synthesize(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	out := make(chan tts.Chunk)
	go func() {
		defer close(out)
		for off := 0; off < len(mp3); off += sliceSize {
			select {
			case out <- tts.Chunk{Data: mp3[off:min(off+sliceSize, len(mp3))]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("minimax: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.voice
	}
	speed := voice.Speed
	if speed == 0 {
		speed = 1.0
	}

	body, err := json.Marshal(t2aRequest{
		Model:         p.model,
		Text:          text,
		Stream:        false,
		LanguageBoost: "auto",
		OutputFormat:  "hex",
		VoiceSetting:  voiceSetting{VoiceID: voiceID, Speed: speed, Vol: 1.0, Pitch: int(voice.Pitch)},
		AudioSetting:  audioSetting{SampleRate: 32000, Bitrate: 128000, Format: "mp3", Channel: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("minimax: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+t2aEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("minimax: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("minimax: POST %s: %w", t2aEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("minimax: POST %s returned status %d: %s", t2aEndpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tr t2aResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("minimax: decode response: %w", err)
	}
	if tr.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("minimax: api error %d: %s", tr.BaseResp.StatusCode, tr.BaseResp.StatusMsg)
	}
	if tr.Data.Audio == "" {
		return nil, errors.New("minimax: response contains no audio")
	}
	mp3, err := hex.DecodeString(tr.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("minimax: decode hex audio: %w", err)
	}
	return mp3, nil
}

var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Sizer    = (*Provider)(nil)
)

// Package elevenlabs narrates through the ElevenLabs stream-input WebSocket
// API. Audio frames are forwarded as they arrive, so playback can begin
// before the whole passage is synthesized.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	DefaultBaseURL = "wss://api.elevenlabs.io"
	DefaultModel   = "eleven_flash_v2_5"
	DefaultVoice   = "21m00Tcm4TlvDq8ikWAM"

	outputFormat = "mp3_44100_128"
	readLimit    = 4 << 20
)

// Provider is an ElevenLabs client.
type Provider struct {
	apiKey     string
	base       string
	model      string
	voice      string
	stability  float64
	similarity float64
}

// Option configures a [Provider].
type Option func(*Provider)

func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVoice sets the voice used when the request carries no voice ID.
func WithVoice(voiceID string) Option {
	return func(p *Provider) { p.voice = voiceID }
}

// WithVoiceSettings overrides stability (default 0.5) and similarity boost
// (default 0.75).
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) { p.stability, p.similarity = stability, similarity }
}

// WithBaseURL replaces the ws(s):// scheme and host.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.base = strings.TrimRight(u, "/") }
}

func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		base:       DefaultBaseURL,
		model:      DefaultModel,
		voice:      DefaultVoice,
		stability:  0.5,
		similarity: 0.75,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Provider) Format() types.AudioFormat { return types.AudioFormatMP3 }

type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (p *Provider) endpoint(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {outputFormat}}
	return p.base + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// Synthesize sends the opening message, the text and the end-of-input marker
// before returning. Frames are then read until the server reports isFinal.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan tts.Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.voice
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint(voiceID), &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": {p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	// The stream must open with a single space.
	input := []inputMessage{
		{Text: " ", VoiceSettings: &voiceSettings{Stability: p.stability, SimilarityBoost: p.similarity, Speed: voice.Speed}},
		{Text: text + " "},
		{Text: ""},
	}
	for _, msg := range input {
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			conn.Close(websocket.StatusInternalError, "send failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	out := make(chan tts.Chunk, 16)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")
		if err := relay(ctx, conn, out); err != nil && ctx.Err() == nil {
			select {
			case out <- tts.Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func relay(ctx context.Context, conn *websocket.Conn, out chan<- tts.Chunk) error {
	for {
		var msg outputMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("elevenlabs: %s: %s", msg.Error, msg.Message)
		}
		if msg.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			select {
			case out <- tts.Chunk{Data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if msg.IsFinal {
			return nil
		}
	}
}

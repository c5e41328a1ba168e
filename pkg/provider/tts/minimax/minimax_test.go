package minimax

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/lectern/pkg/types"
)

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestSynthesize_DecodesHexAudio(t *testing.T) {
	t.Parallel()

	mp3 := bytes.Repeat([]byte("ID3\xff\xfb"), 2000) // > one slice
	var got t2aRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != t2aEndpoint {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"data":{"audio":"` + hex.EncodeToString(mp3) + `"},"base_resp":{"status_code":0,"status_msg":"success"}}`))
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ch, err := p.Synthesize(context.Background(), "Mitochondria make ATP.", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	var buf bytes.Buffer
	chunks := 0
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("stream error: %v", c.Err)
		}
		chunks++
		buf.Write(c.Data)
	}
	if !bytes.Equal(buf.Bytes(), mp3) {
		t.Errorf("decoded audio mismatch (%d bytes, want %d)", buf.Len(), len(mp3))
	}
	if chunks < 2 {
		t.Errorf("chunks = %d, want >= 2", chunks)
	}

	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != defaultModel || got.OutputFormat != "hex" || got.LanguageBoost != "auto" || got.Stream {
		t.Errorf("request = %+v", got)
	}
	if got.VoiceSetting.VoiceID != defaultVoice || got.VoiceSetting.Speed != 1.0 {
		t.Errorf("voice setting = %+v", got.VoiceSetting)
	}
	if got.AudioSetting != (audioSetting{SampleRate: 32000, Bitrate: 128000, Format: "mp3", Channel: 1}) {
		t.Errorf("audio setting = %+v", got.AudioSetting)
	}
}

func TestSynthesize_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{},"base_resp":{"status_code":1004,"status_msg":"authentication failed"}}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), "x", types.VoiceProfile{})
	if err == nil || !strings.Contains(err.Error(), "authentication failed") {
		t.Fatalf("err = %v, want status_msg in error", err)
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "x", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error")
	}
}

package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/types"
)

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestSynthesize_WrapsPCMAsWAV(t *testing.T) {
	t.Parallel()

	pcm := bytes.Repeat([]byte{0x10, 0x00}, 3000)
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, defaultModel+":generateContent") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"audio/L16;codec=pcm;rate=24000","data":%q}}]}}]}`,
			base64.StdEncoding.EncodeToString(pcm))
	}))
	defer srv.Close()

	p, err := New(context.Background(), "key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ch, err := p.Synthesize(context.Background(), "Say hello.", types.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	var wav bytes.Buffer
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("stream error: %v", c.Err)
		}
		wav.Write(c.Data)
	}

	info, err := audio.ParseWAV(wav.Bytes())
	if err != nil {
		t.Fatalf("ParseWAV() error: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 {
		t.Errorf("wav format = %+v", info)
	}
	if !bytes.Equal(wav.Bytes()[info.DataOffset:], pcm) {
		t.Error("wav payload differs from PCM")
	}
	if !strings.Contains(body, `"Kore"`) || !strings.Contains(body, "AUDIO") {
		t.Errorf("request body missing voice or modality: %s", body)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`))
	}))
	defer srv.Close()

	p, _ := New(context.Background(), "key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if _, err := p.Synthesize(context.Background(), "x", types.VoiceProfile{}); err == nil {
		t.Fatal("expected error when response has no audio")
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	p, _ := New(context.Background(), "key")
	if p.Format() != types.AudioFormatWAV {
		t.Errorf("Format() = %q, want wav", p.Format())
	}
}

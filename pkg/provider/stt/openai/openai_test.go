package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/lectern/pkg/provider/stt"
)

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	if _, err := p.Transcribe(context.Background(), nil, stt.Options{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribe_AgainstFakeServer(t *testing.T) {
	t.Parallel()

	var model, filename, payload string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		model = r.FormValue("model")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			filename = hdr.Filename
			b, _ := io.ReadAll(f)
			payload = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  What is osmosis?  "}`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL+"/openai/v1/"))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	text, err := p.Transcribe(context.Background(), []byte("RIFFfake"), stt.Options{Filename: "q.wav"})
	if err != nil {
		t.Fatalf("Transcribe() error: %v", err)
	}
	if text != "What is osmosis?" {
		t.Errorf("text = %q", text)
	}
	if model != "whisper-large-v3" || filename != "q.wav" || payload != "RIFFfake" {
		t.Errorf("model=%q filename=%q payload=%q", model, filename, payload)
	}
}

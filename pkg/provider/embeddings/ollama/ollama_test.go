package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/lectern/pkg/provider/embeddings"
	"github.com/MrWong99/lectern/pkg/provider/embeddings/ollama"
)

type captured struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive"`
}

// server answers /api/embed with vec and records the last request.
func server(t *testing.T, vec []float32, last *captured, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		var req captured
		_ = json.NewDecoder(r.Body).Decode(&req)
		if last != nil {
			*last = req
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresModel(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestEmbedRole_Prefixes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		role  embeddings.Role
		want  string
	}{
		{"nomic-embed-text", embeddings.RoleQuery, "search_query: osmosis"},
		{"nomic-embed-text:v1.5", embeddings.RoleDocument, "search_document: osmosis"},
		{"mxbai-embed-large", embeddings.RoleQuery, "Represent this sentence for searching relevant passages: osmosis"},
		{"mxbai-embed-large", embeddings.RoleDocument, "osmosis"},
		{"custom-model", embeddings.RoleQuery, "osmosis"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			var last captured
			srv := server(t, []float32{0.1, 0.2}, &last, nil)
			p, err := ollama.New(srv.URL+"/", tt.model, ollama.WithKeepAlive("5m"))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := embeddings.EmbedAs(context.Background(), p, tt.role, "osmosis"); err != nil {
				t.Fatalf("EmbedAs: %v", err)
			}
			if len(last.Input) != 1 || last.Input[0] != tt.want {
				t.Errorf("input = %q, want %q", last.Input, tt.want)
			}
			if last.Model != tt.model || !last.Truncate || last.KeepAlive != "5m" {
				t.Errorf("request = %+v", last)
			}
		})
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nomic-embed-text\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "nomic-embed-text")
	_, err := p.Embed(context.Background(), "cells")
	if err == nil || !strings.Contains(err.Error(), "try pulling it first") || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
}

func TestEmbed_EmptyResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[]}`))
	}))
	defer srv.Close()

	p, _ := ollama.New(srv.URL, "all-minilm")
	if _, err := p.Embed(context.Background(), "cells"); err == nil {
		t.Fatal("expected error for empty embeddings")
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	t.Run("known family", func(t *testing.T) {
		t.Parallel()
		p, _ := ollama.New("http://127.0.0.1:1", "mxbai-embed-large:latest")
		if got := p.Dimensions(); got != 1024 {
			t.Errorf("Dimensions = %d, want 1024", got)
		}
	})

	t.Run("explicit", func(t *testing.T) {
		t.Parallel()
		p, _ := ollama.New("http://127.0.0.1:1", "nomic-embed-text", ollama.WithDimensions(256))
		if got := p.Dimensions(); got != 256 {
			t.Errorf("Dimensions = %d, want 256", got)
		}
	})

	t.Run("probed once", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := server(t, []float32{1, 2, 3, 4, 5}, nil, &calls)
		p, _ := ollama.New(srv.URL, "homegrown-embedder")
		for range 3 {
			if got := p.Dimensions(); got != 5 {
				t.Fatalf("Dimensions = %d, want 5", got)
			}
		}
		if calls.Load() != 1 {
			t.Errorf("probe requests = %d, want 1", calls.Load())
		}
	})

	t.Run("learned from embed", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := server(t, []float32{1, 2, 3}, nil, &calls)
		p, _ := ollama.New(srv.URL, "homegrown-embedder")
		if _, err := p.Embed(context.Background(), "cells"); err != nil {
			t.Fatal(err)
		}
		if got := p.Dimensions(); got != 3 || calls.Load() != 1 {
			t.Errorf("Dimensions = %d after %d calls", got, calls.Load())
		}
	})

	t.Run("probe failure", func(t *testing.T) {
		t.Parallel()
		p, _ := ollama.New("http://127.0.0.1:1", "homegrown-embedder")
		if got := p.Dimensions(); got != 0 {
			t.Errorf("Dimensions = %d, want 0", got)
		}
	})
}

func TestEmbed_Truncates(t *testing.T) {
	t.Parallel()

	var last captured
	srv := server(t, []float32{1}, &last, nil)
	p, _ := ollama.New(srv.URL, "all-minilm", ollama.WithMaxInputChars(4))
	if _, err := p.Embed(context.Background(), "mitochondria"); err != nil {
		t.Fatal(err)
	}
	if last.Input[0] != "mito" {
		t.Errorf("input = %q", last.Input[0])
	}
}

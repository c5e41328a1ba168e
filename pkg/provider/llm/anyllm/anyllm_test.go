package anyllm

import (
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lectern/pkg/provider/llm"
	"github.com/MrWong99/lectern/pkg/types"
)

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) || len(got) != len(backends) {
		t.Fatalf("Backends() = %v", got)
	}
	for _, want := range []string{"anthropic", "ollama", "llamacpp", "mistral"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() missing %s", want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr bool
	}{
		{"empty backend", "", "m", nil, true},
		{"empty model", "groq", "", nil, true},
		{"unsupported", "fakecloud", "m", []anyllmlib.Option{anyllmlib.WithAPIKey("k")}, true},
		{"case insensitive", " Groq ", "llama-3.1-8b-instant", []anyllmlib.Option{anyllmlib.WithAPIKey("gsk-test")}, false},
		{"local ollama", "ollama", "llama3", nil, false},
		{"local llama.cpp", "llamacpp", "llama3", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.model != tt.model || p.backend == nil {
				t.Errorf("provider = %+v", p)
			}
		})
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{name: "anthropic", model: "claude-sonnet"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Explain simply.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "What is ATP?", Name: "student"}},
		Attachments:  []llm.Attachment{{MIMEType: "application/pdf", Text: "ATP stores energy."}},
		Temperature:  0.7,
		MaxTokens:    1000,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v", params.Messages)
	}
	user := params.Messages[1]
	if user.Name != "student" || user.ContentString() != "<document>\nATP stores energy.\n</document>\n\nWhat is ATP?" {
		t.Errorf("user message = %+v", user)
	}
	if params.Model != "claude-sonnet" || params.Temperature == nil || *params.Temperature != 0.7 || params.MaxTokens == nil || *params.MaxTokens != 1000 {
		t.Errorf("params = %+v", params)
	}
}

func TestBuildParams_AttachmentWithoutText(t *testing.T) {
	p := &Provider{name: "mistral", model: "m"}
	_, err := p.buildParams(llm.CompletionRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: "x"}},
		Attachments: []llm.Attachment{{MIMEType: "application/pdf", Data: []byte("%PDF")}},
	})
	if !errors.Is(err, llm.ErrAttachmentsUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

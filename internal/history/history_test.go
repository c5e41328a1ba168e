package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/lectern/pkg/provider/llm"
	llmmock "github.com/MrWong99/lectern/pkg/provider/llm/mock"
	"github.com/MrWong99/lectern/pkg/types"
)

type fakeSummariser struct {
	mu     sync.Mutex
	result string
	err    error
	calls  int
	seen   [][]types.Message
}

func (f *fakeSummariser) Summarise(_ context.Context, msgs []types.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, msgs)
	return f.result, f.err
}

func turn(role, content string) types.Message { return types.Message{Role: role, Content: content} }

func TestHistory_SeedAndLen(t *testing.T) {
	t.Parallel()

	h := New("You are a tutor.")
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
	if err := h.Append(context.Background(), turn(types.RoleUser, "why?"), turn(types.RoleAssistant, "because")); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.Len())
	}
	msgs := h.Messages()
	if len(msgs) != 3 || msgs[0].Role != types.RoleSystem || msgs[0].Content != "You are a tutor." {
		t.Errorf("Messages() = %+v", msgs)
	}

	h.Reset("new topic")
	if h.Len() != 0 || h.Messages()[0].Content != "new topic" {
		t.Errorf("after Reset: Len=%d seed=%q", h.Len(), h.Messages()[0].Content)
	}
}

func TestHistory_UnboundedByDefault(t *testing.T) {
	t.Parallel()

	h := New("seed")
	long := strings.Repeat("x", 4000)
	for range 50 {
		if err := h.Append(context.Background(), turn(types.RoleUser, long)); err != nil {
			t.Fatal(err)
		}
	}
	if h.Len() != 50 {
		t.Errorf("Len() = %d, want 50", h.Len())
	}
}

func TestHistory_SummarisesOldestHalf(t *testing.T) {
	t.Parallel()

	s := &fakeSummariser{result: "they discussed cells"}
	h := New("seed", WithBudget(100, s))
	// 4 turns of ~50 tokens each pass 75 tokens on the second.
	body := strings.Repeat("a", 200)
	for range 4 {
		if err := h.Append(context.Background(), turn(types.RoleUser, body)); err != nil {
			t.Fatal(err)
		}
	}
	if s.calls == 0 {
		t.Fatal("summariser not called")
	}
	msgs := h.Messages()
	if msgs[0].Content != "seed" {
		t.Errorf("seed lost: %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "they discussed cells") || msgs[1].Role != types.RoleSystem {
		t.Errorf("summary message = %+v", msgs[1])
	}
	if h.Len() >= 4 {
		t.Errorf("Len() = %d, want fewer than 4 after summarisation", h.Len())
	}
}

func TestHistory_SummariserErrorKeepsTurns(t *testing.T) {
	t.Parallel()

	s := &fakeSummariser{err: errors.New("boom")}
	h := New("seed", WithBudget(10, s))
	err := h.Append(context.Background(), turn(types.RoleUser, strings.Repeat("q", 100)), turn(types.RoleAssistant, "a"))
	if err == nil {
		t.Fatal("expected summariser error")
	}
	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.Len())
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  types.Message
		want int
	}{
		{"empty", types.Message{}, 0},
		{"short rounds up", turn("user", "Hi"), 1},
		{"long", turn("assistant", strings.Repeat("a", 391)), 100},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.msg); got != tt.want {
			t.Errorf("%s: estimateTokens = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestLLMSummariser(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " summary\n"}}
	s := NewLLMSummariser(p)
	got, err := s.Summarise(context.Background(), []types.Message{
		turn("user", "what is DNA?"),
		{Role: "assistant", Content: "a molecule\nthat stores genes"},
		{Role: "assistant", Name: "narrator", Content: "page two"},
	})
	if err != nil || got != "summary" {
		t.Fatalf("Summarise = %q, %v", got, err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	want := "Student: what is DNA?\nTutor: a molecule that stores genes\nnarrator: page two\n"
	if req.Messages[0].Content != want {
		t.Errorf("transcript = %q, want %q", req.Messages[0].Content, want)
	}
	if req.MaxTokens != summaryMaxTokens {
		t.Errorf("MaxTokens = %d", req.MaxTokens)
	}
	if empty, err := s.Summarise(context.Background(), nil); err != nil || empty != "" {
		t.Errorf("empty Summarise = %q, %v", empty, err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Error("empty input reached the model")
	}
}

func TestLLMSummariser_Error(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	_, err := NewLLMSummariser(p).Summarise(context.Background(), []types.Message{turn("user", "q")})
	if err == nil || !strings.Contains(err.Error(), "1 turns") {
		t.Fatalf("err = %v", err)
	}
}

// Package content produces the text side of study artifacts: chat answers,
// spoken explanations, readable text, flashcards and quizzes.
//
// Two backends are involved. The chat backend (Groq by default) answers
// questions from a conversation history. The generator (Gemini by default)
// reads the PDF bytes of a page range as an inline attachment. Either may be
// a resilience.LLMFallback over several providers.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/provider/llm"
	"github.com/MrWong99/lectern/pkg/studyset"
	"github.com/MrWong99/lectern/pkg/types"
)

var (
	// ErrGenerationUnavailable is returned when the backend a call needs is
	// not configured.
	ErrGenerationUnavailable = errors.New("content: no generation backend configured")

	// ErrGenerationFailed wraps backend errors and unusable model output.
	ErrGenerationFailed = errors.New("content: generation failed")

	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("content: question must not be empty")
)

// Narration selects how explanations are written.
type Narration string

const (
	// NarrationSingle is a single tutor explaining.
	NarrationSingle Narration = "single"

	// NarrationConversation is a two-host dialogue between tutor and student.
	NarrationConversation Narration = "conversation"
)

// Valid reports whether n is a known narration mode.
func (n Narration) Valid() bool {
	return n == NarrationSingle || n == NarrationConversation
}

// Generation limits.
const (
	answerTemperature     = 0.7
	answerMaxTokens       = 500
	generateTemperature   = 0.7
	explanationMaxTokens  = 2000
	longFormMaxTokens     = 4096
	flashcardCount        = 10
	quizQuestionCount     = 10
	pdfMIMEType           = "application/pdf"
	providerNameChat      = "chat"
	providerNameGenerator = "generator"
)

// GenerateRequest asks for an artifact grounded on PDF pages.
type GenerateRequest struct {
	// PDF holds only the selected pages.
	PDF []byte
	// Text is the extracted text of PDF, sent to models that cannot read PDFs.
	Text      string
	Topic     string
	StartPage int
	EndPage   int

	// Narration applies to GenerateExplanation. Empty means single.
	Narration Narration
}

// QARequest is a standalone question about an explanation.
type QARequest struct {
	Question        string
	Topic           string
	ExplanationText string
}

// ChatRequest is a free question answered from PDF pages.
type ChatRequest struct {
	PDF   []byte
	Text  string
	Query string
}

// Option configures a [Provider].
type Option func(*Provider)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// Provider is safe for concurrent use.
type Provider struct {
	chat      llm.Provider
	generator llm.Provider
	metrics   *observe.Metrics
}

// New returns a Provider. Either backend may be nil; calls that need a
// missing one fail with [ErrGenerationUnavailable].
func New(chat, generator llm.Provider, opts ...Option) *Provider {
	p := &Provider{chat: chat, generator: generator}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

func (p *Provider) complete(ctx context.Context, backend llm.Provider, name string, req llm.CompletionRequest) (string, error) {
	if backend == nil {
		return "", ErrGenerationUnavailable
	}
	ctx, span := observe.StartSpan(ctx, "content."+name)
	defer span.End()

	start := time.Now()
	resp, err := backend.Complete(ctx, req)
	p.metrics.ObserveProviderCall(ctx, name, observe.KindLLM, start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}
	return strings.TrimSpace(resp.Content), nil
}

func withQuestion(history []types.Message, question string) []types.Message {
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	return append(msgs, types.Message{Role: types.RoleUser, Content: question})
}

// AnswerQuestion answers question given the conversation so far. history is
// not modified.
func (p *Provider) AnswerQuestion(ctx context.Context, history []types.Message, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	return p.complete(ctx, p.chat, providerNameChat, llm.CompletionRequest{
		Messages:    withQuestion(history, question),
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
}

// StreamAnswer is AnswerQuestion with every text delta passed to onDelta as
// it arrives. It returns the full answer.
func (p *Provider) StreamAnswer(ctx context.Context, history []types.Message, question string, onDelta func(string)) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	if p.chat == nil {
		return "", ErrGenerationUnavailable
	}
	ctx, span := observe.StartSpan(ctx, "content.stream_answer")
	defer span.End()

	start := time.Now()
	ch, err := p.chat.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:    withQuestion(history, question),
		Temperature: answerTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		p.metrics.ObserveProviderCall(ctx, providerNameChat, observe.KindLLM, start, err)
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == llm.FinishReasonError {
			err := errors.New(chunk.Text)
			p.metrics.ObserveProviderCall(ctx, providerNameChat, observe.KindLLM, start, err)
			return "", fmt.Errorf("%w: stream: %w", ErrGenerationFailed, err)
		}
		if chunk.Text == "" {
			continue
		}
		sb.WriteString(chunk.Text)
		if onDelta != nil {
			onDelta(chunk.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.metrics.ObserveProviderCall(ctx, providerNameChat, observe.KindLLM, start, nil)

	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}
	return answer, nil
}

// AnswerStandalone answers a question about an explanation outside of a
// session. The answer ends by steering back to the topic.
func (p *Provider) AnswerStandalone(ctx context.Context, req QARequest) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", ErrEmptyQuestion
	}
	return p.complete(ctx, p.chat, providerNameChat, llm.CompletionRequest{
		SystemPrompt: standalonePrompt(req.Topic, req.ExplanationText),
		Messages:     []types.Message{{Role: types.RoleUser, Content: req.Question}},
		Temperature:  answerTemperature,
		MaxTokens:    answerMaxTokens,
	})
}

func (p *Provider) generate(ctx context.Context, req GenerateRequest, prompt string, maxTokens int) (string, error) {
	if len(req.PDF) == 0 {
		return "", fmt.Errorf("%w: no document pages", ErrGenerationFailed)
	}
	return p.complete(ctx, p.generator, providerNameGenerator, llm.CompletionRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: prompt}},
		Attachments: []llm.Attachment{{MIMEType: pdfMIMEType, Data: req.PDF, Text: req.Text}},
		Temperature: generateTemperature,
		MaxTokens:   maxTokens,
	})
}

// contentField unwraps {"content": ...} output. Plain text output is used
// as is.
func contentField(text string) string {
	var out struct {
		Content string `json:"content"`
	}
	if err := ExtractJSON(text, &out); err == nil && strings.TrimSpace(out.Content) != "" {
		return strings.TrimSpace(out.Content)
	}
	return text
}

// GenerateExplanation writes the spoken explanation of the pages.
func (p *Provider) GenerateExplanation(ctx context.Context, req GenerateRequest) (string, error) {
	if req.Narration == NarrationConversation {
		text, err := p.generate(ctx, req, conversationExplanationPrompt(req.Topic, req.StartPage, req.EndPage), explanationMaxTokens)
		if err != nil {
			return "", err
		}
		return contentField(text), nil
	}
	return p.generate(ctx, req, singleExplanationPrompt(req.Topic, req.StartPage, req.EndPage), explanationMaxTokens)
}

// GenerateReading extracts readable text of the pages about the topic.
func (p *Provider) GenerateReading(ctx context.Context, req GenerateRequest) (string, error) {
	text, err := p.generate(ctx, req, readingPrompt(req.Topic, req.StartPage, req.EndPage), longFormMaxTokens)
	if err != nil {
		return "", err
	}
	return contentField(text), nil
}

// GenerateFlashcards returns up to ten question and answer cards. Cards with
// an empty side are dropped.
func (p *Provider) GenerateFlashcards(ctx context.Context, req GenerateRequest) ([]studyset.Flashcard, error) {
	text, err := p.generate(ctx, req, flashcardPrompt(req.Topic, flashcardCount), longFormMaxTokens)
	if err != nil {
		return nil, err
	}
	var out struct {
		Flashcards []studyset.Flashcard `json:"flashcards"`
	}
	if err := ExtractJSON(text, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	cards := make([]studyset.Flashcard, 0, flashcardCount)
	for _, c := range out.Flashcards {
		if strings.TrimSpace(c.Question) == "" || strings.TrimSpace(c.Answer) == "" {
			continue
		}
		cards = append(cards, c)
		if len(cards) == flashcardCount {
			break
		}
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("%w: no usable flashcards", ErrGenerationFailed)
	}
	if len(cards) < flashcardCount {
		slog.Warn("content: fewer flashcards than requested", "topic", req.Topic, "got", len(cards))
	}
	return cards, nil
}

// GenerateQuiz returns up to ten questions with four options and exactly one
// correct option each. Malformed questions are dropped.
func (p *Provider) GenerateQuiz(ctx context.Context, req GenerateRequest) ([]studyset.Question, error) {
	text, err := p.generate(ctx, req, quizPrompt(req.Topic, quizQuestionCount), longFormMaxTokens)
	if err != nil {
		return nil, err
	}
	var out struct {
		Questions []studyset.Question `json:"questions"`
	}
	if err := ExtractJSON(text, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	questions := make([]studyset.Question, 0, quizQuestionCount)
	dropped := 0
	for _, q := range out.Questions {
		if !q.Valid() {
			dropped++
			continue
		}
		questions = append(questions, q)
		if len(questions) == quizQuestionCount {
			break
		}
	}
	if dropped > 0 {
		slog.Warn("content: dropped malformed quiz questions", "topic", req.Topic, "dropped", dropped)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no valid quiz questions", ErrGenerationFailed)
	}
	return questions, nil
}

// ChatWithDocument answers a free question from the attached pages.
func (p *Provider) ChatWithDocument(ctx context.Context, req ChatRequest) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", ErrEmptyQuestion
	}
	return p.generate(ctx, GenerateRequest{PDF: req.PDF, Text: req.Text}, documentChatPrompt(req.Query), explanationMaxTokens)
}

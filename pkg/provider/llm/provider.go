// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote model API (e.g., Groq through its
// OpenAI-compatible surface, Google Gemini, or any backend reachable through
// any-llm) and exposes a uniform interface for chat answers and
// document-grounded generation without coupling callers to any specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/lectern/pkg/types"
)

// ErrAttachmentsUnsupported is returned by text-only providers for an
// attachment without extracted text.
var ErrAttachmentsUnsupported = errors.New("llm: provider cannot read document attachments")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Attachment is an inline document sent alongside the prompt (e.g., the PDF
// bytes of a page range).
type Attachment struct {
	// MIMEType is the media type of Data (e.g., "application/pdf").
	MIMEType string

	// Data is the raw document content.
	Data []byte

	// Text is the extracted text of Data. Text-only providers send it in
	// place of Data via [InlineAttachments].
	Text string
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history. Providers without a dedicated system field prepend
	// it as a "system"-role message.
	SystemPrompt string

	// Attachments are inline documents attached to the last user message.
	Attachments []Attachment
}

// Chunk is a single token or fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk and indicates why generation stopped.
	// Common values are "stop", "length" and "error". When it is "error", Text
	// carries the error message.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel that
	// emits Chunk values as they arrive. The channel is closed by the implementation
	// when generation finishes or when ctx is cancelled.
	//
	// Errors that occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for failures
	// that prevent the stream from starting.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// FinishReasonError marks a streaming chunk that carries an error message.
const FinishReasonError = "error"

// InlineAttachments moves the text of every attachment in front of the last
// user message, inside <document> tags, and drops the attachments. It fails
// with [ErrAttachmentsUnsupported] if an attachment has no text.
func InlineAttachments(req CompletionRequest) (CompletionRequest, error) {
	if len(req.Attachments) == 0 {
		return req, nil
	}
	last := -1
	for i, m := range req.Messages {
		if m.Role == types.RoleUser {
			last = i
		}
	}
	if last < 0 {
		return req, fmt.Errorf("%w: no user message to attach to", ErrAttachmentsUnsupported)
	}

	var sb strings.Builder
	for _, a := range req.Attachments {
		if strings.TrimSpace(a.Text) == "" {
			return req, fmt.Errorf("%w: %s without extracted text", ErrAttachmentsUnsupported, a.MIMEType)
		}
		sb.WriteString("<document>\n")
		sb.WriteString(strings.TrimSpace(a.Text))
		sb.WriteString("\n</document>\n\n")
	}

	msgs := append([]types.Message(nil), req.Messages...)
	msgs[last].Content = sb.String() + msgs[last].Content
	req.Messages = msgs
	req.Attachments = nil
	return req, nil
}

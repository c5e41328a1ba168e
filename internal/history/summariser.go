package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/lectern/pkg/provider/llm"
	"github.com/MrWong99/lectern/pkg/types"
)

// Summariser condenses a run of turns into one paragraph.
type Summariser interface {
	Summarise(ctx context.Context, messages []types.Message) (string, error)
}

// SummariserFunc adapts a function to [Summariser].
type SummariserFunc func(ctx context.Context, messages []types.Message) (string, error)

func (f SummariserFunc) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	return f(ctx, messages)
}

const summaryInstructions = `You compress a tutoring conversation about a study document.
Write one short paragraph in the third person. Keep every question the student asked,
the facts the tutor gave in answer and any misconception that was corrected.
Leave out greetings and filler.`

// summaryMaxTokens bounds the paragraph so a summary stays far below the
// budget it is freeing.
const summaryMaxTokens = 300

// NewLLMSummariser summarises with a chat model.
func NewLLMSummariser(provider llm.Provider) Summariser {
	return SummariserFunc(func(ctx context.Context, messages []types.Message) (string, error) {
		if len(messages) == 0 {
			return "", nil
		}
		resp, err := provider.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: summaryInstructions,
			Messages:     []types.Message{{Role: types.RoleUser, Content: transcript(messages)}},
			Temperature:  0.2,
			MaxTokens:    summaryMaxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("history: summarise %d turns: %w", len(messages), err)
		}
		return strings.TrimSpace(resp.Content), nil
	})
}

// transcript renders turns one per line, labelled by speaker.
func transcript(messages []types.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		label := m.Name
		if label == "" {
			switch m.Role {
			case types.RoleUser:
				label = "Student"
			case types.RoleAssistant:
				label = "Tutor"
			default:
				label = m.Role
			}
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(strings.ReplaceAll(strings.TrimSpace(m.Content), "\n", " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}

package hub

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/lectern/internal/explain"
)

// Inbound event tags.
const (
	TypeStartExplanation  = "start_explanation"
	TypePauseExplanation  = "pause_explanation"
	TypeResumeExplanation = "resume_explanation"
	TypeStopExplanation   = "stop_explanation"
	TypeSentenceComplete  = "sentence_complete"
	TypeQuestion          = "question"
)

// InboundEvent is one decoded client message. The start fields are only
// meaningful for start_explanation.
type InboundEvent struct {
	Type string `json:"type"`
	explain.StartRequest
	Question string `json:"question"`
}

type connectedFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Text  string `json:"text"`
}

var connectedMessage = mustMarshal(connectedFrame{Type: "event", Event: "connected", Text: "Connected to explain mode"})

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Encode serializes an outbound event.
func Encode(ev explain.Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("hub: encode %s: %w", ev.Type, err)
	}
	return b, nil
}

// Decode parses an inbound text frame.
func Decode(b []byte) (InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return InboundEvent{}, fmt.Errorf("hub: decode: %w", err)
	}
	if ev.Type == "" {
		return InboundEvent{}, fmt.Errorf("hub: decode: missing type")
	}
	return ev, nil
}

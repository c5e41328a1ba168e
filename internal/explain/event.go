package explain

import (
	"context"

	"github.com/MrWong99/lectern/pkg/artifact"
)

// EventType tags an outbound event.
type EventType string

// Outbound event types.
const (
	EventExplanationStart    EventType = "explanation_start"
	EventAudioChunk          EventType = "audio_chunk"
	EventExplanationComplete EventType = "explanation_complete"
	EventExplanationPaused   EventType = "explanation_paused"
	EventExplanationResumed  EventType = "explanation_resumed"
	EventExplanationStopped  EventType = "explanation_stopped"
	EventQuestionReceived    EventType = "question_received"
	EventTutorResponseChunk  EventType = "tutor_response_chunk"
	EventTutorResponseDone   EventType = "tutor_response_complete"
	EventTutorAudioStart     EventType = "tutor_audio_start"
	EventTutorAudioComplete  EventType = "tutor_audio_complete"
	EventTranscript          EventType = "transcript"
	EventExistingNoteFound   EventType = "existing_note_found"
	EventError               EventType = "error"
)

// Event is one outbound message. Only the fields relevant to Type are set.
// Data is base64 encoded by encoding/json.
type Event struct {
	Type     EventType      `json:"type"`
	Data     []byte         `json:"data,omitempty"`
	Text     string         `json:"text,omitempty"`
	Message  string         `json:"message,omitempty"`
	Question string         `json:"question,omitempty"`
	Chunk    string         `json:"chunk,omitempty"`
	Response string         `json:"response,omitempty"`
	Note     *artifact.Note `json:"note,omitempty"`
}

// Emitter delivers events to the session's client. It is supplied by the
// hub; the session never holds a connection.
type Emitter func(ctx context.Context, ev Event) error

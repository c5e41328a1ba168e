// Package types defines the shared value types used across Lectern packages.
//
// Cross-cutting data structures live here so that providers, stores and the
// explanation session can exchange them without circular imports. Each
// package still owns its own domain types.
package types

// Message represents a single turn in a chat conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// VoiceProfile describes the voice a speech synthesis provider should use.
// Fields a provider does not support are ignored.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is a human-readable label for the voice.
	Name string

	// Provider names the TTS backend the ID belongs to.
	Provider string

	// Language is a BCP-47 language hint (e.g., "en-US").
	Language string

	// Speed is a playback rate multiplier. Zero means the provider default.
	Speed float64

	// Pitch is a provider-specific pitch offset. Zero means the provider default.
	Pitch float64
}

// AudioFormat identifies the container format of synthesized audio.
type AudioFormat string

const (
	AudioFormatMP3 AudioFormat = "mp3"
	AudioFormatWAV AudioFormat = "wav"
)

// Extension returns the file extension for the format, including the dot.
func (f AudioFormat) Extension() string {
	switch f {
	case AudioFormatWAV:
		return ".wav"
	default:
		return ".mp3"
	}
}

// ContentType returns the MIME type for the format.
func (f AudioFormat) ContentType() string {
	switch f {
	case AudioFormatWAV:
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}

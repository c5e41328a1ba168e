// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Minimax, Gemini,
// ElevenLabs or a local Coqui instance) and presents a uniform streaming
// interface. Synthesize accepts a complete text and returns a channel of
// encoded audio chunks in byte order, so callers can forward audio to a
// client before the provider has finished.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/lectern/pkg/types"
)

// Chunk is one slice of synthesized audio. A chunk with a non-nil Err is the
// last value sent on the channel; Data is empty in that case.
type Chunk struct {
	Data []byte
	Err  error
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts synthesis of text and returns a channel that emits
	// audio chunks as they become available. Concatenating every Data field in
	// receive order yields a complete, playable file in Format().
	//
	// The channel is closed by the implementation when synthesis completes,
	// fails or ctx is cancelled. A failure after the stream has started is
	// reported as a final Chunk with Err set. The caller must drain the
	// channel to avoid leaking the provider's goroutine.
	//
	// Returns a non-nil error only if the stream cannot be started.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan Chunk, error)

	// Format reports the container format of the audio this provider emits.
	Format() types.AudioFormat
}

// Sizer is implemented by providers with a hard limit on input text length.
type Sizer interface {
	MaxTextLength() int
}

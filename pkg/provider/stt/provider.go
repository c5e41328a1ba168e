// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (Groq Whisper through
// the OpenAI-compatible API, Deepgram, or a local whisper.cpp server) and turns
// one recorded utterance into text. Recordings arrive as complete container
// files (webm, wav, mp3), so there is no streaming session to manage.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrEmptyAudio is returned when Transcribe is called without audio data.
var ErrEmptyAudio = errors.New("stt: audio must not be empty")

// Options are per-call recognition hints. Zero values select the provider
// defaults.
type Options struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the provider auto-detect if supported.
	Language string

	// Filename is the original file name of the recording. Providers use its
	// extension to tell the server which container the bytes are in.
	Filename string

	// Model overrides the provider's configured model.
	Model string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in audio. An empty string with a nil
	// error means the recording contained no recognisable speech.
	Transcribe(ctx context.Context, audio []byte, opts Options) (string, error)
}

// DefaultFilename is used when Options.Filename is empty.
const DefaultFilename = "recording.webm"

// ContentType guesses the media type of a recording from its file name.
func ContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/webm"
	}
}

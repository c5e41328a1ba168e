package stt

import "testing"

func TestContentType(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"question.wav":  "audio/wav",
		"question.MP3":  "audio/mpeg",
		"q.ogg":         "audio/ogg",
		"q.m4a":         "audio/mp4",
		"recording":     "audio/webm",
		"recording.webm": "audio/webm",
	}
	for name, want := range tests {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

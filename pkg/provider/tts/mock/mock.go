// Package mock is a scriptable [tts.Provider] for tests.
//
//	p := &mock.Provider{Chunks: [][]byte{[]byte("ID3"), []byte("...")}}
//	ch, _ := p.Synthesize(ctx, "Cells divide.", voice)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall is one recorded Synthesize invocation.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider streams Chunks for every call.
//
// StartErr fails the call outright. StreamErr is sent as the final chunk once
// FailAfter chunks were delivered. A non-nil Gate must yield one value per
// chunk, which lets tests hold narration mid-stream.
type Provider struct {
	Chunks      [][]byte
	StartErr    error
	StreamErr   error
	FailAfter   int
	AudioFormat types.AudioFormat
	Gate        chan struct{}

	mu    sync.Mutex
	calls []SynthesizeCall
}

func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (<-chan tts.Chunk, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: text, Voice: voice})
	chunks := slices.Clone(p.Chunks)
	startErr, streamErr, failAfter, gate := p.StartErr, p.StreamErr, p.FailAfter, p.Gate
	p.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	if streamErr != nil {
		chunks = chunks[:min(failAfter, len(chunks))]
	}

	ch := make(chan tts.Chunk)
	go func() {
		defer close(ch)
		emit := func(c tts.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, data := range chunks {
			if gate != nil {
				select {
				case <-gate:
				case <-ctx.Done():
					return
				}
			}
			if !emit(tts.Chunk{Data: slices.Clone(data)}) {
				return
			}
		}
		if streamErr != nil {
			emit(tts.Chunk{Err: streamErr})
		}
	}()
	return ch, nil
}

// Format returns AudioFormat, defaulting to mp3.
func (p *Provider) Format() types.AudioFormat {
	if p.AudioFormat == "" {
		return types.AudioFormatMP3
	}
	return p.AudioFormat
}

func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls returns the recorded invocations in order.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

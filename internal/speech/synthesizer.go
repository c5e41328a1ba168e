// Package speech turns text into audio across an ordered list of TTS
// providers.
//
// A [Synthesizer] tries providers in order through a resilience fallback
// group. Failover happens only while no audio has been handed to the caller:
// a provider that fails before its first chunk (or, in buffered mode, at any
// point) is abandoned and the whole text is synthesized again by the next
// provider. Partial output is never spliced onto another provider's output.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/resilience"
	"github.com/MrWong99/lectern/pkg/blob"
	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/types"
)

// DefaultChunkSize is the size of every streamed chunk except the last.
const DefaultChunkSize = 4096

var (
	// ErrSynthesisUnavailable is returned when no TTS provider is configured.
	ErrSynthesisUnavailable = errors.New("speech: no synthesis provider configured")

	// ErrSynthesisFailed is returned when every provider failed. It wraps
	// [resilience.ErrAllFailed] and the last provider error.
	ErrSynthesisFailed = errors.New("speech: synthesis failed")

	// ErrEmptyText is returned for blank input.
	ErrEmptyText = errors.New("speech: text must not be empty")

	// ErrNoBlobStore is returned by the store variants when no blob store is set.
	ErrNoBlobStore = errors.New("speech: no blob store configured")
)

// Entry names one TTS provider and the voice it speaks with.
type Entry struct {
	Name     string
	Provider tts.Provider
	Voice    types.VoiceProfile
}

// Audio is a fully buffered synthesis result.
type Audio struct {
	Data     []byte
	Format   types.AudioFormat
	Provider string
}

// Stored describes audio uploaded to the blob store.
type Stored struct {
	URL      string
	ByteSize int64
	Format   types.AudioFormat
	Provider string
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithChunkSize sets the streamed chunk size. Values <= 0 are ignored.
func WithChunkSize(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithFallbackConfig sets the per-provider circuit breaker configuration.
func WithFallbackConfig(cfg resilience.FallbackConfig) Option {
	return func(s *Synthesizer) { s.fallback = cfg }
}

// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	group     *resilience.FallbackGroup[Entry]
	store     blob.Store
	chunkSize int
	metrics   *observe.Metrics
	fallback  resilience.FallbackConfig
}

// New creates a Synthesizer over providers, tried in the given order. store
// may be nil when only streaming and buffering are needed.
func New(providers []Entry, store blob.Store, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		store:     store,
		chunkSize: DefaultChunkSize,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.fallback.CircuitBreaker.OnStateChange == nil {
		m := s.metrics
		s.fallback.CircuitBreaker.OnStateChange = func(name string, from, to resilience.State) {
			m.RecordCircuitTransition(context.Background(), observe.KindTTS, name, from.String(), to.String())
		}
	}
	for _, e := range providers {
		if e.Provider == nil {
			continue
		}
		if s.group == nil {
			s.group = resilience.NewFallbackGroup(e, e.Name, s.fallback)
			continue
		}
		s.group.AddFallback(e.Name, e)
	}
	return s
}

// Providers returns the configured provider names in failover order.
func (s *Synthesizer) Providers() []string {
	if s.group == nil {
		return nil
	}
	return s.group.Names()
}

// Synthesize starts a streaming synthesis of text. The returned [Stream] is
// positioned before the first chunk; the caller must Close it.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*Stream, error) {
	if err := s.check(text); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	st, err := resilience.ExecuteWithResult(s.group, func(e Entry) (*Stream, error) {
		return s.open(ctx, cancel, e, text)
	})
	if err != nil {
		cancel()
		return nil, wrapFailure(err)
	}
	return st, nil
}

// open starts e and waits for its first chunk so that early failures can be
// retried on the next provider.
func (s *Synthesizer) open(ctx context.Context, cancel context.CancelFunc, e Entry, text string) (*Stream, error) {
	start := time.Now()
	fail := func(err error) (*Stream, error) {
		s.metrics.ObserveProviderCall(ctx, e.Name, observe.KindTTS, start, err)
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	if err := fitsProvider(e.Provider, text); err != nil {
		return fail(err)
	}
	ch, err := e.Provider.Synthesize(ctx, text, e.Voice)
	if err != nil {
		return fail(err)
	}
	var (
		first tts.Chunk
		ok    bool
	)
	select {
	case first, ok = <-ch:
	case <-ctx.Done():
		go drain(ch)
		return fail(ctx.Err())
	}
	switch {
	case !ok && ctx.Err() != nil:
		return fail(ctx.Err())
	case !ok:
		return fail(errors.New("provider produced no audio"))
	case first.Err != nil:
		go drain(ch)
		return fail(first.Err)
	}
	return &Stream{
		ctx:       ctx,
		cancel:    cancel,
		src:       ch,
		buf:       first.Data,
		chunkSize: s.chunkSize,
		format:    e.Provider.Format(),
		provider:  e.Name,
		onDone: func(err error) {
			s.metrics.ObserveProviderCall(context.WithoutCancel(ctx), e.Name, observe.KindTTS, start, err)
		},
	}, nil
}

// Buffer synthesizes text completely. Any provider error discards that
// provider's output and retries with the next one.
func (s *Synthesizer) Buffer(ctx context.Context, text string) (Audio, error) {
	if err := s.check(text); err != nil {
		return Audio{}, err
	}
	ctx, span := observe.StartSpan(ctx, "speech.buffer")
	defer span.End()

	audio, err := resilience.ExecuteWithResult(s.group, func(e Entry) (Audio, error) {
		start := time.Now()
		data, err := s.collect(ctx, e, text)
		s.metrics.ObserveProviderCall(ctx, e.Name, observe.KindTTS, start, err)
		if err != nil {
			return Audio{}, fmt.Errorf("%s: %w", e.Name, err)
		}
		return Audio{Data: data, Format: e.Provider.Format(), Provider: e.Name}, nil
	})
	if err != nil {
		return Audio{}, wrapFailure(err)
	}
	return audio, nil
}

func (s *Synthesizer) collect(ctx context.Context, e Entry, text string) ([]byte, error) {
	if err := fitsProvider(e.Provider, text); err != nil {
		return nil, err
	}
	ch, err := e.Provider.Synthesize(ctx, text, e.Voice)
	if err != nil {
		return nil, err
	}
	var data []byte
	for c := range ch {
		if c.Err != nil {
			go drain(ch)
			return nil, c.Err
		}
		data = append(data, c.Data...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("provider produced no audio")
	}
	return data, nil
}

// SynthesizeAndStore buffers text and uploads it at key plus the extension of
// the provider that produced it.
func (s *Synthesizer) SynthesizeAndStore(ctx context.Context, text, key string) (Stored, error) {
	if s.store == nil {
		return Stored{}, ErrNoBlobStore
	}
	audio, err := s.Buffer(ctx, text)
	if err != nil {
		return Stored{}, err
	}
	return s.Store(ctx, audio, key)
}

// Store uploads already synthesized audio at key plus its format extension.
func (s *Synthesizer) Store(ctx context.Context, audio Audio, key string) (Stored, error) {
	if s.store == nil {
		return Stored{}, ErrNoBlobStore
	}
	start := time.Now()
	obj, err := s.store.Upload(ctx, audio.Data, key+audio.Format.Extension(), audio.Format.ContentType())
	s.metrics.ObserveProviderCall(ctx, "blob", observe.KindBlob, start, err)
	if err != nil {
		return Stored{}, fmt.Errorf("speech: upload %s: %w", key, err)
	}
	slog.Debug("speech: audio stored", "key", key, "provider", audio.Provider, "bytes", obj.Size)
	return Stored{URL: obj.URL, ByteSize: obj.Size, Format: audio.Format, Provider: audio.Provider}, nil
}

func (s *Synthesizer) check(text string) error {
	if s == nil || s.group == nil {
		return ErrSynthesisUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

func fitsProvider(p tts.Provider, text string) error {
	if sz, ok := p.(tts.Sizer); ok {
		if limit := sz.MaxTextLength(); limit > 0 && len([]rune(text)) > limit {
			return fmt.Errorf("text of %d characters exceeds provider limit %d", len([]rune(text)), limit)
		}
	}
	return nil
}

func wrapFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, resilience.ErrNoEntries) {
		return ErrSynthesisUnavailable
	}
	return fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
}

func drain(ch <-chan tts.Chunk) {
	for range ch {
	}
}

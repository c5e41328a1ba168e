package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/lectern/pkg/artifact"
	"github.com/MrWong99/lectern/pkg/blob"
	"github.com/MrWong99/lectern/pkg/provider/embeddings"
	"github.com/MrWong99/lectern/pkg/provider/llm"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a value of one provider kind from its config block.
type Factory[C, T any] func(ctx context.Context, cfg C) (T, error)

type factories[C, T any] struct {
	kind string
	m    map[string]Factory[C, T]
}

func newFactories[C, T any](kind string) factories[C, T] {
	return factories[C, T]{kind: kind, m: make(map[string]Factory[C, T])}
}

func (f factories[C, T]) create(ctx context.Context, name string, cfg C) (T, error) {
	factory, ok := f.m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return factory(ctx, cfg)
}

func (f factories[C, T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructors for each kind. It is
// safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	tts        factories[ProviderEntry, tts.Provider]
	llm        factories[ProviderEntry, llm.Provider]
	stt        factories[ProviderEntry, stt.Provider]
	embeddings factories[ProviderEntry, embeddings.Provider]
	blob       factories[BlobConfig, blob.Store]
	notes      factories[NotesConfig, artifact.Store]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts:        newFactories[ProviderEntry, tts.Provider]("tts"),
		llm:        newFactories[ProviderEntry, llm.Provider]("llm"),
		stt:        newFactories[ProviderEntry, stt.Provider]("stt"),
		embeddings: newFactories[ProviderEntry, embeddings.Provider]("embeddings"),
		blob:       newFactories[BlobConfig, blob.Store]("blob"),
		notes:      newFactories[NotesConfig, artifact.Store]("notes"),
	}
}

// RegisterTTS registers a TTS provider factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, f Factory[ProviderEntry, tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, f Factory[ProviderEntry, llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, f Factory[ProviderEntry, stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, f Factory[ProviderEntry, embeddings.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.m[name] = f
}

// RegisterBlob registers a blob store factory under a backend name.
func (r *Registry) RegisterBlob(backend string, f Factory[BlobConfig, blob.Store]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blob.m[backend] = f
}

// RegisterNoteStore registers a note store factory under a backend name.
func (r *Registry) RegisterNoteStore(backend string, f Factory[NotesConfig, artifact.Store]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes.m[backend] = f
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateTTS(ctx context.Context, entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(ctx, entry.Name, entry)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(ctx context.Context, entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(ctx, entry.Name, entry)
}

// CreateSTT instantiates the STT provider registered under entry.Name.
func (r *Registry) CreateSTT(ctx context.Context, entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(ctx, entry.Name, entry)
}

// CreateEmbeddings instantiates the embeddings provider registered under entry.Name.
func (r *Registry) CreateEmbeddings(ctx context.Context, entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.create(ctx, entry.Name, entry)
}

// CreateBlob instantiates the blob store registered under cfg.Backend.
func (r *Registry) CreateBlob(ctx context.Context, cfg BlobConfig) (blob.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.blob.create(ctx, cfg.Backend, cfg)
}

// CreateNoteStore instantiates the note store registered under cfg.Backend.
func (r *Registry) CreateNoteStore(ctx context.Context, cfg NotesConfig) (artifact.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notes.create(ctx, cfg.Backend, cfg)
}

// Names returns the registered names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"tts":        r.tts.names(),
		"llm":        r.llm.names(),
		"stt":        r.stt.names(),
		"embeddings": r.embeddings.names(),
		"blob":       r.blob.names(),
		"notes":      r.notes.names(),
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lectern/internal/app"
	"github.com/MrWong99/lectern/internal/config"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/resilience"
	"github.com/MrWong99/lectern/internal/speech"
	"github.com/MrWong99/lectern/pkg/artifact"
	artifactpostgres "github.com/MrWong99/lectern/pkg/artifact/postgres"
	artifactsqlite "github.com/MrWong99/lectern/pkg/artifact/sqlite"
	"github.com/MrWong99/lectern/pkg/blob"
	"github.com/MrWong99/lectern/pkg/blob/cloudinary"
	"github.com/MrWong99/lectern/pkg/blob/supabase"
	"github.com/MrWong99/lectern/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/lectern/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/lectern/pkg/provider/embeddings/openai"
	"github.com/MrWong99/lectern/pkg/provider/llm"
	"github.com/MrWong99/lectern/pkg/provider/llm/anyllm"
	geminillm "github.com/MrWong99/lectern/pkg/provider/llm/gemini"
	oallm "github.com/MrWong99/lectern/pkg/provider/llm/openai"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/lectern/pkg/provider/stt/openai"
	"github.com/MrWong99/lectern/pkg/provider/stt/whisper"
	"github.com/MrWong99/lectern/pkg/provider/tts"
	"github.com/MrWong99/lectern/pkg/provider/tts/coqui"
	"github.com/MrWong99/lectern/pkg/provider/tts/elevenlabs"
	geminitts "github.com/MrWong99/lectern/pkg/provider/tts/gemini"
	"github.com/MrWong99/lectern/pkg/provider/tts/minimax"
	oatts "github.com/MrWong99/lectern/pkg/provider/tts/openai"
	"github.com/MrWong99/lectern/pkg/types"
)

const defaultEmbeddingDimensions = 1536

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("minimax", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []minimax.Option
		if entry.BaseURL != "" {
			opts = append(opts, minimax.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, minimax.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, minimax.WithVoice(entry.Voice))
		}
		return minimax.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("gemini", func(ctx context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []geminitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, geminitts.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, geminitts.WithVoice(entry.Voice))
		}
		return geminitts.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, oatts.WithVoice(entry.Voice))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.Voice != "" {
			opts = append(opts, elevenlabs.WithVoice(entry.Voice))
		}
		stability, okS := entry.Options["stability"].(float64)
		similarity, okB := entry.Options["similarity_boost"].(float64)
		if okS && okB {
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(_ context.Context, entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("groq", func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "max_retries"); n > 0 {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		return oallm.NewGroq(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("gemini", func(ctx context.Context, entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(entry.BaseURL))
		}
		return geminillm.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends go through any-llm and share the same pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{"anthropic", "ollama", "deepseek", "mistral", "llamacpp", "llamafile"} {
		reg.RegisterLLM(providerName, func(_ context.Context, entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	for _, providerName := range []string{"groq", "openai"} {
		reg.RegisterSTT(providerName, func(_ context.Context, entry config.ProviderEntry) (stt.Provider, error) {
			baseURL := entry.BaseURL
			if baseURL == "" && providerName == "openai" {
				baseURL = "https://api.openai.com/v1"
			}
			var opts []oastt.Option
			if baseURL != "" {
				opts = append(opts, oastt.WithBaseURL(baseURL))
			}
			if entry.Model != "" {
				opts = append(opts, oastt.WithModel(entry.Model))
			}
			if lang := optString(entry.Options, "language"); lang != "" {
				opts = append(opts, oastt.WithLanguage(lang))
			}
			return oastt.New(entry.APIKey, opts...)
		})
	}

	reg.RegisterSTT("deepgram", func(_ context.Context, entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if terms := optStrings(entry.Options, "keyterms"); len(terms) > 0 {
			opts = append(opts, deepgram.WithKeyterms(terms...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(_ context.Context, entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := optString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(_ context.Context, entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(_ context.Context, entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(_ context.Context, entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if ka := optString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// registerBuiltinStores wires the note store and blob backends into reg.
func registerBuiltinStores(reg *config.Registry) {
	reg.RegisterNoteStore(config.BackendPostgres, func(ctx context.Context, cfg config.NotesConfig) (artifact.Store, error) {
		dims := cfg.EmbeddingDimensions
		if dims <= 0 {
			dims = defaultEmbeddingDimensions
		}
		return artifactpostgres.New(ctx, cfg.DSN, dims)
	})

	reg.RegisterNoteStore(config.BackendSQLite, func(ctx context.Context, cfg config.NotesConfig) (artifact.Store, error) {
		return artifactsqlite.Open(ctx, cfg.Path)
	})

	reg.RegisterBlob(config.BlobCloudinary, func(_ context.Context, cfg config.BlobConfig) (blob.Store, error) {
		var opts []cloudinary.Option
		if cfg.Folder != "" {
			opts = append(opts, cloudinary.WithFolder(cfg.Folder))
		}
		return cloudinary.New(cfg.CloudName, cfg.UploadPreset, opts...)
	})

	reg.RegisterBlob(config.BlobSupabase, func(_ context.Context, cfg config.BlobConfig) (blob.Store, error) {
		var opts []supabase.Option
		if cfg.Folder != "" {
			opts = append(opts, supabase.WithFolder(cfg.Folder))
		}
		return supabase.New(cfg.URL, cfg.APIKey, cfg.Bucket, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
//
// TTS entries keep their order so the synthesizer can fall back. STT entries
// are wrapped in a circuit-breaking fallback chain. The generator falls back
// to the chat LLM when both are configured.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	for _, entry := range cfg.Providers.TTS {
		p, err := create(ctx, "tts", entry, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		ps.TTS = append(ps.TTS, speech.Entry{
			Name:     entry.Name,
			Provider: p,
			Voice:    types.VoiceProfile{ID: entry.Voice, Provider: entry.Name, Language: optString(entry.Options, "language")},
		})
	}

	chat, err := create(ctx, "llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.Chat = chat

	generator, err := create(ctx, "generator", cfg.Providers.Generator, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	switch {
	case generator != nil && chat != nil:
		fb := resilience.NewLLMFallback(generator, cfg.Providers.Generator.Name, breakerConfig(observe.KindLLM))
		fb.AddFallback(cfg.Providers.LLM.Name, chat)
		ps.Generator = fb
	case generator != nil:
		ps.Generator = generator
	default:
		ps.Generator = chat
	}

	var sttChain *resilience.STTFallback
	for _, entry := range cfg.Providers.STT {
		p, err := create(ctx, "stt", entry, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		if sttChain == nil {
			sttChain = resilience.NewSTTFallback(p, entry.Name, breakerConfig(observe.KindSTT))
		} else {
			sttChain.AddFallback(entry.Name, p)
		}
	}
	if sttChain != nil {
		ps.STT = sttChain
	}

	emb, err := create(ctx, "embeddings", cfg.Providers.Embeddings, reg.CreateEmbeddings)
	if err != nil {
		return nil, err
	}
	ps.Embeddings = emb

	return ps, nil
}

// breakerConfig reports breaker transitions of kind to the default metrics.
func breakerConfig(kind string) resilience.FallbackConfig {
	m := observe.DefaultMetrics()
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			m.RecordCircuitTransition(context.Background(), kind, name, from.String(), to.String())
		},
	}}
}

// create builds one provider. An empty name yields the zero value; an
// unregistered name is logged and skipped.
func create[T any](ctx context.Context, kind string, entry config.ProviderEntry, f func(context.Context, config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := f(ctx, entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStrings extracts a list of strings. YAML decodes sequences as []any.
func optStrings(opts map[string]any, key string) []string {
	raw, _ := opts[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

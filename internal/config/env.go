package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by [ApplyEnv].
const EnvPrefix = "LECTERN_"

// overlay lists the values that may come from the environment. Empty
// variables leave the YAML value untouched.
type overlay struct {
	ListenAddr string `env:"LISTEN_ADDR"`
	LogLevel   string `env:"LOG_LEVEL"`

	GroqAPIKey       string `env:"GROQ_API_KEY"`
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	MinimaxAPIKey    string `env:"MINIMAX_API_KEY"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
	DeepgramAPIKey   string `env:"DEEPGRAM_API_KEY"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`

	CloudinaryCloudName    string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryUploadPreset string `env:"CLOUDINARY_UPLOAD_PRESET"`
	SupabaseURL            string `env:"SUPABASE_URL"`
	SupabaseKey            string `env:"SUPABASE_KEY"`

	PostgresDSN string `env:"POSTGRES_DSN"`
	RedisURL    string `env:"REDIS_URL"`
}

func (o overlay) apiKeys() map[string]string {
	return map[string]string{
		"groq":       o.GroqAPIKey,
		"gemini":     o.GeminiAPIKey,
		"minimax":    o.MinimaxAPIKey,
		"openai":     o.OpenAIAPIKey,
		"elevenlabs": o.ElevenLabsAPIKey,
		"deepgram":   o.DeepgramAPIKey,
		"anthropic":  o.AnthropicAPIKey,
	}
}

// ApplyEnv overlays LECTERN_* variables onto cfg. Provider API keys are
// matched by provider name. A nil environ reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o overlay
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}

	set(&cfg.Server.ListenAddr, o.ListenAddr)
	if o.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(o.LogLevel)
	}

	keys := o.apiKeys()
	apply := func(e *ProviderEntry) { set(&e.APIKey, keys[e.Name]) }
	for i := range cfg.Providers.TTS {
		apply(&cfg.Providers.TTS[i])
	}
	for i := range cfg.Providers.STT {
		apply(&cfg.Providers.STT[i])
	}
	apply(&cfg.Providers.LLM)
	apply(&cfg.Providers.Generator)
	apply(&cfg.Providers.Embeddings)

	blob := &cfg.Storage.Blob
	set(&blob.CloudName, o.CloudinaryCloudName)
	set(&blob.UploadPreset, o.CloudinaryUploadPreset)
	set(&blob.URL, o.SupabaseURL)
	set(&blob.APIKey, o.SupabaseKey)
	set(&cfg.Storage.Notes.DSN, o.PostgresDSN)
	set(&cfg.Storage.Cache.RedisURL, o.RedisURL)
	return nil
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// knownProviders lists the provider names the registry in cmd/lectern
// understands. Unknown names only produce a warning so that forks can
// register their own.
var knownProviders = map[string][]string{
	"tts":        {"minimax", "gemini", "openai", "elevenlabs", "coqui"},
	"llm":        {"groq", "openai", "gemini", "anthropic", "ollama", "deepseek", "mistral", "llamacpp", "llamafile"},
	"stt":        {"groq", "openai", "deepgram", "whisper", "whisper-native"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path, overlays secrets from the
// process environment and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result. The
// environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem in cfg as one joined error. Soft problems,
// such as a missing TTS provider, are logged as warnings instead.
func Validate(cfg *Config) error {
	return errors.Join(slices.Concat(
		validateServer(cfg.Server),
		validateProviders(cfg.Providers, cfg.Storage.Notes.Backend),
		validateStorage(cfg.Storage),
		validateExplain(cfg.Explain),
	)...)
}

func validateServer(s ServerConfig) []error {
	var errs []error
	if s.LogLevel != "" && !s.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", s.LogLevel))
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	return errs
}

func validateProviders(p ProvidersConfig, notesBackend string) []error {
	var errs []error
	chains := []struct {
		kind    string
		entries []ProviderEntry
	}{{"tts", p.TTS}, {"stt", p.STT}}
	for _, c := range chains {
		for i, e := range c.entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s[%d].name is required", c.kind, i))
				continue
			}
			warnUnknown(c.kind, e.Name)
		}
	}
	warnUnknown("llm", p.LLM.Name)
	warnUnknown("llm", p.Generator.Name)
	warnUnknown("embeddings", p.Embeddings.Name)

	if len(p.TTS) == 0 {
		slog.Warn("no TTS provider configured; explanations cannot be voiced")
	}
	if p.Generator.Name == "" && p.LLM.Name == "" {
		slog.Warn("neither providers.generator nor providers.llm is configured; document content cannot be generated")
	}
	if p.Embeddings.Name != "" && notesBackend != BackendPostgres {
		slog.Warn("semantic note search needs the postgres backend; providers.embeddings is ignored")
	}
	return errs
}

func validateStorage(st StorageConfig) []error {
	var errs []error
	notes := st.Notes
	switch notes.Backend {
	case "", BackendMemory:
	case BackendPostgres:
		if notes.DSN == "" {
			errs = append(errs, errors.New("storage.notes.dsn is required for the postgres backend"))
		}
	case BackendSQLite:
		if notes.Path == "" {
			errs = append(errs, errors.New("storage.notes.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.notes.backend %q is invalid; valid values: postgres, sqlite, memory", notes.Backend))
	}
	if notes.EmbeddingDimensions < 0 {
		errs = append(errs, errors.New("storage.notes.embedding_dimensions must not be negative"))
	}

	blob := st.Blob
	switch blob.Backend {
	case "", BlobMemory:
	case BlobCloudinary:
		if blob.CloudName == "" || blob.UploadPreset == "" {
			errs = append(errs, errors.New("storage.blob: cloudinary requires cloud_name and upload_preset"))
		}
	case BlobSupabase:
		if blob.URL == "" || blob.APIKey == "" || blob.Bucket == "" {
			errs = append(errs, errors.New("storage.blob: supabase requires url, api_key and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.blob.backend %q is invalid; valid values: cloudinary, supabase, memory", blob.Backend))
	}

	if st.Cache.TTL < 0 {
		errs = append(errs, errors.New("storage.cache.ttl must not be negative"))
	}
	if st.Documents.URLTemplate == "" && st.Documents.Directory == "" {
		errs = append(errs, errors.New("storage.documents requires url_template or directory"))
	}
	return errs
}

func validateExplain(ex ExplainConfig) []error {
	var errs []error
	if ex.Narration != "" && !ex.Narration.IsValid() {
		errs = append(errs, fmt.Errorf("explain.narration %q is invalid; valid values: single, conversation", ex.Narration))
	}
	for _, f := range []struct {
		name     string
		negative bool
	}{
		{"resume_grace", ex.ResumeGrace < 0},
		{"chunk_size", ex.ChunkSize < 0},
		{"history_max_tokens", ex.HistoryMaxTokens < 0},
	} {
		if f.negative {
			errs = append(errs, fmt.Errorf("explain.%s must not be negative", f.name))
		}
	}
	return errs
}

// warnUnknown logs names missing from [knownProviders].
func warnUnknown(kind, name string) {
	if name == "" || slices.Contains(knownProviders[kind], name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind, "name", name, "known", knownProviders[kind])
}

// Package config provides the configuration schema, loader, environment
// overlay and provider registry for the lectern server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Narration selects how explanations are voiced.
type Narration string

const (
	NarrationSingle       Narration = "single"
	NarrationConversation Narration = "conversation"
)

// IsValid reports whether n is a recognised narration mode.
func (n Narration) IsValid() bool {
	return n == NarrationSingle || n == NarrationConversation
}

// Note store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Blob store backends.
const (
	BlobCloudinary = "cloudinary"
	BlobSupabase   = "supabase"
	BlobMemory     = "memory"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Explain   ExplainConfig   `yaml:"explain"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PublicBaseURL is printed in the startup summary.
	PublicBaseURL string `yaml:"public_base_url"`

	// AllowedOrigins lists WebSocket origin patterns accepted by the explain
	// channel, e.g. "app.example.com" or "localhost:*".
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig declares the provider implementations per kind. TTS and
// STT are ordered fallback lists: the first entry is primary.
type ProvidersConfig struct {
	TTS        []ProviderEntry `yaml:"tts"`
	LLM        ProviderEntry   `yaml:"llm"`
	Generator  ProviderEntry   `yaml:"generator"`
	STT        []ProviderEntry `yaml:"stt"`
	Embeddings ProviderEntry   `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the constructor in the [Registry].
type ProviderEntry struct {
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint. Local servers
	// (coqui, whisper, ollama) use it as their address.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Voice selects the provider voice for TTS entries.
	Voice string `yaml:"voice"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	Notes     NotesConfig     `yaml:"notes"`
	Cache     CacheConfig     `yaml:"cache"`
	Blob      BlobConfig      `yaml:"blob"`
	Documents DocumentsConfig `yaml:"documents"`
}

// NotesConfig configures the note and study set store.
type NotesConfig struct {
	// Backend is postgres, sqlite or memory. Default: memory.
	Backend string `yaml:"backend"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// EmbeddingDimensions sizes the pgvector column. Must match the
	// embeddings model. Default: 1536.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// CacheConfig configures the optional Redis read-through tier.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// BlobConfig configures where synthesized audio is uploaded.
type BlobConfig struct {
	// Backend is cloudinary, supabase or memory. Default: memory.
	Backend string `yaml:"backend"`

	// Cloudinary.
	CloudName    string `yaml:"cloud_name"`
	UploadPreset string `yaml:"upload_preset"`

	// Supabase.
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Bucket string `yaml:"bucket"`

	Folder string `yaml:"folder"`
}

// DocumentsConfig configures where PDFs are read from. URLTemplate wins
// over Directory when both are set; "{id}" is replaced by the document id.
type DocumentsConfig struct {
	URLTemplate string `yaml:"url_template"`
	Directory   string `yaml:"directory"`
	CacheSize   int    `yaml:"cache_size"`
}

// ExplainConfig tunes the live explain sessions.
type ExplainConfig struct {
	Narration Narration `yaml:"narration"`

	// ResumeGrace is the pause after an answer before narration resumes.
	ResumeGrace time.Duration `yaml:"resume_grace"`

	// ChunkSize is the audio chunk size sent to clients.
	ChunkSize int `yaml:"chunk_size"`

	// HistoryMaxTokens enables rolling history summarisation. 0 keeps all.
	HistoryMaxTokens int `yaml:"history_max_tokens"`
}

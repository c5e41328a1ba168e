package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked; everything else is reported
// through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	NarrationChanged bool
	NewNarration     Narration

	// RestartRequired lists changed sections that only take effect after a
	// restart, e.g. "providers" or "storage".
	RestartRequired []string
}

// Changed reports whether anything that applies live changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.NarrationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Explain.Narration != new.Explain.Narration {
		d.NarrationChanged = true
		d.NewNarration = new.Explain.Narration
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !serverEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	oldEx, newEx := old.Explain, new.Explain
	oldEx.Narration, newEx.Narration = "", ""
	if oldEx != newEx {
		d.RestartRequired = append(d.RestartRequired, "explain")
	}
	return d
}

func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.ShutdownTimeout != b.ShutdownTimeout ||
		a.PublicBaseURL != b.PublicBaseURL || !slices.Equal(a.AllowedOrigins, b.AllowedOrigins) {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	return a.TLS == nil || *a.TLS == *b.TLS
}

func providersEqual(a, b ProvidersConfig) bool {
	return slices.EqualFunc(a.TTS, b.TTS, entryEqual) &&
		slices.EqualFunc(a.STT, b.STT, entryEqual) &&
		entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.Generator, b.Generator) &&
		entryEqual(a.Embeddings, b.Embeddings)
}

// entryEqual compares Options by length only.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Voice == b.Voice && len(a.Options) == len(b.Options)
}

// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps note text and search queries to dense float32
// vectors so notes can be ranked by semantic similarity. Vectors from different
// providers or models live in different spaces and must not be compared.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"unicode/utf8"
)

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The result
	// has length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector this provider returns.
	Dimensions() int

	// ModelID returns the model identifier (e.g., "text-embedding-3-small").
	ModelID() string
}

// Role tells a model what the text is embedded for.
type Role int

const (
	// RoleDocument is stored note text.
	RoleDocument Role = iota
	// RoleQuery is a search query compared against stored notes.
	RoleQuery
)

// RoleEmbedder is implemented by providers whose model was trained with
// different inputs for queries and passages, e.g. nomic-embed-text's
// "search_query: " prefix.
type RoleEmbedder interface {
	EmbedRole(ctx context.Context, role Role, text string) ([]float32, error)
}

// DefaultMaxInputChars bounds the text sent to an embedding model. Generated
// explanations can run to several thousand words while most embedding models
// accept roughly 8k tokens.
const DefaultMaxInputChars = 24000

// EmbedAs embeds text for role, truncated to DefaultMaxInputChars. Providers
// that do not implement [RoleEmbedder] get the plain text.
func EmbedAs(ctx context.Context, p Provider, role Role, text string) ([]float32, error) {
	text = Truncate(text, DefaultMaxInputChars)
	if re, ok := p.(RoleEmbedder); ok {
		return re.EmbedRole(ctx, role, text)
	}
	return p.Embed(ctx, text)
}

// Truncate shortens text to at most maxChars bytes without splitting a UTF-8
// sequence. A non-positive maxChars returns text unchanged.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

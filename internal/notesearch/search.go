// Package notesearch finds a user's saved notes for a document by free text.
//
// With an embeddings provider and a store implementing
// [artifact.VectorIndex], queries are ranked by cosine similarity. Otherwise,
// or when the embedding call fails, notes are ranked by the best
// Jaro-Winkler similarity of the query against their topic, section and
// subsection titles.
package notesearch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/lectern/pkg/artifact"
	"github.com/MrWong99/lectern/pkg/provider/embeddings"
)

// DefaultFuzzyThreshold is the minimum title similarity of a fuzzy hit.
const DefaultFuzzyThreshold = 0.7

// DefaultLimit applies when Search is called with limit <= 0.
const DefaultLimit = 10

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("notesearch: query must not be empty")

// Hit is one ranked note. Score is in [0, 1], higher is better.
type Hit struct {
	Note  artifact.Note `json:"note"`
	Score float64       `json:"score"`
}

// Option configures a [Searcher].
type Option func(*Searcher)

// WithEmbeddings enables vector search. Both values must be non-nil.
func WithEmbeddings(p embeddings.Provider, index artifact.VectorIndex) Option {
	return func(s *Searcher) {
		if p != nil && index != nil {
			s.embedder, s.index = p, index
		}
	}
}

// WithFuzzyThreshold overrides [DefaultFuzzyThreshold].
func WithFuzzyThreshold(t float64) Option {
	return func(s *Searcher) { s.threshold = t }
}

// Searcher is safe for concurrent use.
type Searcher struct {
	store     artifact.Store
	embedder  embeddings.Provider
	index     artifact.VectorIndex
	threshold float64
}

// New returns a Searcher over store.
func New(store artifact.Store, opts ...Option) *Searcher {
	s := &Searcher{store: store, threshold: DefaultFuzzyThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Semantic reports whether vector search is configured.
func (s *Searcher) Semantic() bool { return s.embedder != nil }

// Search returns up to limit notes of userID for pdfID ranked against query.
func (s *Searcher) Search(ctx context.Context, pdfID, userID, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if s.embedder != nil {
		hits, err := s.semantic(ctx, pdfID, userID, query, limit)
		if err == nil {
			return hits, nil
		}
		slog.Warn("notesearch: vector search failed, falling back to title match", "pdf_id", pdfID, "err", err)
	}
	return s.fuzzy(ctx, pdfID, userID, query, limit)
}

func (s *Searcher) semantic(ctx context.Context, pdfID, userID, query string, limit int) ([]Hit, error) {
	vec, err := embeddings.EmbedAs(ctx, s.embedder, embeddings.RoleQuery, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	scored, err := s.index.SearchSimilar(ctx, pdfID, userID, vec, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(scored))
	for _, sn := range scored {
		hits = append(hits, Hit{Note: sn.Note, Score: max(0, 1-sn.Distance)})
	}
	return hits, nil
}

func (s *Searcher) fuzzy(ctx context.Context, pdfID, userID, query string, limit int) ([]Hit, error) {
	notes, err := s.store.ListByPDF(ctx, pdfID, userID)
	if err != nil {
		return nil, fmt.Errorf("notesearch: list notes: %w", err)
	}
	q := strings.ToLower(query)
	qTokens := strings.Fields(q)

	var hits []Hit
	for _, n := range notes {
		score := 0.0
		for _, title := range []string{n.Topic, n.SectionTitle, n.SubsectionTitle} {
			if sc := titleScore(q, qTokens, title); sc > score {
				score = sc
			}
		}
		if score >= s.threshold {
			hits = append(hits, Hit{Note: n, Score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// titleScore is the best Jaro-Winkler similarity of the query against title:
// whole strings, then every query token against every title token.
func titleScore(query string, queryTokens []string, title string) float64 {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return 0
	}
	score := matchr.JaroWinkler(query, title, false)
	for _, qt := range queryTokens {
		for _, tt := range strings.Fields(title) {
			if sc := matchr.JaroWinkler(qt, tt, false); sc > score {
				score = sc
			}
		}
	}
	return score
}

// Index embeds note and stores the vector. It is a no-op without vector
// search and only logs failures.
func (s *Searcher) Index(ctx context.Context, note *artifact.Note) {
	if s.embedder == nil || note == nil || note.Key == "" {
		return
	}
	text := strings.Join([]string{note.Topic, note.SectionTitle, note.SubsectionTitle, note.TextContent}, "\n")
	vec, err := embeddings.EmbedAs(ctx, s.embedder, embeddings.RoleDocument, text)
	if err != nil {
		slog.Warn("notesearch: embed note failed", "key", note.Key, "err", err)
		return
	}
	if err := s.index.IndexEmbedding(ctx, note.Key, vec); err != nil {
		slog.Warn("notesearch: index note failed", "key", note.Key, "err", err)
	}
}

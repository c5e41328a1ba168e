// Package artifact stores generated study notes so that the same costly
// generation for a (document, topic, page range) is never repeated.
//
// A [Note] is immutable once written. Stores are insert-once: inserting a key
// that already exists leaves the stored note untouched and reports
// inserted=false, so concurrent producers of the same key converge on the
// first write.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no note matches a lookup.
	ErrNotFound = errors.New("artifact: not found")

	// ErrInvalidKey is returned when a composite key cannot be built.
	ErrInvalidKey = errors.New("artifact: invalid key")
)

// Content types.
const (
	ContentTypeExplain = "explain"
	ContentTypeRead    = "read"
)

// GeneralSection is the section title used for notes without one.
const GeneralSection = "General"

// Note is one cached study artifact.
type Note struct {
	ID              string    `json:"id"`
	Key             string    `json:"key"`
	PDFID           string    `json:"pdf_id"`
	Topic           string    `json:"topic"`
	SectionTitle    string    `json:"section_title"`
	SubsectionTitle string    `json:"subsection_title"`
	StartPage       int       `json:"start_page"`
	EndPage         int       `json:"end_page"`
	ContentType     string    `json:"content_type"`
	ReadingContent  string    `json:"reading_content"`
	TextContent     string    `json:"text_content"`
	AudioURL        string    `json:"audio_url,omitempty"`
	AudioSize       int64     `json:"audio_size,omitempty"`
	ImportantPoints []string  `json:"important_points,omitempty"`
	ShortNotes      string    `json:"short_notes,omitempty"`
	CreatedBy       string    `json:"created_by_user"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Matches reports whether n belongs to the section lookup. Empty section or
// subsection values match any.
func (n *Note) Matches(pdfID, userID, topic, section, subsection string) bool {
	if n.PDFID != pdfID || n.CreatedBy != userID || n.Topic != topic {
		return false
	}
	if section != "" && n.SectionTitle != section {
		return false
	}
	return subsection == "" || n.SubsectionTitle == subsection
}

// SanitizeTopic replaces every rune that is not an ASCII letter or digit
// with an underscore.
func SanitizeTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, topic)
}

// CompositeKey returns "{pdfID}_{sanitized topic}_{start}_{end}".
func CompositeKey(pdfID, topic string, start, end int) (string, error) {
	switch {
	case pdfID == "":
		return "", fmt.Errorf("%w: empty pdf id", ErrInvalidKey)
	case strings.TrimSpace(topic) == "":
		return "", fmt.Errorf("%w: empty topic", ErrInvalidKey)
	case start < 1 || end < start:
		return "", fmt.Errorf("%w: page range %d-%d", ErrInvalidKey, start, end)
	}
	return fmt.Sprintf("%s_%s_%d_%d", pdfID, SanitizeTopic(topic), start, end), nil
}

// Store persists notes. Implementations must be safe for concurrent use.
type Store interface {
	// Find returns the note stored under key or ErrNotFound.
	Find(ctx context.Context, key string) (*Note, error)

	// FindBySection returns the newest note for the (document, user, topic)
	// narrowed by section and subsection when those are non-empty.
	FindBySection(ctx context.Context, pdfID, userID, topic, section, subsection string) (*Note, error)

	// Insert stores note once. An existing key is left unchanged and
	// inserted is false.
	Insert(ctx context.Context, note *Note) (inserted bool, err error)

	// Delete removes the note stored under key or returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// ListByPDF returns the user's notes for pdfID, newest first.
	ListByPDF(ctx context.Context, pdfID, userID string) ([]Note, error)

	Ping(ctx context.Context) error
	Close() error
}

// SectionGroup is a set of notes sharing section and subsection titles.
type SectionGroup struct {
	SectionTitle    string `json:"section_title"`
	SubsectionTitle string `json:"subsection_title,omitempty"`
	Notes           []Note `json:"notes"`
	TotalNotes      int    `json:"total_notes"`
}

// GroupBySection groups notes (expected newest first) by section and
// subsection. Groups appear in the order their first note appears.
func GroupBySection(notes []Note) []SectionGroup {
	type groupKey struct{ section, subsection string }
	index := make(map[groupKey]int)
	groups := []SectionGroup{}
	for _, n := range notes {
		section := n.SectionTitle
		if section == "" {
			section = GeneralSection
		}
		k := groupKey{section, n.SubsectionTitle}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, SectionGroup{SectionTitle: section, SubsectionTitle: n.SubsectionTitle})
		}
		groups[i].Notes = append(groups[i].Notes, n)
		groups[i].TotalNotes++
	}
	return groups
}

// ScoredNote is a vector search result. Distance is the cosine distance to
// the query, smaller is closer.
type ScoredNote struct {
	Note     Note
	Distance float64
}

// VectorIndex is implemented by stores that can keep note embeddings.
type VectorIndex interface {
	// IndexEmbedding stores the embedding for the note under key, replacing
	// any previous one.
	IndexEmbedding(ctx context.Context, key string, embedding []float32) error

	// SearchSimilar returns the user's notes for pdfID ordered by ascending
	// cosine distance to embedding.
	SearchSimilar(ctx context.Context, pdfID, userID string, embedding []float32, limit int) ([]ScoredNote, error)
}

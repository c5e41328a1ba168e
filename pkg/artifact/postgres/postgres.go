// Package postgres implements artifact.Store and artifact.VectorIndex on
// PostgreSQL with the pgvector extension.
//
// Notes live in the notes table keyed by their composite key. Embeddings are
// kept apart in note_embeddings so that the notes table stays usable when the
// deployment has no embeddings provider.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/lectern/pkg/artifact"
)

const ddlNotes = `
CREATE TABLE IF NOT EXISTS notes (
    key              TEXT PRIMARY KEY,
    id               TEXT NOT NULL UNIQUE,
    pdf_id           TEXT NOT NULL,
    topic            TEXT NOT NULL,
    section_title    TEXT NOT NULL DEFAULT '',
    subsection_title TEXT NOT NULL DEFAULT '',
    start_page       INTEGER NOT NULL,
    end_page         INTEGER NOT NULL,
    content_type     TEXT NOT NULL DEFAULT 'explain',
    reading_content  TEXT NOT NULL DEFAULT '',
    text_content     TEXT NOT NULL DEFAULT '',
    audio_url        TEXT NOT NULL DEFAULT '',
    audio_size       BIGINT NOT NULL DEFAULT 0,
    important_points TEXT[] NOT NULL DEFAULT '{}',
    short_notes      TEXT NOT NULL DEFAULT '',
    created_by       TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notes_pdf_user
    ON notes (pdf_id, created_by, created_at DESC);
`

// ddlEmbeddings returns the DDL for the note_embeddings table. dimensions
// must match the embeddings model.
func ddlEmbeddings(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS note_embeddings (
    note_key  TEXT PRIMARY KEY REFERENCES notes (key) ON DELETE CASCADE,
    embedding vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_note_embeddings_embedding
    ON note_embeddings USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate creates the notes table and, when dimensions > 0, the pgvector
// embeddings table. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	statements := []string{ddlNotes}
	if dimensions > 0 {
		statements = append(statements, ddlEmbeddings(dimensions))
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("artifact postgres: migrate: %w", err)
		}
	}
	return nil
}

// Store is the PostgreSQL note store. All methods are safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

var (
	_ artifact.Store       = (*Store)(nil)
	_ artifact.VectorIndex = (*Store)(nil)
)

// New connects to dsn and runs [Migrate]. dimensions is the embedding size
// for note search; zero disables the vector index.
func New(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("artifact postgres: parse dsn: %w", err)
	}
	if dimensions > 0 {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("artifact postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("artifact postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, dimensions: dimensions}, nil
}

const noteColumns = `key, id, pdf_id, topic, section_title, subsection_title, start_page, end_page,
	content_type, reading_content, text_content, audio_url, audio_size, important_points,
	short_notes, created_by, created_at, updated_at`

const joinedColumns = `n.key, n.id, n.pdf_id, n.topic, n.section_title, n.subsection_title,
	n.start_page, n.end_page, n.content_type, n.reading_content, n.text_content, n.audio_url,
	n.audio_size, n.important_points, n.short_notes, n.created_by, n.created_at, n.updated_at`

func scanNote(row pgx.Row) (artifact.Note, error) {
	var n artifact.Note
	err := row.Scan(&n.Key, &n.ID, &n.PDFID, &n.Topic, &n.SectionTitle, &n.SubsectionTitle,
		&n.StartPage, &n.EndPage, &n.ContentType, &n.ReadingContent, &n.TextContent,
		&n.AudioURL, &n.AudioSize, &n.ImportantPoints, &n.ShortNotes, &n.CreatedBy,
		&n.CreatedAt, &n.UpdatedAt)
	return n, err
}

// Find implements artifact.Store.
func (s *Store) Find(ctx context.Context, key string) (*artifact.Note, error) {
	n, err := scanNote(s.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("artifact postgres: find %q: %w", key, err)
	}
	return &n, nil
}

// FindBySection implements artifact.Store.
func (s *Store) FindBySection(ctx context.Context, pdfID, userID, topic, section, subsection string) (*artifact.Note, error) {
	const q = `SELECT ` + noteColumns + `
		FROM notes
		WHERE pdf_id = $1 AND created_by = $2 AND topic = $3
		  AND ($4::text = '' OR section_title = $4::text)
		  AND ($5::text = '' OR subsection_title = $5::text)
		ORDER BY created_at DESC
		LIMIT 1`
	n, err := scanNote(s.pool.QueryRow(ctx, q, pdfID, userID, topic, section, subsection))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("artifact postgres: find by section: %w", err)
	}
	return &n, nil
}

// Insert implements artifact.Store with ON CONFLICT DO NOTHING.
func (s *Store) Insert(ctx context.Context, n *artifact.Note) (bool, error) {
	points := n.ImportantPoints
	if points == nil {
		points = []string{}
	}
	const q = `
		INSERT INTO notes (key, id, pdf_id, topic, section_title, subsection_title, start_page, end_page,
			content_type, reading_content, text_content, audio_url, audio_size, important_points,
			short_notes, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (key) DO NOTHING`
	tag, err := s.pool.Exec(ctx, q,
		n.Key, n.ID, n.PDFID, n.Topic, n.SectionTitle, n.SubsectionTitle, n.StartPage, n.EndPage,
		n.ContentType, n.ReadingContent, n.TextContent, n.AudioURL, n.AudioSize, points,
		n.ShortNotes, n.CreatedBy, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("artifact postgres: insert %q: %w", n.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete implements artifact.Store. The embedding row is removed by cascade.
func (s *Store) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notes WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("artifact postgres: delete %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return artifact.ErrNotFound
	}
	return nil
}

// ListByPDF implements artifact.Store.
func (s *Store) ListByPDF(ctx context.Context, pdfID, userID string) ([]artifact.Note, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+noteColumns+`
		FROM notes WHERE pdf_id = $1 AND created_by = $2 ORDER BY created_at DESC`, pdfID, userID)
	if err != nil {
		return nil, fmt.Errorf("artifact postgres: list: %w", err)
	}
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (artifact.Note, error) {
		return scanNote(row)
	})
	if err != nil {
		return nil, fmt.Errorf("artifact postgres: scan rows: %w", err)
	}
	if notes == nil {
		notes = []artifact.Note{}
	}
	return notes, nil
}

// IndexEmbedding implements artifact.VectorIndex.
func (s *Store) IndexEmbedding(ctx context.Context, key string, embedding []float32) error {
	if s.dimensions == 0 {
		return errors.New("artifact postgres: vector index disabled")
	}
	if len(embedding) != s.dimensions {
		return fmt.Errorf("artifact postgres: embedding has %d dimensions, want %d", len(embedding), s.dimensions)
	}
	const q = `
		INSERT INTO note_embeddings (note_key, embedding) VALUES ($1, $2)
		ON CONFLICT (note_key) DO UPDATE SET embedding = EXCLUDED.embedding`
	if _, err := s.pool.Exec(ctx, q, key, pgvector.NewVector(embedding)); err != nil {
		return fmt.Errorf("artifact postgres: index embedding %q: %w", key, err)
	}
	return nil
}

// SearchSimilar implements artifact.VectorIndex.
func (s *Store) SearchSimilar(ctx context.Context, pdfID, userID string, embedding []float32, limit int) ([]artifact.ScoredNote, error) {
	if s.dimensions == 0 {
		return nil, errors.New("artifact postgres: vector index disabled")
	}
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT ` + joinedColumns + `, e.embedding <=> $1 AS distance
		FROM note_embeddings e
		JOIN notes n ON n.key = e.note_key
		WHERE n.pdf_id = $2 AND n.created_by = $3
		ORDER BY distance
		LIMIT $4`
	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), pdfID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("artifact postgres: search: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (artifact.ScoredNote, error) {
		var (
			sn artifact.ScoredNote
			n  = &sn.Note
		)
		err := row.Scan(&n.Key, &n.ID, &n.PDFID, &n.Topic, &n.SectionTitle, &n.SubsectionTitle,
			&n.StartPage, &n.EndPage, &n.ContentType, &n.ReadingContent, &n.TextContent,
			&n.AudioURL, &n.AudioSize, &n.ImportantPoints, &n.ShortNotes, &n.CreatedBy,
			&n.CreatedAt, &n.UpdatedAt, &sn.Distance)
		return sn, err
	})
	if err != nil {
		return nil, fmt.Errorf("artifact postgres: scan search rows: %w", err)
	}
	if results == nil {
		results = []artifact.ScoredNote{}
	}
	return results, nil
}

// Ping implements artifact.Store.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close implements artifact.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

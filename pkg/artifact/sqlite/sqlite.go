// Package sqlite implements artifact.Store on an embedded SQLite file for
// single node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/lectern/pkg/artifact"
)

const ddl = `
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
    audio_size       INTEGER NOT NULL DEFAULT 0,
    important_points TEXT NOT NULL DEFAULT '[]',
    short_notes      TEXT NOT NULL DEFAULT '',
    created_by       TEXT NOT NULL,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_pdf_user ON notes(pdf_id, created_by, created_at);
`

// Timestamps are stored as fixed width UTC text so that lexical order is
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the SQLite note store.
type Store struct {
	db *sql.DB
}

var _ artifact.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("artifact sqlite: create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("artifact sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("artifact sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("artifact sqlite: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

const columns = `key, id, pdf_id, topic, section_title, subsection_title, start_page, end_page,
	content_type, reading_content, text_content, audio_url, audio_size, important_points,
	short_notes, created_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (artifact.Note, error) {
	var (
		n                artifact.Note
		points           string
		created, updated string
	)
	err := row.Scan(&n.Key, &n.ID, &n.PDFID, &n.Topic, &n.SectionTitle, &n.SubsectionTitle,
		&n.StartPage, &n.EndPage, &n.ContentType, &n.ReadingContent, &n.TextContent,
		&n.AudioURL, &n.AudioSize, &points, &n.ShortNotes, &n.CreatedBy, &created, &updated)
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal([]byte(points), &n.ImportantPoints); err != nil {
		return n, fmt.Errorf("decode important_points: %w", err)
	}
	if n.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return n, fmt.Errorf("decode created_at: %w", err)
	}
	if n.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return n, fmt.Errorf("decode updated_at: %w", err)
	}
	return n, nil
}

// Find implements artifact.Store.
func (s *Store) Find(ctx context.Context, key string) (*artifact.Note, error) {
	n, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM notes WHERE key = ?`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("artifact sqlite: find %q: %w", key, err)
	}
	return &n, nil
}

// FindBySection implements artifact.Store.
func (s *Store) FindBySection(ctx context.Context, pdfID, userID, topic, section, subsection string) (*artifact.Note, error) {
	const q = `SELECT ` + columns + ` FROM notes
		WHERE pdf_id = ?1 AND created_by = ?2 AND topic = ?3
		  AND (?4 = '' OR section_title = ?4)
		  AND (?5 = '' OR subsection_title = ?5)
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`
	n, err := scan(s.db.QueryRowContext(ctx, q, pdfID, userID, topic, section, subsection))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, artifact.ErrNotFound
		}
		return nil, fmt.Errorf("artifact sqlite: find by section: %w", err)
	}
	return &n, nil
}

// Insert implements artifact.Store with INSERT OR IGNORE.
func (s *Store) Insert(ctx context.Context, n *artifact.Note) (bool, error) {
	points := n.ImportantPoints
	if points == nil {
		points = []string{}
	}
	encoded, err := json.Marshal(points)
	if err != nil {
		return false, fmt.Errorf("artifact sqlite: encode important_points: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO notes (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Key, n.ID, n.PDFID, n.Topic, n.SectionTitle, n.SubsectionTitle, n.StartPage, n.EndPage,
		n.ContentType, n.ReadingContent, n.TextContent, n.AudioURL, n.AudioSize, string(encoded),
		n.ShortNotes, n.CreatedBy, n.CreatedAt.UTC().Format(timeLayout), n.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return false, fmt.Errorf("artifact sqlite: insert %q: %w", n.Key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("artifact sqlite: rows affected: %w", err)
	}
	return affected == 1, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("artifact sqlite: delete %q: %w", key, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return artifact.ErrNotFound
	}
	return nil
}

// ListByPDF implements artifact.Store.
func (s *Store) ListByPDF(ctx context.Context, pdfID, userID string) ([]artifact.Note, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM notes
		WHERE pdf_id = ? AND created_by = ? ORDER BY created_at DESC, rowid DESC`, pdfID, userID)
	if err != nil {
		return nil, fmt.Errorf("artifact sqlite: list: %w", err)
	}
	defer rows.Close()

	notes := []artifact.Note{}
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("artifact sqlite: scan: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact sqlite: rows: %w", err)
	}
	return notes, nil
}

// Ping implements artifact.Store.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements artifact.Store.
func (s *Store) Close() error { return s.db.Close() }

// Package postgres implements studyset.Store on PostgreSQL. Flashcards, quiz
// questions and attempt results are stored as JSONB documents next to the
// relational header columns used for lookups.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lectern/pkg/studyset"
)

// Schema is the SQL DDL for the study set tables, applied by [Store.Migrate].
const Schema = `
CREATE TABLE IF NOT EXISTS flashcard_sets (
    id               TEXT PRIMARY KEY,
    pdf_id           TEXT NOT NULL,
    topic            TEXT NOT NULL,
    section_title    TEXT NOT NULL DEFAULT '',
    subsection_title TEXT NOT NULL DEFAULT '',
    start_page       INTEGER NOT NULL,
    end_page         INTEGER NOT NULL,
    items            JSONB NOT NULL DEFAULT '[]',
    created_by       TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_flashcard_sets_scope
    ON flashcard_sets (pdf_id, created_by, topic, section_title);

CREATE TABLE IF NOT EXISTS quizzes (
    id               TEXT PRIMARY KEY,
    pdf_id           TEXT NOT NULL,
    topic            TEXT NOT NULL,
    section_title    TEXT NOT NULL DEFAULT '',
    subsection_title TEXT NOT NULL DEFAULT '',
    start_page       INTEGER NOT NULL,
    end_page         INTEGER NOT NULL,
    items            JSONB NOT NULL DEFAULT '[]',
    created_by       TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_quizzes_scope
    ON quizzes (pdf_id, created_by, topic, section_title);

CREATE TABLE IF NOT EXISTS quiz_attempts (
    id              TEXT PRIMARY KEY,
    quiz_id         TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    results         JSONB NOT NULL DEFAULT '[]',
    total_score     INTEGER NOT NULL,
    total_questions INTEGER NOT NULL,
    completion_time DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_quiz_attempts_quiz ON quiz_attempts (quiz_id, user_id);
`

const (
	tableFlashcards = "flashcard_sets"
	tableQuizzes    = "quizzes"
)

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store is a studyset.Store backed by PostgreSQL.
type Store struct {
	db    DB
	close func()
}

var _ studyset.Store = (*Store)(nil)

// New opens a pool for dsn, pings it and applies [Schema].
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("studyset: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("studyset: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection or pool. The caller owns db and is
// responsible for calling [Store.Migrate].
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("studyset: migrate: %w", err)
	}
	return nil
}

// Ping implements studyset.Store.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close releases the pool when the store opened it.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

const headerColumns = `id, pdf_id, topic, section_title, subsection_title, start_page, end_page, items, created_by, created_at, updated_at`

// insertSet stores h with items marshalled into the JSONB column of table.
func (s *Store) insertSet(ctx context.Context, table string, h *studyset.Header, items any) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("studyset: marshal items: %w", err)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (id, pdf_id, topic, section_title, subsection_title, start_page, end_page, items, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`, table)
	err = s.db.QueryRow(ctx, q,
		h.ID, h.PDFID, h.Topic, h.SectionTitle, h.SubsectionTitle, h.StartPage, h.EndPage, raw, h.CreatedBy,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("studyset: insert into %s: %w", table, err)
	}
	return nil
}

func scanHeader(row pgx.Row, h *studyset.Header, items *[]byte) error {
	return row.Scan(&h.ID, &h.PDFID, &h.Topic, &h.SectionTitle, &h.SubsectionTitle,
		&h.StartPage, &h.EndPage, items, &h.CreatedBy, &h.CreatedAt, &h.UpdatedAt)
}

func (s *Store) findOne(ctx context.Context, table, where string, args ...any) (studyset.Header, []byte, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at DESC LIMIT 1`, headerColumns, table, where)
	var (
		h   studyset.Header
		raw []byte
	)
	if err := scanHeader(s.db.QueryRow(ctx, q, args...), &h, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return h, nil, studyset.ErrNotFound
		}
		return h, nil, fmt.Errorf("studyset: query %s: %w", table, err)
	}
	return h, raw, nil
}

// scopeWhere matches a section lookup. An empty subsection ($5) matches any.
const scopeWhere = `pdf_id = $1 AND created_by = $2 AND topic = $3 AND section_title = $4 AND ($5::text = '' OR subsection_title = $5::text)`

func (s *Store) list(ctx context.Context, table, pdfID, userID string, fn func(studyset.Header, []byte) error) error {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE pdf_id = $1 AND created_by = $2 ORDER BY created_at DESC`, headerColumns, table)
	rows, err := s.db.Query(ctx, q, pdfID, userID)
	if err != nil {
		return fmt.Errorf("studyset: list %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			h   studyset.Header
			raw []byte
		)
		if err := scanHeader(rows, &h, &raw); err != nil {
			return fmt.Errorf("studyset: scan %s: %w", table, err)
		}
		if err := fn(h, raw); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) deleteOne(ctx context.Context, table, id, userID string) error {
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND created_by = $2`, table), id, userID)
	if err != nil {
		return fmt.Errorf("studyset: delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return studyset.ErrNotFound
	}
	return nil
}

func decodeFlashcards(h studyset.Header, raw []byte) (*studyset.FlashcardSet, error) {
	set := &studyset.FlashcardSet{Header: h}
	if err := json.Unmarshal(raw, &set.Flashcards); err != nil {
		return nil, fmt.Errorf("studyset: decode flashcards %s: %w", h.ID, err)
	}
	return set, nil
}

func decodeQuiz(h studyset.Header, raw []byte) (*studyset.Quiz, error) {
	q := &studyset.Quiz{Header: h}
	if err := json.Unmarshal(raw, &q.Questions); err != nil {
		return nil, fmt.Errorf("studyset: decode quiz %s: %w", h.ID, err)
	}
	return q, nil
}

// FindFlashcards implements studyset.Store.
func (s *Store) FindFlashcards(ctx context.Context, pdfID, userID, topic, section, subsection string) (*studyset.FlashcardSet, error) {
	h, raw, err := s.findOne(ctx, tableFlashcards, scopeWhere, pdfID, userID, topic, section, subsection)
	if err != nil {
		return nil, err
	}
	return decodeFlashcards(h, raw)
}

// InsertFlashcards implements studyset.Store.
func (s *Store) InsertFlashcards(ctx context.Context, set *studyset.FlashcardSet) error {
	items := set.Flashcards
	if items == nil {
		items = []studyset.Flashcard{}
	}
	return s.insertSet(ctx, tableFlashcards, &set.Header, items)
}

// GetFlashcards implements studyset.Store.
func (s *Store) GetFlashcards(ctx context.Context, id, userID string) (*studyset.FlashcardSet, error) {
	h, raw, err := s.findOne(ctx, tableFlashcards, `id = $1 AND created_by = $2`, id, userID)
	if err != nil {
		return nil, err
	}
	return decodeFlashcards(h, raw)
}

// ListFlashcards implements studyset.Store.
func (s *Store) ListFlashcards(ctx context.Context, pdfID, userID string) ([]studyset.FlashcardSet, error) {
	out := []studyset.FlashcardSet{}
	err := s.list(ctx, tableFlashcards, pdfID, userID, func(h studyset.Header, raw []byte) error {
		set, err := decodeFlashcards(h, raw)
		if err != nil {
			return err
		}
		out = append(out, *set)
		return nil
	})
	return out, err
}

// DeleteFlashcards implements studyset.Store.
func (s *Store) DeleteFlashcards(ctx context.Context, id, userID string) error {
	return s.deleteOne(ctx, tableFlashcards, id, userID)
}

// FindQuiz implements studyset.Store.
func (s *Store) FindQuiz(ctx context.Context, pdfID, userID, topic, section, subsection string) (*studyset.Quiz, error) {
	h, raw, err := s.findOne(ctx, tableQuizzes, scopeWhere, pdfID, userID, topic, section, subsection)
	if err != nil {
		return nil, err
	}
	return decodeQuiz(h, raw)
}

// InsertQuiz implements studyset.Store.
func (s *Store) InsertQuiz(ctx context.Context, quiz *studyset.Quiz) error {
	items := quiz.Questions
	if items == nil {
		items = []studyset.Question{}
	}
	return s.insertSet(ctx, tableQuizzes, &quiz.Header, items)
}

// GetQuiz implements studyset.Store.
func (s *Store) GetQuiz(ctx context.Context, id, userID string) (*studyset.Quiz, error) {
	h, raw, err := s.findOne(ctx, tableQuizzes, `id = $1 AND created_by = $2`, id, userID)
	if err != nil {
		return nil, err
	}
	return decodeQuiz(h, raw)
}

// ListQuizzes implements studyset.Store.
func (s *Store) ListQuizzes(ctx context.Context, pdfID, userID string) ([]studyset.Quiz, error) {
	out := []studyset.Quiz{}
	err := s.list(ctx, tableQuizzes, pdfID, userID, func(h studyset.Header, raw []byte) error {
		q, err := decodeQuiz(h, raw)
		if err != nil {
			return err
		}
		out = append(out, *q)
		return nil
	})
	return out, err
}

// DeleteQuiz implements studyset.Store.
func (s *Store) DeleteQuiz(ctx context.Context, id, userID string) error {
	return s.deleteOne(ctx, tableQuizzes, id, userID)
}

// InsertAttempt implements studyset.Store.
func (s *Store) InsertAttempt(ctx context.Context, a *studyset.QuizAttempt) error {
	raw, err := json.Marshal(a.Results)
	if err != nil {
		return fmt.Errorf("studyset: marshal results: %w", err)
	}
	const q = `
		INSERT INTO quiz_attempts (id, quiz_id, user_id, results, total_score, total_questions, completion_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`
	err = s.db.QueryRow(ctx, q,
		a.ID, a.QuizID, a.UserID, raw, a.TotalScore, a.TotalQuestions, a.CompletionTime,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("studyset: insert attempt: %w", err)
	}
	return nil
}

// ListAttempts implements studyset.Store.
func (s *Store) ListAttempts(ctx context.Context, quizID, userID string) ([]studyset.QuizAttempt, error) {
	const q = `
		SELECT id, quiz_id, user_id, results, total_score, total_questions, completion_time, created_at
		FROM quiz_attempts
		WHERE quiz_id = $1 AND user_id = $2
		ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, q, quizID, userID)
	if err != nil {
		return nil, fmt.Errorf("studyset: list attempts: %w", err)
	}
	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (studyset.QuizAttempt, error) {
		var (
			a   studyset.QuizAttempt
			raw []byte
		)
		if err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &raw, &a.TotalScore, &a.TotalQuestions, &a.CompletionTime, &a.CreatedAt); err != nil {
			return a, err
		}
		if err := json.Unmarshal(raw, &a.Results); err != nil {
			return a, fmt.Errorf("decode results: %w", err)
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("studyset: scan attempts: %w", err)
	}
	if attempts == nil {
		attempts = []studyset.QuizAttempt{}
	}
	return attempts, nil
}

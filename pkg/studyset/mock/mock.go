// Package mock provides an in-memory studyset.Store for tests and for
// deployments without a database.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/lectern/pkg/studyset"
)

// Store is an in-memory implementation of studyset.Store. The zero value is
// ready to use.
type Store struct {
	mu sync.Mutex

	flashcards []studyset.FlashcardSet
	quizzes    []studyset.Quiz
	attempts   []studyset.QuizAttempt

	// Err, if set, is returned by every method.
	Err error

	// Call counters.
	InsertFlashcardsCalls int
	DeleteFlashcardsCalls int
	InsertQuizCalls       int
	DeleteQuizCalls       int
	InsertAttemptCalls    int
}

func matches(h studyset.Header, pdfID, userID, topic, section, subsection string) bool {
	if h.PDFID != pdfID || h.CreatedBy != userID || h.Topic != topic || h.SectionTitle != section {
		return false
	}
	return subsection == "" || h.SubsectionTitle == subsection
}

func newestFirst(a, b studyset.Header) int { return b.CreatedAt.Compare(a.CreatedAt) }

// FindFlashcards implements studyset.Store.
func (s *Store) FindFlashcards(_ context.Context, pdfID, userID, topic, section, subsection string) (*studyset.FlashcardSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var best *studyset.FlashcardSet
	for i := range s.flashcards {
		fs := &s.flashcards[i]
		if matches(fs.Header, pdfID, userID, topic, section, subsection) && (best == nil || fs.CreatedAt.After(best.CreatedAt)) {
			best = fs
		}
	}
	if best == nil {
		return nil, studyset.ErrNotFound
	}
	out := *best
	return &out, nil
}

// InsertFlashcards implements studyset.Store.
func (s *Store) InsertFlashcards(_ context.Context, set *studyset.FlashcardSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertFlashcardsCalls++
	if s.Err != nil {
		return s.Err
	}
	set.Stamp(time.Now())
	s.flashcards = append(s.flashcards, *set)
	return nil
}

// GetFlashcards implements studyset.Store.
func (s *Store) GetFlashcards(_ context.Context, id, userID string) (*studyset.FlashcardSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, fs := range s.flashcards {
		if fs.ID == id && fs.CreatedBy == userID {
			return &fs, nil
		}
	}
	return nil, studyset.ErrNotFound
}

// ListFlashcards implements studyset.Store.
func (s *Store) ListFlashcards(_ context.Context, pdfID, userID string) ([]studyset.FlashcardSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []studyset.FlashcardSet{}
	for _, fs := range s.flashcards {
		if fs.PDFID == pdfID && fs.CreatedBy == userID {
			out = append(out, fs)
		}
	}
	slices.SortStableFunc(out, func(a, b studyset.FlashcardSet) int { return newestFirst(a.Header, b.Header) })
	return out, nil
}

// DeleteFlashcards implements studyset.Store.
func (s *Store) DeleteFlashcards(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteFlashcardsCalls++
	if s.Err != nil {
		return s.Err
	}
	for i, fs := range s.flashcards {
		if fs.ID == id && fs.CreatedBy == userID {
			s.flashcards = slices.Delete(s.flashcards, i, i+1)
			return nil
		}
	}
	return studyset.ErrNotFound
}

// FindQuiz implements studyset.Store.
func (s *Store) FindQuiz(_ context.Context, pdfID, userID, topic, section, subsection string) (*studyset.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var best *studyset.Quiz
	for i := range s.quizzes {
		q := &s.quizzes[i]
		if matches(q.Header, pdfID, userID, topic, section, subsection) && (best == nil || q.CreatedAt.After(best.CreatedAt)) {
			best = q
		}
	}
	if best == nil {
		return nil, studyset.ErrNotFound
	}
	out := *best
	return &out, nil
}

// InsertQuiz implements studyset.Store.
func (s *Store) InsertQuiz(_ context.Context, quiz *studyset.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertQuizCalls++
	if s.Err != nil {
		return s.Err
	}
	quiz.Stamp(time.Now())
	s.quizzes = append(s.quizzes, *quiz)
	return nil
}

// GetQuiz implements studyset.Store.
func (s *Store) GetQuiz(_ context.Context, id, userID string) (*studyset.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, q := range s.quizzes {
		if q.ID == id && q.CreatedBy == userID {
			return &q, nil
		}
	}
	return nil, studyset.ErrNotFound
}

// ListQuizzes implements studyset.Store.
func (s *Store) ListQuizzes(_ context.Context, pdfID, userID string) ([]studyset.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []studyset.Quiz{}
	for _, q := range s.quizzes {
		if q.PDFID == pdfID && q.CreatedBy == userID {
			out = append(out, q)
		}
	}
	slices.SortStableFunc(out, func(a, b studyset.Quiz) int { return newestFirst(a.Header, b.Header) })
	return out, nil
}

// DeleteQuiz implements studyset.Store.
func (s *Store) DeleteQuiz(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteQuizCalls++
	if s.Err != nil {
		return s.Err
	}
	for i, q := range s.quizzes {
		if q.ID == id && q.CreatedBy == userID {
			s.quizzes = slices.Delete(s.quizzes, i, i+1)
			return nil
		}
	}
	return studyset.ErrNotFound
}

// InsertAttempt implements studyset.Store.
func (s *Store) InsertAttempt(_ context.Context, a *studyset.QuizAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertAttemptCalls++
	if s.Err != nil {
		return s.Err
	}
	s.attempts = append(s.attempts, *a)
	return nil
}

// ListAttempts implements studyset.Store.
func (s *Store) ListAttempts(_ context.Context, quizID, userID string) ([]studyset.QuizAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := []studyset.QuizAttempt{}
	for _, a := range s.attempts {
		if a.QuizID == quizID && a.UserID == userID {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b studyset.QuizAttempt) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// Ping returns Err.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

var _ studyset.Store = (*Store)(nil)

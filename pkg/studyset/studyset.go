// Package studyset defines flashcard sets, quizzes and quiz attempts generated
// for a page range of a document, and the [Store] that persists them.
//
// Sets are scoped to a user. Every lookup takes the user id, and a set owned
// by another user is reported as [ErrNotFound].
package studyset

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no set or quiz matches the lookup.
var ErrNotFound = errors.New("studyset: not found")

// OptionsPerQuestion is the number of options a valid quiz question carries.
const OptionsPerQuestion = 4

// Header holds the fields shared by flashcard sets and quizzes.
type Header struct {
	ID              string    `json:"id"`
	PDFID           string    `json:"pdf_id"`
	Topic           string    `json:"topic"`
	SectionTitle    string    `json:"section_title"`
	SubsectionTitle string    `json:"subsection_title"`
	StartPage       int       `json:"start_page"`
	EndPage         int       `json:"end_page"`
	CreatedBy       string    `json:"created_by_user"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Stamp assigns a fresh id when none is set and refreshes the timestamps.
func (h *Header) Stamp(now time.Time) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
}

// Flashcard is one question and answer pair.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FlashcardSet is a stored group of flashcards.
type FlashcardSet struct {
	Header
	Flashcards []Flashcard `json:"flashcards"`
}

// QuizOption is one answer choice.
type QuizOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is a multiple choice question.
type Question struct {
	Question    string       `json:"question"`
	Options     []QuizOption `json:"options"`
	Explanation string       `json:"explanation"`
}

// Valid reports whether q has text, exactly [OptionsPerQuestion] options and
// exactly one correct option.
func (q Question) Valid() bool {
	if q.Question == "" || len(q.Options) != OptionsPerQuestion {
		return false
	}
	correct := 0
	for _, o := range q.Options {
		if o.Text == "" {
			return false
		}
		if o.IsCorrect {
			correct++
		}
	}
	return correct == 1
}

// Quiz is a stored group of questions.
type Quiz struct {
	Header
	Questions []Question `json:"questions"`
}

// QuizResult is the outcome of one answered question.
type QuizResult struct {
	QuestionIndex  int     `json:"question_index"`
	SelectedOption int     `json:"selected_option"`
	IsCorrect      bool    `json:"is_correct"`
	TimeTaken      float64 `json:"time_taken"`
}

// QuizAttempt is one submitted run through a quiz.
type QuizAttempt struct {
	ID             string       `json:"id"`
	QuizID         string       `json:"quiz_id"`
	UserID         string       `json:"user_id"`
	Results        []QuizResult `json:"results"`
	TotalScore     int          `json:"total_score"`
	TotalQuestions int          `json:"total_questions"`
	CompletionTime float64      `json:"completion_time"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Score counts the correct results.
func Score(results []QuizResult) int {
	n := 0
	for _, r := range results {
		if r.IsCorrect {
			n++
		}
	}
	return n
}

// NewAttempt builds a scored attempt with a fresh id.
func NewAttempt(quizID, userID string, results []QuizResult, completionTime float64, now time.Time) *QuizAttempt {
	if results == nil {
		results = []QuizResult{}
	}
	return &QuizAttempt{
		ID:             uuid.NewString(),
		QuizID:         quizID,
		UserID:         userID,
		Results:        results,
		TotalScore:     Score(results),
		TotalQuestions: len(results),
		CompletionTime: completionTime,
		CreatedAt:      now,
	}
}

// Store persists study sets. Implementations must be safe for concurrent use.
type Store interface {
	// FindFlashcards returns the newest set for the section, or ErrNotFound.
	// An empty subsection matches any subsection.
	FindFlashcards(ctx context.Context, pdfID, userID, topic, section, subsection string) (*FlashcardSet, error)
	InsertFlashcards(ctx context.Context, set *FlashcardSet) error
	GetFlashcards(ctx context.Context, id, userID string) (*FlashcardSet, error)
	// ListFlashcards returns the user's sets for pdfID, newest first.
	ListFlashcards(ctx context.Context, pdfID, userID string) ([]FlashcardSet, error)
	DeleteFlashcards(ctx context.Context, id, userID string) error

	FindQuiz(ctx context.Context, pdfID, userID, topic, section, subsection string) (*Quiz, error)
	InsertQuiz(ctx context.Context, quiz *Quiz) error
	GetQuiz(ctx context.Context, id, userID string) (*Quiz, error)
	ListQuizzes(ctx context.Context, pdfID, userID string) ([]Quiz, error)
	DeleteQuiz(ctx context.Context, id, userID string) error

	InsertAttempt(ctx context.Context, attempt *QuizAttempt) error
	// ListAttempts returns the user's attempts for quizID, newest first.
	ListAttempts(ctx context.Context, quizID, userID string) ([]QuizAttempt, error)

	Ping(ctx context.Context) error
	Close() error
}

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrWong99/lectern/internal/content"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/studyset"
)

// maxRegenerateDeletes bounds the cleanup loop of a regeneration.
const maxRegenerateDeletes = 100

type studySetRequest struct {
	pageRequest
	Regenerate bool `json:"regenerate"`
}

func (req studySetRequest) header(pdfID, user string) studyset.Header {
	return studyset.Header{
		PDFID:           pdfID,
		Topic:           req.Topic,
		SectionTitle:    req.SectionTitle,
		SubsectionTitle: req.SubsectionTitle,
		StartPage:       req.StartPage,
		EndPage:         req.EndPage,
		CreatedBy:       user,
	}
}

type flashcardsResponse struct {
	Success         bool                   `json:"success"`
	Flashcards      *studyset.FlashcardSet `json:"flashcards"`
	TotalFlashcards int                    `json:"total_flashcards"`
	Existing        bool                   `json:"existing"`
}

type quizResponse struct {
	Success        bool           `json:"success"`
	Quiz           *studyset.Quiz `json:"quiz"`
	TotalQuestions int            `json:"total_questions"`
	Existing       bool           `json:"existing"`
}

// clearSection deletes every set found by find, newest first.
func clearSection(ctx context.Context, find func() (string, error), del func(id string) error) error {
	for range maxRegenerateDeletes {
		id, err := find()
		if errors.Is(err, studyset.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := del(id); err != nil && !errors.Is(err, studyset.ErrNotFound) {
			return err
		}
		observe.Logger(ctx).Debug("api: deleted study set for regeneration", "id", id)
	}
	return fmt.Errorf("api: more than %d study sets for one section", maxRegenerateDeletes)
}

func (s *Server) handleGenerateFlashcards(w http.ResponseWriter, r *http.Request) {
	pdfID, user := r.PathValue("pdf_id"), userID(r)
	var req studySetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	st := s.deps.StudySets
	find := func() (*studyset.FlashcardSet, error) {
		return st.FindFlashcards(ctx, pdfID, user, req.Topic, req.SectionTitle, req.SubsectionTitle)
	}

	if !req.Regenerate {
		if set, err := find(); err == nil {
			writeJSON(w, http.StatusOK, flashcardsResponse{Success: true, Flashcards: set, TotalFlashcards: len(set.Flashcards), Existing: true})
			return
		} else if !errors.Is(err, studyset.ErrNotFound) {
			writeError(w, r, err)
			return
		}
	}

	pages, pageText, err := s.documentPages(ctx, pdfID, req.StartPage, req.EndPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Regenerate {
		err := clearSection(ctx, func() (string, error) {
			set, err := find()
			if err != nil {
				return "", err
			}
			return set.ID, nil
		}, func(id string) error { return st.DeleteFlashcards(ctx, id, user) })
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	cards, err := s.deps.Content.GenerateFlashcards(ctx, content.GenerateRequest{PDF: pages, Text: pageText, Topic: req.Topic, StartPage: req.StartPage, EndPage: req.EndPage})
	if err != nil {
		writeError(w, r, err)
		return
	}
	set := &studyset.FlashcardSet{Header: req.header(pdfID, user), Flashcards: cards}
	set.Stamp(s.deps.Now().UTC())
	if err := st.InsertFlashcards(ctx, set); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flashcardsResponse{Success: true, Flashcards: set, TotalFlashcards: len(cards)})
}

func (s *Server) handleListFlashcards(w http.ResponseWriter, r *http.Request) {
	sets, err := s.deps.StudySets.ListFlashcards(r.Context(), r.PathValue("pdf_id"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sets == nil {
		sets = []studyset.FlashcardSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handleGetFlashcards(w http.ResponseWriter, r *http.Request) {
	set, err := s.deps.StudySets.GetFlashcards(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleDeleteFlashcards(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.StudySets.DeleteFlashcards(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Flashcard set deleted successfully"})
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	pdfID, user := r.PathValue("pdf_id"), userID(r)
	var req studySetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	st := s.deps.StudySets
	find := func() (*studyset.Quiz, error) {
		return st.FindQuiz(ctx, pdfID, user, req.Topic, req.SectionTitle, req.SubsectionTitle)
	}

	if !req.Regenerate {
		if quiz, err := find(); err == nil {
			writeJSON(w, http.StatusOK, quizResponse{Success: true, Quiz: quiz, TotalQuestions: len(quiz.Questions), Existing: true})
			return
		} else if !errors.Is(err, studyset.ErrNotFound) {
			writeError(w, r, err)
			return
		}
	}

	pages, pageText, err := s.documentPages(ctx, pdfID, req.StartPage, req.EndPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.Regenerate {
		err := clearSection(ctx, func() (string, error) {
			quiz, err := find()
			if err != nil {
				return "", err
			}
			return quiz.ID, nil
		}, func(id string) error { return st.DeleteQuiz(ctx, id, user) })
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	questions, err := s.deps.Content.GenerateQuiz(ctx, content.GenerateRequest{PDF: pages, Text: pageText, Topic: req.Topic, StartPage: req.StartPage, EndPage: req.EndPage})
	if err != nil {
		writeError(w, r, err)
		return
	}
	quiz := &studyset.Quiz{Header: req.header(pdfID, user), Questions: questions}
	quiz.Stamp(s.deps.Now().UTC())
	if err := st.InsertQuiz(ctx, quiz); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizResponse{Success: true, Quiz: quiz, TotalQuestions: len(questions)})
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := s.deps.StudySets.ListQuizzes(r.Context(), r.PathValue("pdf_id"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if quizzes == nil {
		quizzes = []studyset.Quiz{}
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (s *Server) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := s.deps.StudySets.GetQuiz(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.StudySets.DeleteQuiz(r.Context(), r.PathValue("id"), userID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Quiz deleted successfully"})
}

type submitRequest struct {
	Results        []studyset.QuizResult `json:"results"`
	CompletionTime float64               `json:"completion_time"`
}

// grade sets IsCorrect from the stored quiz for every result that points at
// an existing question and option. Other results count as incorrect.
func grade(quiz *studyset.Quiz, results []studyset.QuizResult) []studyset.QuizResult {
	out := make([]studyset.QuizResult, len(results))
	for i, res := range results {
		res.IsCorrect = false
		if res.QuestionIndex >= 0 && res.QuestionIndex < len(quiz.Questions) {
			opts := quiz.Questions[res.QuestionIndex].Options
			if res.SelectedOption >= 0 && res.SelectedOption < len(opts) {
				res.IsCorrect = opts[res.SelectedOption].IsCorrect
			}
		}
		out[i] = res
	}
	return out
}

func (s *Server) handleSubmitQuiz(w http.ResponseWriter, r *http.Request) {
	id, user := r.PathValue("id"), userID(r)
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	quiz, err := s.deps.StudySets.GetQuiz(ctx, id, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attempt := studyset.NewAttempt(id, user, grade(quiz, req.Results), req.CompletionTime, s.deps.Now().UTC())
	if err := s.deps.StudySets.InsertAttempt(ctx, attempt); err != nil {
		writeError(w, r, err)
		return
	}
	observe.Logger(ctx).Info("api: quiz attempt recorded", "quiz_id", id, "score", attempt.TotalScore, "of", attempt.TotalQuestions)
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.deps.StudySets.ListAttempts(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []studyset.QuizAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

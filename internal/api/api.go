// Package api serves the study HTTP surface: explanations with cached audio,
// readable content, standalone questions, flashcards, quizzes and notes.
//
// Handlers are mounted with method patterns on an [http.ServeMux]. Errors are
// JSON objects of the form {"detail": "..."}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/lectern/internal/content"
	"github.com/MrWong99/lectern/internal/explain"
	"github.com/MrWong99/lectern/internal/hub"
	"github.com/MrWong99/lectern/internal/notesearch"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/speech"
	"github.com/MrWong99/lectern/pkg/artifact"
	"github.com/MrWong99/lectern/pkg/document"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/studyset"
)

const (
	maxJSONBody      = 1 << 20
	maxMultipartBody = 32 << 20
)

// Deps are the collaborators of a [Server]. Hub, Search and STT may be nil;
// their routes then answer 503 or fall back as documented per route.
type Deps struct {
	Documents document.Provider
	Content   *content.Provider
	Synth     *speech.Synthesizer
	Notes     *artifact.Cache
	StudySets studyset.Store
	Search    *notesearch.Searcher
	STT       stt.Provider
	Hub       *hub.Hub

	// Narration returns the current explanation mode. Nil means single.
	Narration func() content.Narration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Server holds the HTTP handlers. It is safe for concurrent use.
type Server struct {
	deps     Deps
	explains singleflight.Group
}

// New returns a Server.
func New(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{deps: deps}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /pdfs/{pdf_id}/explain", s.handleExplain)
	mux.HandleFunc("POST /pdfs/{pdf_id}/content", s.handleContent)
	mux.HandleFunc("POST /pdfs/{pdf_id}/chat", s.handleChat)
	mux.HandleFunc("POST /qa", s.handleQA)
	mux.HandleFunc("POST /qa/audio", s.handleQAAudio)

	mux.HandleFunc("POST /pdfs/{pdf_id}/flashcards", s.handleGenerateFlashcards)
	mux.HandleFunc("GET /pdfs/{pdf_id}/flashcards", s.handleListFlashcards)
	mux.HandleFunc("GET /flashcards/{id}", s.handleGetFlashcards)
	mux.HandleFunc("DELETE /flashcards/{id}", s.handleDeleteFlashcards)

	mux.HandleFunc("POST /pdfs/{pdf_id}/quizzes", s.handleGenerateQuiz)
	mux.HandleFunc("GET /pdfs/{pdf_id}/quizzes", s.handleListQuizzes)
	mux.HandleFunc("GET /quizzes/{id}", s.handleGetQuiz)
	mux.HandleFunc("DELETE /quizzes/{id}", s.handleDeleteQuiz)
	mux.HandleFunc("POST /quizzes/{id}/submit", s.handleSubmitQuiz)
	mux.HandleFunc("GET /quizzes/{id}/attempts", s.handleListAttempts)

	mux.HandleFunc("GET /pdfs/{pdf_id}/notes", s.handleListNotes)
	mux.HandleFunc("GET /pdfs/{pdf_id}/notes/search", s.handleSearchNotes)
	mux.HandleFunc("DELETE /notes/{key}", s.handleDeleteNote)

	if s.deps.Hub != nil {
		mux.Handle("GET /ws/explain/{pdf_id}", s.deps.Hub.Handler())
	}
}

func (s *Server) narration() content.Narration {
	if s.deps.Narration == nil {
		return content.NarrationSingle
	}
	if n := s.deps.Narration(); n.Valid() {
		return n
	}
	return content.NarrationSingle
}

// documentPages returns pages start..end as a PDF and as extracted text. Text
// extraction is best effort; an empty string leaves text-only models unable to
// serve the request.
func (s *Server) documentPages(ctx context.Context, pdfID string, start, end int) ([]byte, string, error) {
	pages, err := s.deps.Documents.GetPages(ctx, pdfID, start, end)
	if err != nil {
		return nil, "", err
	}
	text, err := s.deps.Documents.GetPageText(ctx, pdfID, start, end)
	if err != nil {
		observe.Logger(ctx).Warn("api: extract page text", "pdf_id", pdfID, "err", err)
		text = ""
	}
	return pages, text, nil
}

// userID reads the user_id query parameter.
func userID(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return explain.DefaultUserID
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeError maps err to a status code and logs server side failures.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "route", r.Pattern, "status", status, "err", err)
	}
	writeDetail(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, document.ErrNotFound),
		errors.Is(err, artifact.ErrNotFound),
		errors.Is(err, studyset.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, document.ErrInvalidPageRange),
		errors.Is(err, artifact.ErrInvalidKey),
		errors.Is(err, content.ErrEmptyQuestion),
		errors.Is(err, notesearch.ErrEmptyQuery),
		errors.Is(err, speech.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, content.ErrGenerationUnavailable),
		errors.Is(err, speech.ErrSynthesisUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, content.ErrGenerationFailed),
		errors.Is(err, speech.ErrSynthesisFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON request body into v and answers 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

package api

import (
	"net/http"
	"strconv"

	"github.com/MrWong99/lectern/internal/notesearch"
	"github.com/MrWong99/lectern/pkg/artifact"
)

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.deps.Notes.Backend().ListByPDF(r.Context(), r.PathValue("pdf_id"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	groups := artifact.GroupBySection(notes)
	if groups == nil {
		groups = []artifact.SectionGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

type searchResponse struct {
	Query   string           `json:"query"`
	Results []notesearch.Hit `json:"results"`
}

func (s *Server) handleSearchNotes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		writeDetail(w, http.StatusServiceUnavailable, "note search is not configured")
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	hits, err := s.deps.Search.Search(r.Context(), r.PathValue("pdf_id"), userID(r), q.Get("q"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hits == nil {
		hits = []notesearch.Hit{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: q.Get("q"), Results: hits})
}

// handleDeleteNote deletes the note only when it belongs to the caller.
func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	key, ctx := r.PathValue("key"), r.Context()
	store := s.deps.Notes.Backend()
	note, err := store.Find(ctx, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if note.CreatedBy != userID(r) {
		writeError(w, r, artifact.ErrNotFound)
		return
	}
	if err := store.Delete(ctx, key); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Note deleted successfully"})
}

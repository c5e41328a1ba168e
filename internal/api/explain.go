package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/lectern/internal/content"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/pkg/artifact"
	"github.com/MrWong99/lectern/pkg/document"
	"github.com/MrWong99/lectern/pkg/provider/stt"
)

// generateTimeout bounds a shared explanation generation. It is detached
// from the request so one caller disconnecting does not fail the others.
const generateTimeout = 5 * time.Minute

type pageRequest struct {
	StartPage       int    `json:"start_page"`
	EndPage         int    `json:"end_page"`
	Topic           string `json:"topic"`
	SectionTitle    string `json:"section_title"`
	SubsectionTitle string `json:"subsection_title"`
}

type explainResponse struct {
	TextContent string `json:"text_content"`
	AudioURL    string `json:"audio_url"`
	Topic       string `json:"topic"`
	StartPage   int    `json:"start_page"`
	EndPage     int    `json:"end_page"`
	Cached      bool   `json:"cached"`
}

func explainResponseFor(n *artifact.Note, cached bool) explainResponse {
	return explainResponse{
		TextContent: n.TextContent,
		AudioURL:    n.AudioURL,
		Topic:       n.Topic,
		StartPage:   n.StartPage,
		EndPage:     n.EndPage,
		Cached:      cached,
	}
}

// checkRange validates the page range against the document.
func (s *Server) checkRange(ctx context.Context, pdfID string, start, end int) error {
	count, err := s.deps.Documents.PageCount(ctx, pdfID)
	if err != nil {
		return err
	}
	return document.ValidateRange(start, end, count)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	pdfID := r.PathValue("pdf_id")
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := s.checkRange(ctx, pdfID, req.StartPage, req.EndPage); err != nil {
		writeError(w, r, err)
		return
	}
	key, err := artifact.CompositeKey(pdfID, req.Topic, req.StartPage, req.EndPage)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if note, err := s.deps.Notes.Get(ctx, pdfID, req.Topic, req.StartPage, req.EndPage); err == nil {
		writeJSON(w, http.StatusOK, explainResponseFor(note, true))
		return
	} else if !errors.Is(err, artifact.ErrNotFound) {
		writeError(w, r, err)
		return
	}

	user := userID(r)
	v, err, shared := s.explains.Do(key, func() (any, error) {
		gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
		defer cancel()
		return s.generateExplanation(gctx, pdfID, key, user, req)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := v.(generated)
	observe.Logger(ctx).Info("api: explanation served", "key", key, "shared", shared, "cached", res.cached)
	writeJSON(w, http.StatusOK, explainResponseFor(res.note, res.cached))
}

type generated struct {
	note   *artifact.Note
	cached bool
}

// generateExplanation produces, voices and stores the explanation for key.
// It runs at most once per key at a time.
func (s *Server) generateExplanation(ctx context.Context, pdfID, key, user string, req pageRequest) (generated, error) {
	if note, err := s.deps.Notes.Get(ctx, pdfID, req.Topic, req.StartPage, req.EndPage); err == nil {
		return generated{note: note, cached: true}, nil
	}
	pages, pageText, err := s.documentPages(ctx, pdfID, req.StartPage, req.EndPage)
	if err != nil {
		return generated{}, err
	}
	text, err := s.deps.Content.GenerateExplanation(ctx, content.GenerateRequest{
		PDF:       pages,
		Text:      pageText,
		Topic:     req.Topic,
		StartPage: req.StartPage,
		EndPage:   req.EndPage,
		Narration: s.narration(),
	})
	if err != nil {
		return generated{}, err
	}
	stored, err := s.deps.Synth.SynthesizeAndStore(ctx, text, "explanation_"+key)
	if err != nil {
		return generated{}, err
	}
	note, inserted, err := s.deps.Notes.Store(ctx, &artifact.Note{
		PDFID:           pdfID,
		Topic:           req.Topic,
		SectionTitle:    req.SectionTitle,
		SubsectionTitle: req.SubsectionTitle,
		StartPage:       req.StartPage,
		EndPage:         req.EndPage,
		ContentType:     artifact.ContentTypeExplain,
		ReadingContent:  text,
		TextContent:     text,
		AudioURL:        stored.URL,
		AudioSize:       stored.ByteSize,
		CreatedBy:       user,
	})
	if err != nil {
		return generated{}, fmt.Errorf("api: store note %s: %w", key, err)
	}
	if inserted && s.deps.Search != nil {
		s.deps.Search.Index(ctx, note)
	}
	return generated{note: note, cached: !inserted}, nil
}

type contentRequest struct {
	pageRequest
	Type string `json:"type"`
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	pdfID := r.PathValue("pdf_id")
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Type != artifact.ContentTypeRead && req.Type != artifact.ContentTypeExplain {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("unknown content type %q, want read or explain", req.Type))
		return
	}
	ctx := r.Context()
	pages, pageText, err := s.documentPages(ctx, pdfID, req.StartPage, req.EndPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	gen := content.GenerateRequest{PDF: pages, Text: pageText, Topic: req.Topic, StartPage: req.StartPage, EndPage: req.EndPage}
	var text string
	if req.Type == artifact.ContentTypeRead {
		text, err = s.deps.Content.GenerateReading(ctx, gen)
	} else {
		gen.Narration = s.narration()
		text, err = s.deps.Content.GenerateExplanation(ctx, gen)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": text})
}

type chatRequest struct {
	Query     string `json:"query"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, content.ErrEmptyQuestion)
		return
	}
	ctx := r.Context()
	pages, pageText, err := s.documentPages(ctx, r.PathValue("pdf_id"), req.StartPage, req.EndPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	answer, err := s.deps.Content.ChatWithDocument(ctx, content.ChatRequest{PDF: pages, Text: pageText, Query: req.Query})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

type qaRequest struct {
	Question        string `json:"question"`
	Topic           string `json:"topic"`
	ExplanationText string `json:"explanation_text"`
}

type qaResponse struct {
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"answer_text"`
	AudioBase64  string `json:"audio_base64"`
	AudioFormat  string `json:"audio_format"`
}

func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	var req qaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.answer(w, r, req)
}

// answer replies to a standalone question with text and spoken audio. When
// synthesis fails the text answer is still returned, without audio.
func (s *Server) answer(w http.ResponseWriter, r *http.Request, req qaRequest) {
	ctx := r.Context()
	text, err := s.deps.Content.AnswerStandalone(ctx, content.QARequest{
		Question:        req.Question,
		Topic:           req.Topic,
		ExplanationText: req.ExplanationText,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := qaResponse{QuestionText: req.Question, AnswerText: text}
	audio, err := s.deps.Synth.Buffer(ctx, text)
	if err != nil {
		observe.Logger(ctx).Warn("api: answer audio failed, returning text only", "err", err)
	} else {
		res.AudioBase64 = base64.StdEncoding.EncodeToString(audio.Data)
		res.AudioFormat = string(audio.Format)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQAAudio(w http.ResponseWriter, r *http.Request) {
	if s.deps.STT == nil {
		writeDetail(w, http.StatusServiceUnavailable, "speech recognition is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "audio_file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "read audio_file: "+err.Error())
		return
	}

	question, err := s.deps.STT.Transcribe(r.Context(), data, stt.Options{Filename: header.Filename})
	if err != nil {
		writeDetail(w, http.StatusBadGateway, "transcription failed: "+err.Error())
		return
	}
	question = strings.TrimSpace(question)
	if question == "" {
		writeDetail(w, http.StatusBadRequest, "could not understand the question")
		return
	}
	s.answer(w, r, qaRequest{
		Question:        question,
		Topic:           r.FormValue("topic"),
		ExplanationText: r.FormValue("explanation_text"),
	})
}

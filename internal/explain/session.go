// Package explain implements the live explanation session: one narrated
// explanation streamed as audio chunks, pausable at chunk boundaries and
// interruptible by spoken or typed questions.
//
// A [Session] owns a single producer goroutine per explanation. Narration
// chunks are only emitted while the session is neither paused nor answering;
// the producer parks on a condition variable otherwise and is woken by
// Resume, Stop, a finished answer or Close.
package explain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/lectern/internal/content"
	"github.com/MrWong99/lectern/internal/history"
	"github.com/MrWong99/lectern/internal/speech"
	"github.com/MrWong99/lectern/pkg/artifact"
	"github.com/MrWong99/lectern/pkg/blob"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/types"
)

const (
	// DefaultResumeGrace is the pause between the end of an answer and the
	// continuation of the narration.
	DefaultResumeGrace = time.Second

	// DefaultUserID owns notes when the client does not name a user.
	DefaultUserID = "default_user"

	defaultStoreTimeout = 2 * time.Minute
	questionFilename    = "question.wav"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("explain: session closed")

	// ErrEmptyContent is returned by Start without explanation text.
	ErrEmptyContent = errors.New("explain: content must not be empty")

	// ErrInvalidPageRange is returned by Start when start < 1 or start > end.
	ErrInvalidPageRange = errors.New("explain: invalid page range")

	// ErrEmptyTranscript is reported when recorded audio yields no text.
	ErrEmptyTranscript = errors.New("explain: could not understand the question")

	// errAborted ends a narration that was stopped, replaced or closed.
	errAborted = errors.New("explain: narration aborted")
)

// Answerer streams tutor answers. *content.Provider satisfies it.
type Answerer interface {
	StreamAnswer(ctx context.Context, history []types.Message, question string, onDelta func(string)) (string, error)
}

var _ Answerer = (*content.Provider)(nil)

// StartRequest describes the explanation to narrate.
type StartRequest struct {
	Content         string `json:"content"`
	Topic           string `json:"topic"`
	SectionTitle    string `json:"section_title"`
	SubsectionTitle string `json:"subsection_title"`
	StartPage       int    `json:"start_page"`
	EndPage         int    `json:"end_page"`

	// ReadingContent defaults to Content.
	ReadingContent string `json:"reading_content"`

	// UserID defaults to [DefaultUserID].
	UserID string `json:"user_id"`
}

func (r StartRequest) validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	if r.StartPage < 1 || r.StartPage > r.EndPage {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPageRange, r.StartPage, r.EndPage)
	}
	return nil
}

// Deps are the collaborators of a [Session]. Synth and Emit are required.
type Deps struct {
	Synth   *speech.Synthesizer
	Content Answerer
	Cache   *artifact.Cache
	STT     stt.Provider

	// HTTPClient fetches cached audio. Nil selects http.DefaultClient.
	HTTPClient *http.Client

	Emit Emitter

	// ResumeGrace defaults to [DefaultResumeGrace].
	ResumeGrace time.Duration

	// ChunkSize applies to cached audio replay. Defaults to blob.DefaultChunkSize.
	ChunkSize int

	// HistoryMaxTokens enables rolling summarisation with Summariser.
	HistoryMaxTokens int
	Summariser       history.Summariser

	// StoreTimeout bounds the upload and note insert after an explanation.
	StoreTimeout time.Duration

	// OnStored, if set, is called with every note the session inserts.
	OnStored func(ctx context.Context, note *artifact.Note)

	// OnTransition, if set, is called with the session lock held for every
	// state change. It must not call back into the session.
	OnTransition func(from, to State)
}

// Session is safe for concurrent use.
type Session struct {
	id    string
	pdfID string
	deps  Deps
	hist  *history.History

	base       context.Context
	cancelBase context.CancelFunc

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	paused    bool
	answering bool
	stopped   bool
	stopAcked bool
	active    bool
	closed    bool
	gen       uint64
	stops     uint64
	cancel    context.CancelFunc

	qmu sync.Mutex
	wg  sync.WaitGroup
}

// New returns an idle session for pdfID.
func New(id, pdfID string, deps Deps) *Session {
	if deps.ResumeGrace <= 0 {
		deps.ResumeGrace = DefaultResumeGrace
	}
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = blob.DefaultChunkSize
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = defaultStoreTimeout
	}
	s := &Session{
		id:    id,
		pdfID: pdfID,
		deps:  deps,
		hist:  history.New("", history.WithBudget(deps.HistoryMaxTokens, deps.Summariser)),
	}
	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// PDFID returns the document the session explains.
func (s *Session) PDFID() string { return s.pdfID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the tutor conversation, seed prompt first.
func (s *Session) History() []types.Message { return s.hist.Messages() }

func (s *Session) log() *slog.Logger {
	return slog.With("session_id", s.id, "pdf_id", s.pdfID)
}

// setState must be called with s.mu held.
func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if s.deps.OnTransition != nil {
		s.deps.OnTransition(from, to)
	}
}

// current reports whether the narration of generation gen may still emit.
// It must be called with s.mu held.
func (s *Session) current(ctx context.Context, gen uint64) bool {
	return !s.stopped && !s.closed && s.gen == gen && ctx.Err() == nil
}

func (s *Session) emit(ctx context.Context, ev Event) error {
	if s.deps.Emit == nil {
		return nil
	}
	return s.deps.Emit(ctx, ev)
}

// emitError reports err to the client. Emit failures are only logged.
func (s *Session) emitError(ctx context.Context, err error) {
	if eerr := s.emit(context.WithoutCancel(ctx), Event{Type: EventError, Message: err.Error()}); eerr != nil {
		s.log().Warn("explain: failed to emit error", "err", eerr, "reported", err)
	}
}

// Start begins narrating req. Any running narration is cancelled. Validation
// failures are emitted as an error event and returned.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	if err := req.validate(); err != nil {
		s.emitError(ctx, err)
		return err
	}
	if req.ReadingContent == "" {
		req.ReadingContent = req.Content
	}
	if req.UserID == "" {
		req.UserID = DefaultUserID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.paused, s.stopped, s.stopAcked = false, false, false
	s.active = true
	nctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.hist.Reset(content.TutorPrompt(req.Topic, req.Content))
	s.cond.Broadcast()
	s.mu.Unlock()

	if err := s.emit(ctx, Event{Type: EventExplanationStart}); err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if s.gen == gen && !s.stopped && !s.answering {
		s.setState(StateExplaining)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer cancel()
		s.narrate(nctx, gen, req)
	}()
	return nil
}

// narrate runs one explanation to completion, failure or abort.
func (s *Session) narrate(ctx context.Context, gen uint64, req StartRequest) {
	log := s.log().With("topic", req.Topic, "start_page", req.StartPage, "end_page", req.EndPage)

	var note *artifact.Note
	if s.deps.Cache != nil {
		n, err := s.deps.Cache.Lookup(ctx, s.pdfID, req.UserID, req.Topic, req.SectionTitle, req.SubsectionTitle)
		switch {
		case err == nil:
			note = n
		case errors.Is(err, artifact.ErrNotFound):
		default:
			log.Warn("explain: note lookup failed, synthesizing", "err", err)
		}
	}

	if note != nil {
		if err := s.emit(ctx, Event{Type: EventExistingNoteFound, Note: note}); err != nil {
			log.Warn("explain: emit failed", "err", err)
			return
		}
		if note.AudioURL != "" {
			err := blob.Fetch(ctx, s.deps.HTTPClient, note.AudioURL, s.deps.ChunkSize, func(b []byte) error {
				return s.emitChunk(ctx, gen, append([]byte(nil), b...))
			})
			if err != nil {
				s.fail(ctx, gen, log, err)
				return
			}
			s.complete(ctx, gen, log)
			return
		}
	}

	audio, err := s.streamSynthesis(ctx, gen, req.Content)
	if err != nil {
		s.fail(ctx, gen, log, err)
		return
	}
	if !s.stillCurrent(ctx, gen) {
		return
	}
	s.persist(ctx, req, audio, log)
	s.complete(ctx, gen, log)
}

func (s *Session) stillCurrent(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(ctx, gen)
}

// streamSynthesis emits a fresh synthesis of text and returns the full audio.
func (s *Session) streamSynthesis(ctx context.Context, gen uint64, text string) (speech.Audio, error) {
	if s.deps.Synth == nil {
		return speech.Audio{}, speech.ErrSynthesisUnavailable
	}
	st, err := s.deps.Synth.Synthesize(ctx, text)
	if err != nil {
		return speech.Audio{}, err
	}
	defer st.Close()

	audio := speech.Audio{Format: st.Format(), Provider: st.Provider()}
	for {
		b, err := st.Next()
		if err == io.EOF {
			return audio, nil
		}
		if err != nil {
			return speech.Audio{}, err
		}
		if err := s.emitChunk(ctx, gen, b); err != nil {
			return speech.Audio{}, err
		}
		audio.Data = append(audio.Data, b...)
	}
}

// waitRunnable blocks until narration gen may emit. It returns false when
// the narration was stopped, replaced or closed. It must be called with s.mu
// held.
func (s *Session) waitRunnable(ctx context.Context, gen uint64) bool {
	for (s.paused || s.answering) && s.current(ctx, gen) {
		s.cond.Wait()
	}
	return s.current(ctx, gen)
}

// emitChunk delivers one narration chunk once the session is runnable. The
// lock is held during the emit so that a concurrent Pause takes effect
// before the next chunk.
func (s *Session) emitChunk(ctx context.Context, gen uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waitRunnable(ctx, gen) {
		return errAborted
	}
	if err := s.emit(ctx, Event{Type: EventAudioChunk, Data: data}); err != nil {
		return fmt.Errorf("explain: emit chunk: %w", err)
	}
	return nil
}

// complete emits explanation_complete and reports whether it did.
func (s *Session) complete(ctx context.Context, gen uint64, log *slog.Logger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waitRunnable(ctx, gen) {
		return false
	}
	if err := s.emit(ctx, Event{Type: EventExplanationComplete}); err != nil {
		log.Warn("explain: emit failed", "err", err)
		return false
	}
	s.active = false
	s.setState(StateComplete)
	log.Info("explain: explanation complete")
	return true
}

// fail reports a narration error once. Aborts and cancellations are silent.
func (s *Session) fail(ctx context.Context, gen uint64, log *slog.Logger, err error) {
	s.mu.Lock()
	if errors.Is(err, errAborted) || !s.current(ctx, gen) {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.setState(StateFailed)
	s.mu.Unlock()

	log.Error("explain: narration failed", "err", err)
	s.emitError(ctx, err)
}

// persist uploads the narrated audio and stores the note before the
// explanation is reported complete. Failures are logged only.
func (s *Session) persist(ctx context.Context, req StartRequest, audio speech.Audio, log *slog.Logger) {
	if s.deps.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.StoreTimeout)
	defer cancel()

	key, err := artifact.CompositeKey(s.pdfID, req.Topic, req.StartPage, req.EndPage)
	if err != nil {
		log.Warn("explain: cannot key note", "err", err)
		return
	}
	note := &artifact.Note{
		PDFID:           s.pdfID,
		Topic:           req.Topic,
		SectionTitle:    req.SectionTitle,
		SubsectionTitle: req.SubsectionTitle,
		StartPage:       req.StartPage,
		EndPage:         req.EndPage,
		ContentType:     artifact.ContentTypeExplain,
		ReadingContent:  req.ReadingContent,
		TextContent:     req.Content,
		CreatedBy:       req.UserID,
	}
	if len(audio.Data) > 0 {
		stored, err := s.deps.Synth.Store(ctx, audio, "explanation_"+key)
		if err != nil {
			log.Warn("explain: audio upload failed, storing note without audio", "err", err)
		} else {
			note.AudioURL, note.AudioSize = stored.URL, stored.ByteSize
		}
	}
	stored, inserted, err := s.deps.Cache.Store(ctx, note)
	if err != nil {
		log.Warn("explain: storing note failed", "err", err, "key", key)
		return
	}
	log.Debug("explain: note stored", "key", key, "inserted", inserted)
	if inserted && s.deps.OnStored != nil {
		s.deps.OnStored(ctx, stored)
	}
}

// Pause halts narration at the next chunk boundary. It always acknowledges.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	s.paused = true
	if s.state == StateExplaining {
		s.setState(StatePaused)
	}
	s.mu.Unlock()
	return s.emit(ctx, Event{Type: EventExplanationPaused})
}

// Resume continues narration. It always acknowledges, before any further
// narration chunk.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.state == StatePaused {
		if s.active {
			s.setState(StateExplaining)
		} else {
			s.setState(StateIdle)
		}
	}
	err := s.emit(ctx, Event{Type: EventExplanationResumed})
	s.cond.Broadcast()
	return err
}

// Stop ends the current explanation. explanation_stopped is emitted once per
// explanation; repeated stops are no-ops.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopAcked {
		s.mu.Unlock()
		return nil
	}
	s.stopped, s.stopAcked = true, true
	s.active = false
	s.stops++
	if s.cancel != nil {
		s.cancel()
	}
	s.setState(StateStopped)
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.emit(ctx, Event{Type: EventExplanationStopped})
}

// SentenceComplete acknowledges the legacy per-sentence signal.
func (s *Session) SentenceComplete() {
	s.log().Debug("explain: sentence complete")
}

// AskQuestion answers question in the tutor conversation and speaks the
// answer, then resumes narration after the grace interval unless stopped.
// Questions are answered one at a time. It blocks until narration resumes.
func (s *Session) AskQuestion(ctx context.Context, question string) {
	question = strings.TrimSpace(question)
	if question == "" {
		s.emitError(ctx, content.ErrEmptyQuestion)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.qmu.Lock()
	defer s.qmu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.base, cancel)()

	log := s.log()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.paused = true
	if s.state == StateExplaining {
		s.setState(StatePaused)
	}
	s.answering = true
	s.setState(StateAnswering)
	stops := s.stops
	s.mu.Unlock()

	s.answer(ctx, question, stops, log)

	t := time.NewTimer(s.deps.ResumeGrace)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.answering = false
	if s.stopped || s.closed {
		if s.state == StateAnswering {
			s.setState(StateStopped)
		}
		return
	}
	s.paused = false
	if s.active {
		s.setState(StateExplaining)
	} else {
		s.setState(StateIdle)
	}
	s.cond.Broadcast()
}

// answer runs the question round trip. Every failure is emitted once.
func (s *Session) answer(ctx context.Context, question string, stops uint64, log *slog.Logger) {
	prior := s.hist.Messages()
	if err := s.hist.Append(ctx, types.Message{Role: types.RoleUser, Content: question}); err != nil {
		log.Warn("explain: history append failed", "err", err)
	}
	if err := s.emit(ctx, Event{Type: EventQuestionReceived, Question: question}); err != nil {
		log.Warn("explain: emit failed", "err", err)
		return
	}
	if s.deps.Content == nil {
		s.emitError(ctx, content.ErrGenerationUnavailable)
		return
	}

	var emitErr error
	reply, err := s.deps.Content.StreamAnswer(ctx, prior, question, func(delta string) {
		if emitErr == nil {
			emitErr = s.emit(ctx, Event{Type: EventTutorResponseChunk, Chunk: delta})
		}
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Error("explain: answer failed", "err", err)
			s.emitError(ctx, err)
		}
		return
	}
	if emitErr != nil {
		log.Warn("explain: emit failed", "err", emitErr)
		return
	}
	if err := s.hist.Append(ctx, types.Message{Role: types.RoleAssistant, Content: reply}); err != nil {
		log.Warn("explain: history append failed", "err", err)
	}
	if err := s.emit(ctx, Event{Type: EventTutorResponseDone, Response: reply}); err != nil {
		log.Warn("explain: emit failed", "err", err)
		return
	}

	if s.stoppedSince(stops) || s.deps.Synth == nil {
		return
	}
	if err := s.emit(ctx, Event{Type: EventTutorAudioStart}); err != nil {
		log.Warn("explain: emit failed", "err", err)
		return
	}
	if err := s.speak(ctx, reply, stops); err != nil {
		if !errors.Is(err, errAborted) && ctx.Err() == nil {
			log.Error("explain: answer audio failed", "err", err)
			s.emitError(ctx, err)
		}
		return
	}
	if err := s.emit(ctx, Event{Type: EventTutorAudioComplete}); err != nil {
		log.Warn("explain: emit failed", "err", err)
	}
}

// speak streams the answer audio. It is not gated by pause and aborts on stop.
func (s *Session) speak(ctx context.Context, text string, stops uint64) error {
	st, err := s.deps.Synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer st.Close()
	for {
		b, err := st.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if s.stoppedSince(stops) {
			return errAborted
		}
		if err := s.emit(ctx, Event{Type: EventAudioChunk, Data: b}); err != nil {
			return fmt.Errorf("explain: emit chunk: %w", err)
		}
	}
}

func (s *Session) stoppedSince(stops uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops != stops || s.stopped || s.closed
}

// HandleAudio transcribes a recorded question and answers it.
func (s *Session) HandleAudio(ctx context.Context, data []byte) {
	if s.deps.STT == nil {
		s.emitError(ctx, errors.New("explain: speech recognition is not configured"))
		return
	}
	text, err := s.deps.STT.Transcribe(ctx, data, stt.Options{Filename: questionFilename})
	if err != nil {
		s.log().Error("explain: transcription failed", "err", err)
		s.emitError(ctx, fmt.Errorf("explain: transcription failed: %w", err))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.emitError(ctx, ErrEmptyTranscript)
		return
	}
	if err := s.emit(ctx, Event{Type: EventTranscript, Text: text}); err != nil {
		s.log().Warn("explain: emit failed", "err", err)
		return
	}
	s.AskQuestion(ctx, text)
}

// Close cancels all work and waits for the session's goroutines. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.active = false
	if s.cancel != nil {
		s.cancel()
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	s.cancelBase()
	s.wg.Wait()
	return nil
}

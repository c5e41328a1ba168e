package explain_test

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lectern/internal/content"
	"github.com/MrWong99/lectern/internal/explain"
	"github.com/MrWong99/lectern/internal/speech"
	"github.com/MrWong99/lectern/pkg/artifact"
	artifactmock "github.com/MrWong99/lectern/pkg/artifact/mock"
	blobmock "github.com/MrWong99/lectern/pkg/blob/mock"
	"github.com/MrWong99/lectern/pkg/provider/llm"
	llmmock "github.com/MrWong99/lectern/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/lectern/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/lectern/pkg/provider/tts/mock"
)

const cellContent = "The cell is the basic unit of life."

var narrationChunks = [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []explain.Event
}

func (r *recorder) emit(_ context.Context, ev explain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []explain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *recorder) count(typ explain.EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) index(typ explain.EventType, nth int) int {
	for i, ev := range r.snapshot() {
		if ev.Type == typ {
			if nth == 0 {
				return i
			}
			nth--
		}
	}
	return -1
}

func (r *recorder) audio() []byte {
	var out []byte
	for _, ev := range r.snapshot() {
		if ev.Type == explain.EventAudioChunk {
			out = append(out, ev.Data...)
		}
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, typ explain.EventType, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for r.count(typ) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s events, have %v", n, typ, r.types())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (r *recorder) types() []explain.EventType {
	var out []explain.EventType
	for _, ev := range r.snapshot() {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	sess  *explain.Session
	rec   *recorder
	tts   *ttsmock.Provider
	synth *speech.Synthesizer
	notes *artifactmock.Store
	blobs *blobmock.Store
	chat  *llmmock.Provider
}

func newFixture(t *testing.T, tts *ttsmock.Provider, mods ...func(*explain.Deps)) *fixture {
	t.Helper()
	f := &fixture{
		rec:   &recorder{},
		tts:   tts,
		notes: &artifactmock.Store{},
		blobs: &blobmock.Store{},
		chat:  &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "It is "}, {Text: "small."}}},
	}
	srv := httptest.NewServer(f.blobs)
	t.Cleanup(srv.Close)
	f.blobs.BaseURL = srv.URL

	f.synth = speech.New([]speech.Entry{{Name: "mock", Provider: tts}}, f.blobs, speech.WithChunkSize(4))
	deps := explain.Deps{
		Synth:       f.synth,
		Content:     content.New(f.chat, nil),
		Cache:       artifact.NewCache(f.notes),
		Emit:        f.rec.emit,
		ResumeGrace: 10 * time.Millisecond,
	}
	for _, m := range mods {
		m(&deps)
	}
	f.sess = explain.New("doc:1", "doc", deps)
	t.Cleanup(func() { _ = f.sess.Close() })
	return f
}

func cellRequest() explain.StartRequest {
	return explain.StartRequest{Content: cellContent, Topic: "Cell Biology", StartPage: 1, EndPage: 1}
}

func TestStart_ThenStopBeforeAnyChunk(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks, Gate: make(chan struct{})})
	ctx := context.Background()

	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.sess.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.sess.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	_ = f.sess.Close()

	if n := f.rec.count(explain.EventAudioChunk); n != 0 {
		t.Errorf("audio chunks = %d, want 0", n)
	}
	if n := f.rec.count(explain.EventExplanationStopped); n != 1 {
		t.Errorf("explanation_stopped = %d, want 1", n)
	}
	if n := f.rec.count(explain.EventError) + f.rec.count(explain.EventExplanationComplete); n != 0 {
		t.Errorf("unexpected events: %v", f.rec.types())
	}
	if got := f.sess.State(); got != explain.StateStopped {
		t.Errorf("state = %v, want stopped", got)
	}
	if f.notes.Len() != 0 {
		t.Error("stopped narration stored a note")
	}
}

func TestPause_Twice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks, Gate: make(chan struct{})})
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	_ = f.sess.Pause(ctx)
	_ = f.sess.Pause(ctx)

	if n := f.rec.count(explain.EventExplanationPaused); n != 2 {
		t.Errorf("explanation_paused = %d, want 2", n)
	}
	if got := f.sess.State(); got != explain.StatePaused {
		t.Errorf("state = %v, want paused", got)
	}
}

func TestNarration_ChunksEqualBufferedSynthesis(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks})
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	f.rec.waitFor(t, explain.EventExplanationComplete, 1)
	_ = f.sess.Close()

	want, err := f.synth.Buffer(ctx, cellContent)
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if got := f.rec.audio(); !bytes.Equal(got, want.Data) {
		t.Errorf("streamed audio = %q, want %q", got, want.Data)
	}
}

func TestPauseResume_DeliversEveryChunkOnceInOrder(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks, Gate: gate})
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}

	gate <- struct{}{}
	f.rec.waitFor(t, explain.EventAudioChunk, 1)
	if err := f.sess.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	go func() {
		gate <- struct{}{}
		gate <- struct{}{}
	}()
	time.Sleep(50 * time.Millisecond)
	if n := f.rec.count(explain.EventAudioChunk); n != 1 {
		t.Fatalf("chunks while paused = %d, want 1", n)
	}

	if err := f.sess.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	f.rec.waitFor(t, explain.EventExplanationComplete, 1)

	if got := string(f.rec.audio()); got != "aaaabbbbcccc" {
		t.Errorf("audio = %q", got)
	}
	paused := f.rec.index(explain.EventExplanationPaused, 0)
	resumed := f.rec.index(explain.EventExplanationResumed, 0)
	second := f.rec.index(explain.EventAudioChunk, 1)
	if !(paused < resumed && resumed < second) {
		t.Errorf("order paused=%d resumed=%d second chunk=%d", paused, resumed, second)
	}
}

func TestAskQuestion_RoundTrip(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	var (
		mu          sync.Mutex
		transitions []string
	)
	answering := make(chan struct{})
	var once sync.Once
	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks, Gate: gate}, func(d *explain.Deps) {
		d.OnTransition = func(from, to explain.State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
			if to == explain.StateAnswering {
				once.Do(func() { close(answering) })
			}
		}
	})
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	before := len(f.sess.History())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sess.AskQuestion(ctx, "How small is a cell?")
	}()
	<-answering
	stopFeed := make(chan struct{})
	defer close(stopFeed)
	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-stopFeed:
				return
			}
		}
	}()
	<-done

	if got := len(f.sess.History()); got != before+2 {
		t.Errorf("history grew by %d, want 2", got-before)
	}
	hist := f.sess.History()
	if hist[len(hist)-2].Content != "How small is a cell?" || hist[len(hist)-1].Content != "It is small." {
		t.Errorf("history tail = %+v", hist[len(hist)-2:])
	}

	mu.Lock()
	got := slices.Clone(transitions)
	mu.Unlock()
	want := []string{"idle>explaining", "explaining>paused", "paused>answering", "answering>explaining"}
	if len(got) < len(want) || !slices.Equal(got[:len(want)], want) {
		t.Errorf("transitions = %v, want prefix %v", got, want)
	}

	order := []explain.EventType{
		explain.EventQuestionReceived,
		explain.EventTutorResponseChunk,
		explain.EventTutorResponseDone,
		explain.EventTutorAudioStart,
		explain.EventTutorAudioComplete,
	}
	last := -1
	for _, typ := range order {
		i := f.rec.index(typ, 0)
		if i <= last {
			t.Fatalf("%s at %d, previous at %d: %v", typ, i, last, f.rec.types())
		}
		last = i
	}
	for _, ev := range f.rec.snapshot() {
		if ev.Type == explain.EventTutorResponseDone && ev.Response != "It is small." {
			t.Errorf("response = %q", ev.Response)
		}
	}

	f.rec.waitFor(t, explain.EventExplanationComplete, 1)
}

func TestStart_CellBiologyScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks})
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	f.rec.waitFor(t, explain.EventExplanationComplete, 1)

	got := f.rec.types()
	if got[0] != explain.EventExplanationStart || got[len(got)-1] != explain.EventExplanationComplete {
		t.Errorf("events = %v", got)
	}
	if f.rec.count(explain.EventAudioChunk) < 1 {
		t.Error("no audio chunks")
	}

	key, _ := artifact.CompositeKey("doc", "Cell_Biology", 1, 1)
	note, err := f.notes.Find(ctx, key)
	if err != nil {
		t.Fatalf("note %s: %v", key, err)
	}
	if note.TextContent != cellContent || note.ReadingContent != cellContent || note.CreatedBy != explain.DefaultUserID {
		t.Errorf("note = %+v", note)
	}
	if note.AudioURL == "" || note.AudioSize != 12 {
		t.Errorf("audio url=%q size=%d", note.AudioURL, note.AudioSize)
	}
	if n := f.blobs.UploadCount(); n != 1 {
		t.Errorf("uploads = %d, want 1", n)
	}
}

func TestStart_NoteStoredBeforeComplete(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		indexed []string
	)
	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks}, func(d *explain.Deps) {
		d.OnStored = func(_ context.Context, n *artifact.Note) {
			mu.Lock()
			indexed = append(indexed, n.Key)
			mu.Unlock()
		}
	})
	gate := make(chan struct{})
	f.blobs.UploadGate = gate
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.blobs.UploadCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("upload never started: %v", f.rec.types())
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if n := f.rec.count(explain.EventExplanationComplete); n != 0 {
		t.Fatalf("explanation_complete sent during upload: %v", f.rec.types())
	}
	close(gate)

	f.rec.waitFor(t, explain.EventExplanationComplete, 1)
	key, _ := artifact.CompositeKey("doc", "Cell Biology", 1, 1)
	if _, err := f.notes.Find(ctx, key); err != nil {
		t.Fatalf("note %s missing at completion: %v", key, err)
	}
	mu.Lock()
	got := slices.Clone(indexed)
	mu.Unlock()
	if !slices.Equal(got, []string{key}) {
		t.Errorf("indexed = %v, want [%s]", got, key)
	}

	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	f.rec.waitFor(t, explain.EventExplanationComplete, 2)
	if n := f.rec.count(explain.EventExistingNoteFound); n != 1 {
		t.Errorf("existing_note_found = %d, want 1", n)
	}
	if f.tts.CallCount() != 1 || f.blobs.UploadCount() != 1 {
		t.Errorf("synth calls=%d uploads=%d, want 1", f.tts.CallCount(), f.blobs.UploadCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(indexed) != 1 {
		t.Errorf("cached replay indexed again: %v", indexed)
	}
}

func TestStop_DuringUploadEmitsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks})
	gate := make(chan struct{})
	f.blobs.UploadGate = gate
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for f.blobs.UploadCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("upload never started: %v", f.rec.types())
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := f.sess.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	close(gate)
	_ = f.sess.Close()

	if n := f.rec.count(explain.EventExplanationComplete); n != 0 {
		t.Errorf("explanation_complete after stop: %v", f.rec.types())
	}
	if n := f.rec.count(explain.EventExplanationStopped); n != 1 {
		t.Errorf("explanation_stopped = %d, want 1", n)
	}
	if got := f.sess.State(); got != explain.StateStopped {
		t.Errorf("state = %v, want stopped", got)
	}
}

func TestStop_WhileAnswering(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks, Gate: gate})
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.sess.AskQuestion(ctx, "How small is a cell?")
	}()
	f.rec.waitFor(t, explain.EventTutorAudioStart, 1)
	if err := f.sess.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	stopFeed := make(chan struct{})
	defer close(stopFeed)
	go func() {
		for {
			select {
			case gate <- struct{}{}:
			case <-stopFeed:
				return
			}
		}
	}()
	<-done
	_ = f.sess.Close()

	start := f.rec.index(explain.EventTutorAudioStart, 0)
	for i, ev := range f.rec.snapshot() {
		if i > start && ev.Type == explain.EventAudioChunk {
			t.Fatalf("audio chunk at %d after stop: %v", i, f.rec.types())
		}
	}
	if n := f.rec.count(explain.EventExplanationComplete) + f.rec.count(explain.EventTutorAudioComplete); n != 0 {
		t.Errorf("completion after stop: %v", f.rec.types())
	}
	if got := f.sess.State(); got != explain.StateStopped {
		t.Errorf("state = %v, want stopped", got)
	}
}

func TestStart_CachedAudioIsReplayed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks})
	ctx := context.Background()
	f.blobs.Put("explanation_doc_Cell_Biology_1_1.mp3", []byte("cachedaudio!"))
	_, _, err := artifact.NewCache(f.notes).Store(ctx, &artifact.Note{
		PDFID: "doc", Topic: "Cell Biology", StartPage: 1, EndPage: 1, CreatedBy: explain.DefaultUserID,
		TextContent: cellContent, AudioURL: f.blobs.BaseURL + "/explanation_doc_Cell_Biology_1_1.mp3",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	f.rec.waitFor(t, explain.EventExplanationComplete, 1)
	_ = f.sess.Close()

	if got := string(f.rec.audio()); got != "cachedaudio!" {
		t.Errorf("audio = %q", got)
	}
	found := f.rec.index(explain.EventExistingNoteFound, 0)
	if found < 0 || found > f.rec.index(explain.EventAudioChunk, 0) {
		t.Errorf("existing_note_found missing or late: %v", f.rec.types())
	}
	if f.tts.CallCount() != 0 || f.blobs.UploadCount() != 0 {
		t.Errorf("synth calls=%d uploads=%d, want 0", f.tts.CallCount(), f.blobs.UploadCount())
	}
}

func TestStart_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  explain.StartRequest
		want error
	}{
		{"empty content", explain.StartRequest{Content: "  ", Topic: "t", StartPage: 1, EndPage: 1}, explain.ErrEmptyContent},
		{"zero start", explain.StartRequest{Content: "x", Topic: "t", StartPage: 0, EndPage: 1}, explain.ErrInvalidPageRange},
		{"reversed range", explain.StartRequest{Content: "x", Topic: "t", StartPage: 3, EndPage: 2}, explain.ErrInvalidPageRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks})
			if err := f.sess.Start(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if n := f.rec.count(explain.EventError); n != 1 {
				t.Errorf("error events = %d, want 1", n)
			}
			if f.rec.count(explain.EventExplanationStart) != 0 {
				t.Error("explanation_start emitted for invalid request")
			}
		})
	}
}

func TestNarration_SynthesisFailureEmitsOneError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{StartErr: errors.New("quota exceeded")})
	ctx := context.Background()
	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatal(err)
	}
	f.rec.waitFor(t, explain.EventError, 1)
	_ = f.sess.Close()

	if n := f.rec.count(explain.EventError); n != 1 {
		t.Errorf("error events = %d, want 1", n)
	}
	if got := f.sess.State(); got != explain.StateFailed {
		t.Errorf("state = %v, want failed", got)
	}
}

func TestFailedSession_AllowsFreshStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{StartErr: errors.New("quota exceeded")})
	ctx := context.Background()
	_ = f.sess.Start(ctx, cellRequest())
	f.rec.waitFor(t, explain.EventError, 1)

	if err := f.sess.Start(ctx, cellRequest()); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	f.rec.waitFor(t, explain.EventError, 2)
	if n := f.rec.count(explain.EventExplanationStart); n != 2 {
		t.Errorf("explanation_start = %d, want 2", n)
	}
}

func TestHandleAudio(t *testing.T) {
	t.Parallel()

	t.Run("transcript is answered", func(t *testing.T) {
		t.Parallel()
		rec := &sttmock.Provider{Text: " what is a cell? "}
		f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks}, func(d *explain.Deps) { d.STT = rec })
		f.sess.HandleAudio(context.Background(), []byte("RIFF"))

		tr := f.rec.index(explain.EventTranscript, 0)
		q := f.rec.index(explain.EventQuestionReceived, 0)
		if tr < 0 || q < tr {
			t.Fatalf("events = %v", f.rec.types())
		}
		ev := f.rec.snapshot()
		if ev[tr].Text != "what is a cell?" || ev[q].Question != "what is a cell?" {
			t.Errorf("transcript=%q question=%q", ev[tr].Text, ev[q].Question)
		}
		if rec.TranscribeCalls[0].Opts.Filename != "question.wav" {
			t.Errorf("filename = %q", rec.TranscribeCalls[0].Opts.Filename)
		}
		if got := f.sess.State(); got != explain.StateIdle {
			t.Errorf("state after answer without narration = %v, want idle", got)
		}
	})

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks}, func(d *explain.Deps) { d.STT = &sttmock.Provider{Text: "  "} })
		f.sess.HandleAudio(context.Background(), []byte("RIFF"))
		if n := f.rec.count(explain.EventError); n != 1 {
			t.Errorf("error events = %d, want 1", n)
		}
		if f.rec.count(explain.EventTranscript)+f.rec.count(explain.EventQuestionReceived) != 0 {
			t.Errorf("events = %v", f.rec.types())
		}
	})
}

func TestAskQuestion_AnswerFailureStillResumes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks})
	f.chat.StreamErr = errors.New("rate limited")
	f.sess.AskQuestion(context.Background(), "why?")

	if n := f.rec.count(explain.EventError); n != 1 {
		t.Errorf("error events = %d, want 1", n)
	}
	if f.rec.count(explain.EventTutorAudioStart) != 0 {
		t.Error("answer audio started after failed answer")
	}
	if got := f.sess.State(); got != explain.StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &ttsmock.Provider{Chunks: narrationChunks, Gate: make(chan struct{})})
	if err := f.sess.Start(context.Background(), cellRequest()); err != nil {
		t.Fatal(err)
	}
	_ = f.sess.Close()
	_ = f.sess.Close()
	if err := f.sess.Start(context.Background(), cellRequest()); !errors.Is(err, explain.ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

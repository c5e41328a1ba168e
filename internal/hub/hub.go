// Package hub routes explain channel traffic between client connections and
// their [explain.Session]s.
//
// Each connection owns exactly one session, keyed by a session id. Sessions
// only ever talk to their client through the [explain.Emitter] the hub hands
// them, so a closed or replaced connection silently drops late events.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/lectern/internal/explain"
	"github.com/MrWong99/lectern/internal/observe"
)

// ErrUnknownSession is returned for a session id that is not open.
var ErrUnknownSession = errors.New("hub: unknown session")

// Sink writes one encoded message to a client. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, msg []byte) error
}

// Factory builds the session for a new connection.
type Factory func(id, pdfID string, emit explain.Emitter) *explain.Session

// SessionInfo describes an open session.
type SessionInfo struct {
	SessionID string
	PDFID     string
	OpenedAt  time.Time
}

type entry struct {
	info   SessionInfo
	sess   *explain.Session
	sink   Sink
	closed atomic.Bool
}

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns sets the WebSocket origins the handler accepts. An
// empty list accepts only same-origin requests.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub is safe for concurrent use.
type Hub struct {
	factory Factory
	metrics *observe.Metrics
	origins []string

	mu       sync.Mutex
	sessions map[string]*entry
}

// New returns an empty Hub.
func New(factory Factory, opts ...Option) *Hub {
	h := &Hub{factory: factory, sessions: make(map[string]*entry)}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Open registers a session for id and greets the client. A prior session
// with the same id is closed first.
func (h *Hub) Open(ctx context.Context, id, pdfID string, sink Sink) (*explain.Session, error) {
	e := &entry{info: SessionInfo{SessionID: id, PDFID: pdfID, OpenedAt: time.Now().UTC()}, sink: sink}
	e.sess = h.factory(id, pdfID, func(ctx context.Context, ev explain.Event) error {
		return h.send(ctx, e, ev)
	})

	h.mu.Lock()
	prior := h.sessions[id]
	h.sessions[id] = e
	h.mu.Unlock()

	if prior != nil {
		slog.Info("hub: replacing session", "session_id", id)
		h.shutdown(prior)
	}
	h.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("hub: session opened", "session_id", id, "pdf_id", pdfID)

	if err := sink.Send(ctx, connectedMessage); err != nil {
		h.Close(id)
		return nil, fmt.Errorf("hub: greet %s: %w", id, err)
	}
	return e.sess, nil
}

// Close closes the session for id and waits for its work to stop. Later
// emits for it are dropped. Unknown ids are ignored.
func (h *Hub) Close(id string) {
	h.mu.Lock()
	e := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if e == nil {
		return
	}
	h.shutdown(e)
	slog.Info("hub: session closed", "session_id", id, "duration", time.Since(e.info.OpenedAt).Round(time.Millisecond))
}

func (h *Hub) shutdown(e *entry) {
	if e.closed.Swap(true) {
		return
	}
	_ = e.sess.Close()
	h.metrics.ActiveSessions.Add(context.Background(), -1)
}

// CloseAll closes every open session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Close(id)
	}
}

// Sessions returns the open sessions.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, e := range h.sessions {
		out = append(out, e.info)
	}
	return out
}

func (h *Hub) lookup(id string) *entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

// Emit sends ev to the client of id. For a closed or unknown id it logs and
// returns nil.
func (h *Hub) Emit(ctx context.Context, id string, ev explain.Event) error {
	e := h.lookup(id)
	if e == nil {
		slog.Debug("hub: emit to unknown session dropped", "session_id", id, "type", ev.Type)
		return nil
	}
	return h.send(ctx, e, ev)
}

func (h *Hub) send(ctx context.Context, e *entry, ev explain.Event) error {
	if e.closed.Load() {
		slog.Debug("hub: emit to closed session dropped", "session_id", e.info.SessionID, "type", ev.Type)
		return nil
	}
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	if ev.Type == explain.EventAudioChunk {
		h.metrics.RecordAudioBytes(ctx, "explain", len(ev.Data))
	}
	return e.sink.Send(ctx, b)
}

// Dispatch routes a decoded client message to the session of id. Questions
// are answered in the background; the call returns once they are accepted.
func (h *Hub) Dispatch(ctx context.Context, id string, in InboundEvent) error {
	e := h.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s := e.sess
	switch in.Type {
	case TypeStartExplanation:
		if err := s.Start(ctx, in.StartRequest); err != nil {
			slog.Debug("hub: start rejected", "session_id", id, "err", err)
		}
		return nil
	case TypePauseExplanation:
		return s.Pause(ctx)
	case TypeResumeExplanation:
		return s.Resume(ctx)
	case TypeStopExplanation:
		return s.Stop(ctx)
	case TypeSentenceComplete:
		s.SentenceComplete()
		return nil
	case TypeQuestion:
		go s.AskQuestion(ctx, in.Question)
		return nil
	default:
		return h.send(ctx, e, explain.Event{Type: explain.EventError, Message: "unknown event type: " + in.Type})
	}
}

// DispatchAudio hands recorded question audio to the session of id.
func (h *Hub) DispatchAudio(ctx context.Context, id string, data []byte) error {
	e := h.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	go e.sess.HandleAudio(ctx, data)
	return nil
}

package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/lectern/internal/explain"
)

const (
	// readLimit bounds one inbound frame. Recorded questions arrive as a
	// single binary frame.
	readLimit    = 16 << 20
	writeTimeout = 10 * time.Second
)

// wsSink serializes writes to one WebSocket connection.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, msg)
}

// Handler serves GET /ws/explain/{pdf_id}. Each connection gets its own
// session with id "{pdf_id}:{uuid}".
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pdfID := r.PathValue("pdf_id")
		if pdfID == "" {
			http.Error(w, "missing pdf id", http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
		if err != nil {
			slog.Warn("hub: websocket accept failed", "pdf_id", pdfID, "err", err)
			return
		}
		conn.SetReadLimit(readLimit)
		defer conn.CloseNow()

		ctx := r.Context()
		id := pdfID + ":" + uuid.NewString()
		if _, err := h.Open(ctx, id, pdfID, &wsSink{conn: conn}); err != nil {
			slog.Warn("hub: open failed", "session_id", id, "err", err)
			return
		}
		defer h.Close(id)

		h.readLoop(ctx, conn, id)
		conn.Close(websocket.StatusNormalClosure, "")
	})
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, id string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				slog.Debug("hub: client disconnected", "session_id", id)
			default:
				if !errors.Is(err, context.Canceled) {
					slog.Warn("hub: read failed", "session_id", id, "err", err)
				}
			}
			return
		}

		if typ == websocket.MessageBinary {
			if err := h.DispatchAudio(ctx, id, data); err != nil {
				slog.Warn("hub: dispatch audio failed", "session_id", id, "err", err)
			}
			continue
		}
		in, err := Decode(data)
		if err != nil {
			_ = h.Emit(ctx, id, explain.Event{Type: explain.EventError, Message: "invalid message: " + err.Error()})
			continue
		}
		if err := h.Dispatch(ctx, id, in); err != nil {
			slog.Warn("hub: dispatch failed", "session_id", id, "type", in.Type, "err", err)
		}
	}
}

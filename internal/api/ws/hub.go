// Package ws streams session log records over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/parax/internal/session"
)

// Hub serves WebSocket connections backed by session log broadcasters.
type Hub struct {
	sessions *session.Registry
}

func NewHub(sessions *session.Registry) *Hub {
	return &Hub{sessions: sessions}
}

// ServeSessionLogs streams one session's log records: the retained
// snapshot first, then live records as they are appended. One JSON
// LogRecord per text message. The connection closes when the session's
// broadcaster closes or the client goes away.
func (h *Hub) ServeSessionLogs(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	s, err := h.sessions.Get(sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub, snapshot := s.Broadcaster().Subscribe()
	defer s.Broadcaster().Unsubscribe(sub)

	for _, record := range snapshot {
		if writeErr := writeRecord(ctx, conn, record); writeErr != nil {
			log.Debug().Err(writeErr).Msg("websocket write")
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case record, ok := <-sub.Records():
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session log closed")
				return
			}
			if writeErr := writeRecord(ctx, conn, record); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, record session.LogRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

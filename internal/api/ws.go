package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/patientpulse/patientpulse/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The patient-facing page is served from a separate origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler carries one patient conversation per connection. The first frame
// must be an init message bearing the patient identity; afterwards message
// and new_chat frames are fed to the session in arrival order.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Server.wsHandler: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.New().String()
	defer s.registry.Evict(sessionID)
	slog.Debug("Server.wsHandler: connection opened", "sessionID", sessionID)

	initialized := false
	for {
		var msg models.InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Server.wsHandler: read failed", "error", err, "sessionID", sessionID)
			}
			return
		}

		switch {
		case msg.Type == models.MessageTypeInit:
			created, err := s.registry.ResolveOrCreate(sessionID, msg.PatientID)
			if err != nil {
				s.writeWS(conn, sessionID, models.OutboundMessage{
					Type: "error", Content: "A patient identity is required to start.",
				})
				continue
			}
			initialized = true
			if !created {
				continue
			}
		case !initialized:
			s.writeWS(conn, sessionID, models.OutboundMessage{
				Type: "error", Content: "Please initialize the session first.",
			})
			continue
		}

		outbound, err := s.registry.Deliver(r.Context(), sessionID, msg)
		if err != nil {
			if errors.Is(err, models.ErrStaleGeneration) {
				continue
			}
			slog.Error("Server.wsHandler: delivery failed", "error", err, "sessionID", sessionID)
			s.writeWS(conn, sessionID, models.OutboundMessage{
				Type: "error", Content: "Something went wrong. Please try again.",
			})
			continue
		}
		for _, m := range outbound {
			s.writeWS(conn, sessionID, m)
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, sessionID string, msg models.OutboundMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		slog.Warn("Server.writeWS: write failed", "error", err, "sessionID", sessionID)
	}
}

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sipeed/wabridge/pkg/domain"
	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/message"
)

const maxSendBody = 64 << 10

type sendMessageRequest struct {
	JID  string `json:"jid"`
	Text string `json:"text"`
}

// handleSendMessage lets the backend push a text through the live session.
// The session check comes before field validation. One attempt, no retry.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSendBody)).Decode(&req); err != nil {
		// Unreadable bodies are treated as missing fields.
		req = sendMessageRequest{}
	}

	session, ok := s.sessions.ActiveSession()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "WhatsApp socket not connected"})
		return
	}
	if req.JID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "jid and text are required"})
		return
	}

	if err := session.SendText(r.Context(), req.JID, req.Text); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, message.ErrSessionUnavailable) {
			status = http.StatusServiceUnavailable
		}
		logger.WarnCF("api", "Outbound send failed", map[string]interface{}{
			"to":    req.JID,
			"error": err,
		})
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	s.events.Publish(domain.NewEvent(domain.EventOutboundSent, domain.EntityID(req.JID), map[string]interface{}{
		"to":     req.JID,
		"length": len(req.Text),
	}))
	logger.InfoCF("api", "Outbound message sent", map[string]interface{}{
		"to": req.JID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

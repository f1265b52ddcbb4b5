package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/s4u-chat/backend/bus"
	"github.com/onnwee/s4u-chat/backend/s4u"
	"github.com/onnwee/s4u-chat/backend/telemetry"
)

const maxEventBody = 64 << 10

// HandleAdminSessionsDispatcher routes POST /admin/sessions/{id}/{events|pause|resume}.
func (h *Handlers) HandleAdminSessionsDispatcher(w http.ResponseWriter, r *http.Request) {
	chatID, tail := splitSessionPath(r.URL.Path, "/admin/sessions/")
	if chatID == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch tail {
	case "events":
		h.handleAdminEvent(w, r, chatID)
	case "pause":
		h.handleAdminPause(w, r, chatID, true)
	case "resume":
		h.handleAdminPause(w, r, chatID, false)
	default:
		http.NotFound(w, r)
	}
}

// handleAdminEvent admits one JSON event into chatID's session.
func (h *Handlers) handleAdminEvent(w http.ResponseWriter, r *http.Request, chatID string) {
	var p bus.EventPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&p); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if p.ChatID == "" {
		p.ChatID = chatID
	}
	if p.ChatID != chatID {
		http.Error(w, "chat_id does not match path", http.StatusBadRequest)
		return
	}
	e, err := p.Event()
	if err == nil {
		err = h.deps.Manager.Submit(r.Context(), e)
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "chat_id": chatID})
	case s4u.IsAdmissionError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, s4u.ErrSessionClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	default:
		telemetry.LoggerWithCorr(r.Context()).Error("admin event submit failed", slog.String("chat_id", chatID), slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "submit failed", http.StatusInternalServerError)
	}
}

// handleAdminPause holds or releases reply output for chatID.
func (h *Handlers) handleAdminPause(w http.ResponseWriter, r *http.Request, chatID string, pause bool) {
	var found bool
	if pause {
		found = h.deps.Manager.Pause(chatID)
	} else {
		found = h.deps.Manager.Resume(chatID)
	}
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("session output toggled", slog.String("chat_id", chatID), slog.Bool("paused", pause), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "paused": pause})
}

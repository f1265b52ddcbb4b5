package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HandleSessionsList returns a snapshot of every live chat session.
func (h *Handlers) HandleSessionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Manager.Snapshots())
}

// HandleSessionsDispatcher routes requests under /sessions/{id}/* to appropriate sub-handlers.
func (h *Handlers) HandleSessionsDispatcher(w http.ResponseWriter, r *http.Request) {
	chatID, tail := splitSessionPath(r.URL.Path, "/sessions/")
	switch {
	case chatID == "":
		http.NotFound(w, r)
	case tail == "":
		h.handleSessionDetail(w, r, chatID)
	case tail == "replies":
		h.handleSessionReplies(w, r, chatID)
	case tail == "stream":
		h.handleSessionStream(w, r, chatID)
	default:
		http.NotFound(w, r)
	}
}

// splitSessionPath returns the chat id and the remaining path after prefix.
func splitSessionPath(path, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	chatID, tail, _ := strings.Cut(rest, "/")
	return chatID, tail
}

func (h *Handlers) handleSessionDetail(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.deps.Manager.Session(chatID)
	if s == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

// handleSessionReplies returns the newest reply audit rows for a chat.
func (h *Handlers) handleSessionReplies(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Replies == nil {
		http.Error(w, "reply history requires a database", http.StatusServiceUnavailable)
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	replies, err := h.deps.Replies.ListReplies(r.Context(), chatID, limit)
	if err != nil {
		slog.Error("list replies failed", slog.String("chat_id", chatID), slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "failed to list replies", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, replies)
}

// handleSessionStream streams outgoing reply chunks for a chat as Server-Sent Events.
func (h *Handlers) handleSessionStream(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if h.deps.Hub == nil {
		http.Error(w, "live stream disabled", http.StatusServiceUnavailable)
		return
	}
	chunks, cancel := h.deps.Hub.Subscribe(chatID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case c := <-chunks:
			data, err := json.Marshal(c)
			if err != nil {
				slog.Warn("failed to encode SSE chunk", slog.Any("err", err), slog.String("component", "http_sse"))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data); err != nil {
				slog.Debug("sse client gone", slog.Any("err", err), slog.String("component", "http_sse"))
				return
			}
			flusher.Flush()
		}
	}
}

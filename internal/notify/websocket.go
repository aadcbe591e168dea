package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/ashureev/childassess/internal/assessment"
	"github.com/ashureev/childassess/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Results reads the current result of a session.
type Results interface {
	Result(sessionID string) (assessment.ResultView, bool, error)
}

// WebSocketHandler serves /ws/result: one JSON frame once the result is ready.
type WebSocketHandler struct {
	hub            *Hub
	results        Results
	allowedOrigins []string
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *Hub, results Results, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, results: results, allowedOrigins: allowedOrigins}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if _, _, err := h.results.Result(sessionID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNotFound) {
			status = http.StatusBadRequest
		}
		http.Error(w, "invalid session_id", status)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "result delivered"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	// Subscribe before checking readiness so a result published in between is not missed.
	updates, cancelSub := h.hub.Subscribe(sessionID)
	defer cancelSub()

	// The client never sends; CloseRead surfaces its disconnect as ctx cancellation.
	ctx := ws.CloseRead(r.Context())

	view, ready, err := h.results.Result(sessionID)
	if err != nil {
		slog.Warn("Session vanished while waiting for result", "session_id", sessionID, "error", err)
		return
	}
	if !ready {
		select {
		case view = <-updates:
		case <-ctx.Done():
			slog.Debug("Result subscriber left before result was ready", "session_id", sessionID)
			return
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, view); err != nil {
		slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") {
		return true
	}
	if slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}

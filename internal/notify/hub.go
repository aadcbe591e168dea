// Package notify pushes final results to websocket clients waiting on a session.
package notify

import (
	"log/slog"
	"sync"

	"github.com/ashureev/childassess/internal/assessment"
)

// Hub fans result notifications out to the subscribers of each session.
type Hub struct {
	mu     sync.Mutex
	active map[string]map[chan assessment.ResultView]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[chan assessment.ResultView]struct{}),
	}
}

// Subscribe registers interest in a session. The returned channel receives at
// most one result; cancel must be called when the subscriber is gone.
func (h *Hub) Subscribe(sessionID string) (<-chan assessment.ResultView, func()) {
	ch := make(chan assessment.ResultView, 1)

	h.mu.Lock()
	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[chan assessment.ResultView]struct{})
	}
	h.active[sessionID][ch] = struct{}{}
	h.mu.Unlock()
	slog.Debug("Result subscriber registered", "session_id", sessionID)

	return ch, func() { h.unsubscribe(sessionID, ch) }
}

func (h *Hub) unsubscribe(sessionID string, ch chan assessment.ResultView) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.active[sessionID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.active, sessionID)
		}
	}
}

// Publish delivers result to every current subscriber of the session and
// drops them; later subscribers read the result from the session instead.
func (h *Hub) Publish(sessionID string, result assessment.ResultView) {
	h.mu.Lock()
	subs := h.active[sessionID]
	delete(h.active, sessionID)
	h.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- result:
		default:
		}
	}
	if len(subs) > 0 {
		slog.Info("Result pushed to subscribers", "session_id", sessionID, "subscribers", len(subs))
	}
}

// Subscribers returns the number of clients waiting on a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active[sessionID])
}

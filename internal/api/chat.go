package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/childassess/internal/dialogue"
	"github.com/ashureev/childassess/internal/session"
)

// ChatStart asks the opening screening question.
func (h *Handler) ChatStart(w http.ResponseWriter, r *http.Request) {
	var req chatStartRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.chat.Start(r.Context(), req.SessionID)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// ChatResponse records an answer and returns the next question.
func (h *Handler) ChatResponse(w http.ResponseWriter, r *http.Request) {
	var req chatResponseRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	reply, err := h.chat.SubmitAnswer(r.Context(), req.SessionID, req.Answer)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

func (h *Handler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, dialogue.ErrNotStarted):
		Error(w, http.StatusBadRequest, "chat not started")
	case errors.Is(err, dialogue.ErrWrongKind):
		Error(w, http.StatusBadRequest, "session is not a screening session")
	default:
		h.logger.Error("Chat request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/childassess/internal/assessment"
	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/session"
)

// Start opens a session.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.svc.Start(r.Context(), assessment.StartRequest{
		Name:     req.Name,
		Age:      req.Age,
		Role:     req.Role,
		TestType: domain.SessionKind(req.TestType),
	})
	if err != nil {
		if errors.Is(err, assessment.ErrInvalidKind) {
			Error(w, http.StatusBadRequest, "invalid test_type")
			return
		}
		h.logger.Error("Failed to start session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Response accepts one answer as multipart form data and analyzes it.
func (h *Handler) Response(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	index, err := strconv.Atoi(r.FormValue("question_index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid question_index")
		return
	}
	form := responseForm{
		SessionID:     r.FormValue("session_id"),
		QuestionIndex: index,
		Question:      r.FormValue("question"),
		QuestionType:  r.FormValue("question_type"),
		AnswerText:    r.FormValue("answer_text"),
	}
	if !h.check(w, &form) {
		return
	}

	if err := h.svc.CheckAnswer(form.SessionID, form.QuestionIndex); err != nil {
		h.writeSessionError(w, err)
		return
	}

	in := assessment.AnswerInput{
		SessionID:     form.SessionID,
		QuestionIndex: form.QuestionIndex,
		QuestionText:  form.Question,
		QuestionType:  domainType(form.QuestionType),
		AnswerText:    form.AnswerText,
	}

	file, _, err := r.FormFile("answer_audio")
	switch {
	case err == nil:
		defer func() { _ = file.Close() }()
		path, err := h.svc.SaveAudio(form.SessionID, form.QuestionIndex, file)
		if err != nil {
			h.logger.Error("Failed to save audio", "session_id", form.SessionID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to save audio")
			return
		}
		in.AudioPath = path
	case !errors.Is(err, http.ErrMissingFile):
		Error(w, http.StatusBadRequest, "invalid answer_audio")
		return
	}

	item, err := h.svc.Respond(r.Context(), in)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"partial_analysis": item.Analysis,
	})
}

// Submit starts the final aggregation of a language session.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.SubmitAsync(req.SessionID, req.answers()); err != nil {
		h.writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "processing_started"})
}

// Result returns the final result, or 202 while it is still pending.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	view, ready, err := h.svc.Result(r.URL.Query().Get("session_id"))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	if !ready {
		JSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	JSON(w, http.StatusOK, view)
}

// AllResults returns every child with their session history.
func (h *Handler) AllResults(w http.ResponseWriter, r *http.Request) {
	overview, err := h.svc.Overview(r.Context())
	if err != nil {
		h.logger.Error("Failed to build teacher overview", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	JSON(w, http.StatusOK, overview)
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		Error(w, http.StatusBadRequest, "invalid session_id")
	case errors.Is(err, assessment.ErrInvalidIndex):
		Error(w, http.StatusBadRequest, "invalid question_index")
	case errors.Is(err, assessment.ErrWrongKind):
		Error(w, http.StatusBadRequest, "session does not take task answers")
	case errors.Is(err, assessment.ErrSessionClosed):
		Error(w, http.StatusConflict, "session already submitted")
	case errors.Is(err, assessment.ErrSupervisorClosed):
		Error(w, http.StatusServiceUnavailable, "server is shutting down")
	default:
		h.logger.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func domainType(t string) domain.QuestionType {
	return domain.QuestionType(t)
}

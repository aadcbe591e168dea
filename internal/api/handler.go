// Package api provides HTTP handlers for the assessment API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/childassess/internal/assessment"
	"github.com/ashureev/childassess/internal/dialogue"
	"github.com/ashureev/childassess/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds JSON bodies; audio uploads use maxUploadBytes.
const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 32 << 20
)

// Assessments is the lifecycle service behind the task routes.
type Assessments interface {
	Start(ctx context.Context, req assessment.StartRequest) (assessment.StartResponse, error)
	CheckAnswer(sessionID string, index int) error
	SaveAudio(sessionID string, index int, r io.Reader) (string, error)
	Respond(ctx context.Context, in assessment.AnswerInput) (domain.AnswerItem, error)
	SubmitAsync(sessionID string, answers []assessment.AnswerInput) error
	Result(sessionID string) (assessment.ResultView, bool, error)
	Overview(ctx context.Context) ([]assessment.UserOverview, error)
}

// Chats is the screening dialogue behind the chat routes.
type Chats interface {
	Start(ctx context.Context, sessionID string) (dialogue.Reply, error)
	SubmitAnswer(ctx context.Context, sessionID, answer string) (dialogue.Reply, error)
}

// Handler serves the assessment, chat and teacher routes.
type Handler struct {
	svc      Assessments
	chat     Chats
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc Assessments, chat Chats, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:      svc,
		chat:     chat,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes registers the assessment routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Root)
	r.Post("/start", h.Start)
	r.Post("/response", h.Response)
	r.Post("/submit", h.Submit)
	r.Get("/result", h.Result)

	r.Route("/chat", func(r chi.Router) {
		r.Post("/start", h.ChatStart)
		r.Post("/response", h.ChatResponse)
	})

	r.Get("/teacher/all_results", h.AllResults)
}

// Root reports that the service is up.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "Child assessment service is running"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v and validates it.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return h.check(w, v)
}

func (h *Handler) check(w http.ResponseWriter, v interface{}) bool {
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			Error(w, http.StatusBadRequest, "invalid "+verrs[0].Field())
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// Package assessment implements the session lifecycle: start, per-answer
// analysis, submission, final results and the class overview.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ashureev/childassess/internal/aggregate"
	"github.com/ashureev/childassess/internal/analysis"
	"github.com/ashureev/childassess/internal/content"
	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/llm"
	"github.com/ashureev/childassess/internal/session"
	"github.com/ashureev/childassess/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidIndex is returned for a question index outside the task list.
	ErrInvalidIndex = errors.New("invalid question_index")
	// ErrInvalidKind is returned for an unknown test type.
	ErrInvalidKind = errors.New("invalid test_type")
	// ErrWrongKind is returned when submitting answers to a screening session.
	ErrWrongKind = errors.New("session does not take task answers")
	// ErrSessionClosed is returned for new answers after the result is final.
	ErrSessionClosed = errors.New("session already submitted")
)

// historyDepth is how many prior screenings give trend context.
const historyDepth = 3

// Analyzer scores one answer. It must always return a result.
type Analyzer interface {
	Analyze(ctx context.Context, c analysis.Content) domain.AnalysisResult
}

// Aggregator builds the final result of a session.
type Aggregator interface {
	Aggregate(ctx context.Context, in aggregate.Input) domain.FinalResult
}

// Notifier is told when a session result becomes ready.
type Notifier interface {
	Publish(sessionID string, result ResultView)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, ResultView) {}

// Deps are the collaborators of a Service.
type Deps struct {
	Repo       store.Repository
	Sessions   *session.Store
	Analyzer   Analyzer
	Aggregator Aggregator
	Generator  llm.Generator
	Content    *content.Content
	Supervisor *Supervisor
	Notifier   Notifier
}

// Options tune a Service.
type Options struct {
	UploadDir       string
	GenerateTimeout time.Duration
	Logger          *slog.Logger
}

// Service runs assessments.
type Service struct {
	repo            store.Repository
	sessions        *session.Store
	analyzer        Analyzer
	aggregator      Aggregator
	gen             llm.Generator
	content         *content.Content
	supervisor      *Supervisor
	notifier        Notifier
	uploadDir       string
	generateTimeout time.Duration
	logger          *slog.Logger

	// answers dedupes concurrent analyses of one answer; finals dedupes aggregation.
	answers singleflight.Group
	finals  singleflight.Group
}

// NewService creates a Service.
func NewService(deps Deps, opts Options) *Service {
	s := &Service{
		repo:            deps.Repo,
		sessions:        deps.Sessions,
		analyzer:        deps.Analyzer,
		aggregator:      deps.Aggregator,
		gen:             deps.Generator,
		content:         deps.Content,
		supervisor:      deps.Supervisor,
		notifier:        deps.Notifier,
		uploadDir:       opts.UploadDir,
		generateTimeout: opts.GenerateTimeout,
		logger:          opts.Logger,
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.generateTimeout <= 0 {
		s.generateTimeout = 20 * time.Second
	}
	return s
}

// Start resolves the user, records the session and prepares its tasks.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	kind := req.TestType
	if kind == "" {
		kind = domain.KindLanguage
	}
	if !kind.Valid() {
		return StartResponse{}, ErrInvalidKind
	}

	user, err := s.repo.UpsertUser(ctx, req.Name, req.Age)
	if err != nil {
		return StartResponse{}, fmt.Errorf("resolve user: %w", err)
	}

	sess := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return StartResponse{}, fmt.Errorf("create session: %w", err)
	}

	state := &session.State{
		Info: session.Info{
			UserID:    user.ID,
			Name:      req.Name,
			Age:       req.Age,
			Role:      req.Role,
			Kind:      kind,
			CreatedAt: sess.CreatedAt,
		},
	}
	resp := StartResponse{SessionID: sess.ID, Questions: []domain.Task{}}
	if kind == domain.KindMental {
		resp.Redirect = "chat.html"
	} else {
		state.Tasks = s.generateTasks(ctx, sess.ID, req.Age)
		resp.Questions = state.Tasks
	}

	if err := s.sessions.Create(sess.ID, state); err != nil {
		return StartResponse{}, err
	}
	s.logger.Info("Session started", "session_id", sess.ID, "user_id", user.ID, "kind", kind, "tasks", len(state.Tasks))
	return resp, nil
}

// SaveAudio stores a recording for an answer and returns its path. An index
// that already has an analyzed answer keeps its recording, and the stored
// path is returned without reading r.
func (s *Service) SaveAudio(sessionID string, index int, r io.Reader) (string, error) {
	if snap, err := s.sessions.Snapshot(sessionID); err == nil {
		if existing := snap.Answer(index); existing != nil && existing.Analysis != nil {
			return existing.AudioRef, nil
		}
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	path := filepath.Join(s.uploadDir, fmt.Sprintf("%s_%d.webm", sessionID, index))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}
	return path, nil
}

// CheckAnswer validates that index can be answered in the session.
func (s *Service) CheckAnswer(sessionID string, index int) error {
	snap, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(snap.Tasks) {
		return ErrInvalidIndex
	}
	if snap.Ready && snap.Answer(index) == nil {
		return ErrSessionClosed
	}
	return nil
}

// Respond analyzes one answer and stores it. An index that already has an
// analysis returns the stored answer without calling any backend.
func (s *Service) Respond(ctx context.Context, in AnswerInput) (domain.AnswerItem, error) {
	if err := s.CheckAnswer(in.SessionID, in.QuestionIndex); err != nil {
		return domain.AnswerItem{}, err
	}
	return s.analyzeAnswer(ctx, in)
}

func (s *Service) analyzeAnswer(ctx context.Context, in AnswerInput) (domain.AnswerItem, error) {
	snap, err := s.sessions.Snapshot(in.SessionID)
	if err != nil {
		return domain.AnswerItem{}, err
	}
	if existing := snap.Answer(in.QuestionIndex); existing != nil && existing.Analysis != nil {
		cachedAnswers.Inc()
		return *existing, nil
	}

	task := snap.Tasks[in.QuestionIndex]
	item := domain.AnswerItem{
		QuestionIndex: in.QuestionIndex,
		QuestionText:  in.QuestionText,
		QuestionType:  in.QuestionType,
		AnswerText:    in.AnswerText,
		AudioRef:      in.AudioPath,
	}
	if item.QuestionText == "" {
		item.QuestionText = task.Text
	}
	if item.QuestionType != domain.QuestionAudio && item.QuestionType != domain.QuestionText {
		item.QuestionType = task.Type
	}

	key := in.SessionID + ":" + strconv.Itoa(in.QuestionIndex)
	v, err, shared := s.answers.Do(key, func() (interface{}, error) {
		if cur, err := s.sessions.Snapshot(in.SessionID); err == nil {
			if existing := cur.Answer(in.QuestionIndex); existing != nil && existing.Analysis != nil {
				return *existing, nil
			}
		}

		// Stored analyses are never recomputed. Tier timeouts still bound this call.
		result := s.analyzer.Analyze(context.WithoutCancel(ctx), analysis.Content{Text: in.AnswerText, AudioPath: in.AudioPath})
		item.Analysis = &result

		var stored domain.AnswerItem
		err := s.sessions.With(in.SessionID, func(st *session.State) error {
			stored = st.AddAnswer(item)
			return nil
		})
		return stored, err
	})
	if err != nil {
		return domain.AnswerItem{}, err
	}
	if shared {
		s.logger.Debug("Answer analysis shared with a concurrent request", "session_id", in.SessionID, "question_index", in.QuestionIndex)
	}
	return v.(domain.AnswerItem), nil
}

// Submit analyzes any answers only present in the payload, aggregates the
// session and records the result. Submitting a finished session does nothing.
func (s *Service) Submit(ctx context.Context, sessionID string, answers []AnswerInput) error {
	snap, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		return err
	}
	if snap.Info.Kind != domain.KindLanguage {
		return ErrWrongKind
	}
	if snap.Ready {
		s.logger.Info("Submit ignored, result already final", "session_id", sessionID)
		return nil
	}

	for _, a := range answers {
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(snap.Tasks) {
			s.logger.Warn("Submitted answer has invalid index", "session_id", sessionID, "question_index", a.QuestionIndex)
			continue
		}
		if snap.Answer(a.QuestionIndex) != nil {
			continue
		}
		a.SessionID = sessionID
		a.AudioPath = ""
		if _, err := s.analyzeAnswer(ctx, a); err != nil {
			return fmt.Errorf("analyze submitted answer: %w", err)
		}
	}

	return s.finish(ctx, sessionID)
}

// SubmitAsync validates the session and runs Submit on the supervisor.
func (s *Service) SubmitAsync(sessionID string, answers []AnswerInput) error {
	snap, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		return err
	}
	if snap.Info.Kind != domain.KindLanguage {
		return ErrWrongKind
	}
	return s.supervisor.Go("submit", func(ctx context.Context) {
		if err := s.Submit(ctx, sessionID, answers); err != nil {
			s.logger.Error("Submission failed", "session_id", sessionID, "error", err)
		}
	})
}

// FinishChat schedules the aggregation of a closed chat on the supervisor.
func (s *Service) FinishChat(sessionID string) {
	err := s.supervisor.Go("aggregate_chat", func(ctx context.Context) {
		if err := s.finish(ctx, sessionID); err != nil {
			s.logger.Error("Chat aggregation failed", "session_id", sessionID, "error", err)
		}
	})
	if err != nil {
		s.logger.Error("Chat aggregation not scheduled", "session_id", sessionID, "error", err)
	}
}

// finish aggregates a session once, writes the durable result and then marks
// the runtime state ready.
func (s *Service) finish(ctx context.Context, sessionID string) error {
	_, err, _ := s.finals.Do(sessionID, func() (interface{}, error) {
		snap, err := s.sessions.Snapshot(sessionID)
		if err != nil {
			return nil, err
		}
		if snap.Ready {
			return nil, nil
		}

		in := aggregate.Input{
			SessionID: sessionID,
			Kind:      snap.Info.Kind,
			Age:       snap.Info.Age,
			Answers:   snap.Answers,
			Chat:      snap.Chat,
		}
		if snap.Info.Kind == domain.KindMental {
			in.History = s.priorScreenings(ctx, snap.Info.UserID, sessionID)
		}

		start := time.Now()
		result := s.aggregator.Aggregate(ctx, in)
		aggregationDuration.WithLabelValues(string(snap.Info.Kind)).Observe(time.Since(start).Seconds())

		if err := s.repo.UpdateSessionResult(ctx, sessionID, result); err != nil {
			s.logger.Error("Failed to persist session result", "session_id", sessionID, "error", err)
		}

		var view ResultView
		completed := false
		err = s.sessions.With(sessionID, func(st *session.State) error {
			completed = st.Complete(result)
			view = newResultView(st.Info.Name, st.Info.Age, result)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if completed {
			s.logger.Info("Session result ready", "session_id", sessionID, "category", result.Category)
			s.notifier.Publish(sessionID, view)
		}
		return nil, nil
	})
	return err
}

func (s *Service) priorScreenings(ctx context.Context, userID int64, sessionID string) []domain.SessionSummary {
	history, err := s.repo.QueryUserHistory(ctx, store.HistoryQuery{
		UserID:           userID,
		ExcludeSessionID: sessionID,
		CompletedOnly:    true,
		Limit:            historyDepth,
	})
	if err != nil {
		s.logger.Error("Failed to load session history", "session_id", sessionID, "error", err)
		return nil
	}
	return history
}

// Result returns the final result, or ready=false while it is pending.
func (s *Service) Result(sessionID string) (ResultView, bool, error) {
	snap, err := s.sessions.Snapshot(sessionID)
	if err != nil {
		return ResultView{}, false, err
	}
	if !snap.Ready || snap.Result == nil {
		return ResultView{}, false, nil
	}
	return newResultView(snap.Info.Name, snap.Info.Age, *snap.Result), true, nil
}

// Overview lists every child with their sessions, newest first.
func (s *Service) Overview(ctx context.Context) ([]UserOverview, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]UserOverview, 0, len(users))
	for _, u := range users {
		history, err := s.repo.QueryUserHistory(ctx, store.HistoryQuery{UserID: u.ID})
		if err != nil {
			return nil, fmt.Errorf("query history of user %d: %w", u.ID, err)
		}

		entry := UserOverview{
			UserID:     u.ID,
			Name:       u.Name,
			Age:        u.Age,
			LatestRisk: aggregate.CategoryGood,
			Sessions:   make([]SessionRecord, 0, len(history)),
		}
		for i, h := range history {
			entry.Sessions = append(entry.Sessions, SessionRecord{
				SessionID: h.SessionID,
				Type:      h.Kind,
				Timestamp: h.Timestamp,
				Category:  optional(h.Category),
				Summary:   optional(h.Summary),
				Analysis:  optional(h.Analysis),
			})
			if i == 0 && h.Kind == string(domain.KindMental) && h.Category != "" {
				entry.LatestRisk = h.Category
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Exists reports whether a session is live.
func (s *Service) Exists(sessionID string) bool {
	return s.sessions.Exists(sessionID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

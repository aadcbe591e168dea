package assessment

import (
	"time"

	"github.com/ashureev/childassess/internal/domain"
)

// StartRequest opens a session.
type StartRequest struct {
	Name     string
	Age      int
	Role     string
	TestType domain.SessionKind
}

// StartResponse is returned by Start.
type StartResponse struct {
	SessionID string        `json:"session_id"`
	Questions []domain.Task `json:"questions"`
	Redirect  string        `json:"redirect,omitempty"`
}

// AnswerInput is one answer to a task.
type AnswerInput struct {
	SessionID     string
	QuestionIndex int
	QuestionText  string
	QuestionType  domain.QuestionType
	AnswerText    string
	// AudioPath is set when a recording was stored for the answer.
	AudioPath string
}

// ResultView is the final result as presented to the client.
type ResultView struct {
	Name     string        `json:"name"`
	Age      int           `json:"age"`
	Category string        `json:"category"`
	Summary  string        `json:"summary"`
	Analysis string        `json:"analysis"`
	Detail   *ResultDetail `json:"detail,omitempty"`
}

// ResultDetail carries the numeric side of a language result.
type ResultDetail struct {
	Score     float64              `json:"score"`
	Breakdown []domain.AnswerBrief `json:"breakdown"`
}

// SessionRecord is one session in the overview.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Category  *string   `json:"category"`
	Summary   *string   `json:"summary"`
	Analysis  *string   `json:"analysis"`
}

// UserOverview is one child with all of their sessions, newest first.
type UserOverview struct {
	UserID     int64           `json:"user_id"`
	Name       string          `json:"name"`
	Age        int             `json:"age"`
	LatestRisk string          `json:"latest_risk"`
	Sessions   []SessionRecord `json:"sessions"`
}

func newResultView(name string, age int, r domain.FinalResult) ResultView {
	v := ResultView{
		Name:     name,
		Age:      age,
		Category: r.Category,
		Summary:  r.Summary,
		Analysis: r.AnalysisText,
	}
	if r.Score != nil {
		breakdown := r.Breakdown
		if breakdown == nil {
			breakdown = []domain.AnswerBrief{}
		}
		v.Detail = &ResultDetail{Score: *r.Score, Breakdown: breakdown}
	}
	return v
}

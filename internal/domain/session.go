package domain

import (
	"time"
)

// SessionKind selects the assessment flow.
type SessionKind string

const (
	// KindLanguage is the task-based reading/writing assessment.
	KindLanguage SessionKind = "language"
	// KindMental is the chat-based wellbeing screening.
	KindMental SessionKind = "mental"
)

// Valid reports whether k is a known session kind.
func (k SessionKind) Valid() bool {
	return k == KindLanguage || k == KindMental
}

// Session is the durable record of one assessment run.
// Category, Summary, AnalysisText and Score stay nil until a final result is written.
type Session struct {
	ID           string
	UserID       int64
	Kind         SessionKind
	CreatedAt    time.Time
	Category     *string
	Summary      *string
	AnalysisText *string
	Score        *float64
}

// HasResult returns true once a final result has been recorded.
func (s *Session) HasResult() bool {
	return s.Category != nil
}

// SessionSummary is the trend context of a prior session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Summary   string    `json:"summary"`
	Analysis  string    `json:"analysis"`
}

// QuestionType is how a task is answered.
type QuestionType string

const (
	// QuestionAudio tasks are read aloud and recorded.
	QuestionAudio QuestionType = "audio"
	// QuestionText tasks are answered in writing.
	QuestionText QuestionType = "text"
)

// Task is one item of a language assessment.
type Task struct {
	Text string       `json:"text" yaml:"text"`
	Type QuestionType `json:"type" yaml:"type"`
}

// Valid reports whether the task has text and a known answer type.
func (t Task) Valid() bool {
	return t.Text != "" && (t.Type == QuestionAudio || t.Type == QuestionText)
}

// AnswerItem is a submitted answer with its cached analysis.
type AnswerItem struct {
	QuestionIndex int             `json:"question_index"`
	QuestionText  string          `json:"question"`
	QuestionType  QuestionType    `json:"question_type"`
	AnswerText    string          `json:"answer_text,omitempty"`
	AudioRef      string          `json:"audio_path,omitempty"`
	Analysis      *AnalysisResult `json:"analysis,omitempty"`
}

// FinalResult is the aggregated verdict of a session.
type FinalResult struct {
	Category     string        `json:"category"`
	Summary      string        `json:"summary"`
	AnalysisText string        `json:"analysis"`
	Score        *float64      `json:"score,omitempty"`
	Breakdown    []AnswerBrief `json:"breakdown,omitempty"`
}

// AnswerBrief pairs a question with its analysis in a result breakdown.
type AnswerBrief struct {
	Question string         `json:"question"`
	Analysis AnalysisResult `json:"analysis"`
}

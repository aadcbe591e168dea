package api

import "github.com/ashureev/childassess/internal/assessment"

type startRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Age      int    `json:"age" validate:"gte=1,lte=120"`
	Role     string `json:"role" validate:"omitempty,max=50"`
	TestType string `json:"test_type" validate:"omitempty,oneof=language mental"`
}

// responseForm mirrors the multipart fields of /response.
type responseForm struct {
	SessionID     string `validate:"required"`
	QuestionIndex int    `validate:"gte=0"`
	Question      string `validate:"max=2000"`
	QuestionType  string `validate:"omitempty,oneof=audio text"`
	AnswerText    string `validate:"max=10000"`
}

type submitAnswer struct {
	QuestionIndex int    `json:"question_index" validate:"gte=0"`
	Question      string `json:"question" validate:"max=2000"`
	QuestionType  string `json:"question_type" validate:"omitempty,oneof=audio text"`
	AnswerText    string `json:"answer_text" validate:"max=10000"`
}

type submitRequest struct {
	SessionID string         `json:"session_id" validate:"required"`
	Answers   []submitAnswer `json:"answers" validate:"omitempty,max=100,dive"`
}

type chatStartRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type chatResponseRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Answer    string `json:"answer" validate:"max=10000"`
}

func (r submitRequest) answers() []assessment.AnswerInput {
	out := make([]assessment.AnswerInput, 0, len(r.Answers))
	for _, a := range r.Answers {
		out = append(out, assessment.AnswerInput{
			SessionID:     r.SessionID,
			QuestionIndex: a.QuestionIndex,
			QuestionText:  a.Question,
			QuestionType:  domainType(a.QuestionType),
			AnswerText:    a.AnswerText,
		})
	}
	return out
}

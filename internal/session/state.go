package session

import (
	"time"

	"github.com/ashureev/childassess/internal/domain"
)

// Info is what the session was started with.
type Info struct {
	UserID    int64
	Name      string
	Age       int
	Role      string
	Kind      domain.SessionKind
	CreatedAt time.Time
}

// State is the in-memory progress of one session. It is lost on restart;
// answers are only made durable through the final result.
type State struct {
	Info    Info
	Tasks   []domain.Task
	Answers []domain.AnswerItem
	Chat    []domain.ChatTurn
	Phase   domain.ChatPhase
	Ready   bool
	Result  *domain.FinalResult
}

// Answer returns the stored answer for index, or nil.
func (s *State) Answer(index int) *domain.AnswerItem {
	for i := range s.Answers {
		if s.Answers[i].QuestionIndex == index {
			return &s.Answers[i]
		}
	}
	return nil
}

// AddAnswer stores item unless its index already has an answer, and returns
// the answer that is stored for the index afterwards.
func (s *State) AddAnswer(item domain.AnswerItem) domain.AnswerItem {
	if existing := s.Answer(item.QuestionIndex); existing != nil {
		return *existing
	}
	s.Answers = append(s.Answers, item)
	return item
}

// Complete records the final result and flips Ready. It reports false, and
// changes nothing, when the session was already complete.
func (s *State) Complete(result domain.FinalResult) bool {
	if s.Ready {
		return false
	}
	s.Result = &result
	s.Ready = true
	if s.Info.Kind == domain.KindMental {
		s.Phase = domain.ChatDone
	}
	return true
}

func (s *State) clone() State {
	out := *s
	out.Tasks = append([]domain.Task(nil), s.Tasks...)
	out.Answers = append([]domain.AnswerItem(nil), s.Answers...)
	out.Chat = append([]domain.ChatTurn(nil), s.Chat...)
	if s.Result != nil {
		r := *s.Result
		r.Breakdown = append([]domain.AnswerBrief(nil), s.Result.Breakdown...)
		out.Result = &r
	}
	return out
}

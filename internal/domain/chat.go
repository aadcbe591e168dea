package domain

import "time"

// Role is the speaker of a chat turn.
type Role string

const (
	RoleBot  Role = "bot"
	RoleUser Role = "user"
)

// MaxChatTurns bounds a screening transcript: seven question/answer pairs.
const MaxChatTurns = 14

// ChatTurn is one message of a screening conversation.
type ChatTurn struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Ordinal   int       `json:"ordinal"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatPhase is the dialogue state of a session.
type ChatPhase int

const (
	ChatAwaitingStart ChatPhase = iota
	ChatAsking
	ChatClosing
	ChatDone
)

func (p ChatPhase) String() string {
	switch p {
	case ChatAwaitingStart:
		return "awaiting_start"
	case ChatAsking:
		return "asking"
	case ChatClosing:
		return "closing"
	case ChatDone:
		return "done"
	default:
		return "unknown"
	}
}

// BotQuestions returns the content of every bot turn in order.
func BotQuestions(history []ChatTurn) []string {
	var out []string
	for _, t := range history {
		if t.Role == RoleBot {
			out = append(out, t.Content)
		}
	}
	return out
}

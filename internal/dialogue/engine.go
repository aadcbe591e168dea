// Package dialogue drives the screening chat: a bounded sequence of bot
// questions and child answers, ending in an asynchronous aggregation.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/childassess/internal/content"
	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/llm"
	"github.com/ashureev/childassess/internal/session"
)

var (
	// ErrNotStarted is returned for answers sent before the chat was started.
	ErrNotStarted = errors.New("chat not started")
	// ErrWrongKind is returned when the session is not a screening session.
	ErrWrongKind = errors.New("session is not a mental screening session")
)

const minQuestionLength = 5

// artifacts are fragments generators leave around a bare question.
var artifacts = []string{"[]", "['", "']", "Bot:", "AI:", "Assistant:"}

// Reply is the outcome of one chat call.
type Reply struct {
	Done    bool   `json:"done"`
	Message string `json:"message,omitempty"`
}

// ChatLog is the durable transcript.
type ChatLog interface {
	AppendChatTurn(ctx context.Context, turn domain.ChatTurn) error
}

// Finisher schedules the aggregation of a closed chat. It must not block.
type Finisher interface {
	FinishChat(sessionID string)
}

// Engine runs chat turns. A per-session turn lock orders the turns of one
// session; the session state lock is released while a question is generated.
type Engine struct {
	sessions *session.Store
	log      ChatLog
	gen      llm.Generator
	content  *content.Content
	finisher Finisher
	timeout  time.Duration
	pick     func(n int) int
	logger   *slog.Logger

	turns sync.Map // session id -> *sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithPicker replaces the uniform random choice among fallback questions.
func WithPicker(pick func(n int) int) Option {
	return func(e *Engine) { e.pick = pick }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a dialogue engine. gen may be nil, in which case every
// question after the opening one comes from the fallback pool.
func NewEngine(sessions *session.Store, log ChatLog, gen llm.Generator, c *content.Content,
	finisher Finisher, timeout time.Duration, opts ...Option) *Engine {
	e := &Engine{
		sessions: sessions,
		log:      log,
		gen:      gen,
		content:  c,
		finisher: finisher,
		timeout:  timeout,
		pick:     rand.IntN,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start asks the opening question. Calling it again while the chat is running
// repeats the last question without adding a turn.
func (e *Engine) Start(ctx context.Context, sessionID string) (Reply, error) {
	var reply Reply
	err := e.sessions.With(sessionID, func(st *session.State) error {
		if st.Info.Kind != domain.KindMental {
			return ErrWrongKind
		}
		switch st.Phase {
		case domain.ChatAwaitingStart:
			e.appendTurn(ctx, sessionID, st, domain.RoleBot, e.content.OpeningQuestion)
			st.Phase = domain.ChatAsking
			reply = Reply{Message: e.content.OpeningQuestion}
		case domain.ChatAsking:
			asked := domain.BotQuestions(st.Chat)
			reply = Reply{Message: asked[len(asked)-1]}
		default:
			reply = Reply{Done: true}
		}
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("start chat: %w", err)
	}
	return reply, nil
}

// SubmitAnswer records the child's answer and returns the next question, or
// closes the chat once the transcript reaches its turn limit.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, answer string) (Reply, error) {
	turn := e.turnLock(sessionID)
	turn.Lock()
	defer turn.Unlock()

	var (
		reply   Reply
		history []domain.ChatTurn
	)
	err := e.sessions.With(sessionID, func(st *session.State) error {
		if st.Info.Kind != domain.KindMental {
			return ErrWrongKind
		}
		switch st.Phase {
		case domain.ChatAwaitingStart:
			return ErrNotStarted
		case domain.ChatClosing, domain.ChatDone:
			reply = Reply{Done: true}
			return nil
		}

		e.appendTurn(ctx, sessionID, st, domain.RoleUser, answer)
		if len(st.Chat) >= domain.MaxChatTurns {
			st.Phase = domain.ChatClosing
			e.turns.Delete(sessionID)
			e.finisher.FinishChat(sessionID)
			e.logger.Info("Chat closed, aggregation scheduled", "session_id", sessionID, "turns", len(st.Chat))
			reply = Reply{Done: true}
			return nil
		}
		history = slices.Clone(st.Chat)
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("submit chat answer: %w", err)
	}
	if reply.Done {
		return reply, nil
	}

	question := e.nextQuestion(ctx, sessionID, history)

	err = e.sessions.With(sessionID, func(st *session.State) error {
		if st.Phase != domain.ChatAsking || len(st.Chat) != len(history) {
			e.logger.Warn("Chat changed during question generation, question dropped",
				"session_id", sessionID, "phase", st.Phase.String(), "turns", len(st.Chat))
			reply = Reply{Done: st.Phase != domain.ChatAsking}
			return nil
		}
		e.appendTurn(ctx, sessionID, st, domain.RoleBot, question)
		reply = Reply{Message: question}
		return nil
	})
	if err != nil {
		return Reply{}, fmt.Errorf("submit chat answer: %w", err)
	}
	return reply, nil
}

func (e *Engine) turnLock(sessionID string) *sync.Mutex {
	mu, _ := e.turns.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// appendTurn adds a turn in memory and mirrors it to the chat log. A log
// failure is reported but the conversation continues.
func (e *Engine) appendTurn(ctx context.Context, sessionID string, st *session.State, role domain.Role, text string) {
	turn := domain.ChatTurn{
		SessionID: sessionID,
		Role:      role,
		Content:   text,
		Ordinal:   len(st.Chat),
		CreatedAt: time.Now(),
	}
	st.Chat = append(st.Chat, turn)
	if err := e.log.AppendChatTurn(ctx, turn); err != nil {
		persistFailures.Inc()
		e.logger.Error("Failed to persist chat turn",
			"session_id", sessionID, "ordinal", turn.Ordinal, "role", role, "error", err)
	}
}

func (e *Engine) nextQuestion(ctx context.Context, sessionID string, history []domain.ChatTurn) string {
	asked := domain.BotQuestions(history)
	if e.gen == nil {
		questionsAsked.WithLabelValues("fallback").Inc()
		return e.fallback(asked)
	}

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.gen.Generate(genCtx, questionPrompt(history, asked))
	if err != nil {
		e.logger.Warn("Question generation failed, using fallback pool", "session_id", sessionID, "error", err)
		questionsAsked.WithLabelValues("fallback").Inc()
		return e.fallback(asked)
	}

	question := Sanitize(raw)
	if utf8.RuneCountInString(question) < minQuestionLength || slices.Contains(asked, question) {
		e.logger.Info("Generated question rejected, using fallback pool", "session_id", sessionID, "question", question)
		questionsAsked.WithLabelValues("rejected").Inc()
		return e.fallback(asked)
	}
	questionsAsked.WithLabelValues("generated").Inc()
	return question
}

// fallback picks uniformly among pool questions not yet asked, then among
// the catch-all questions.
func (e *Engine) fallback(asked []string) string {
	for _, pool := range [][]string{e.content.FallbackQuestions, e.content.CatchAllQuestions} {
		var available []string
		for _, q := range pool {
			if !slices.Contains(asked, q) {
				available = append(available, q)
			}
		}
		if len(available) > 0 {
			return available[e.pick(len(available))]
		}
	}
	// Unreachable with validated content.
	e.logger.Error("Question pools exhausted", "asked", len(asked))
	return e.content.CatchAllQuestions[0]
}

// Sanitize strips list markers, role prefixes and surrounding quotes from a
// generated question.
func Sanitize(raw string) string {
	q := strings.TrimSpace(raw)
	for _, a := range artifacts {
		q = strings.ReplaceAll(q, a, "")
	}
	q = strings.TrimSpace(q)
	q = strings.Trim(q, `"'`)
	return strings.TrimSpace(q)
}

func questionPrompt(history []domain.ChatTurn, asked []string) string {
	var transcript strings.Builder
	for _, t := range history {
		fmt.Fprintf(&transcript, "%s: %s\n", t.Role, t.Content)
	}
	return fmt.Sprintf(
		"You are an empathetic ai companion for a mental health screening with a child.\n"+
			"History:\n%s\n"+
			"Task: Ask ONE simple, NEW follow-up question to the child based on their last answer. "+
			"If the topic is exhausted, switch to a compatible new topic (school, friends, home, sleep).\n"+
			"Rules:\n"+
			"- Output ONLY the question text.\n"+
			"- Do NOT use JSON or lists like [].\n"+
			"- Do NOT prefix with 'Bot:'.\n"+
			"- STRICTLY Do NOT repeat any of these previous questions: %q\n",
		transcript.String(), asked)
}

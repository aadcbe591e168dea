package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/childassess/internal/content"
	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/session"
)

type fakeLog struct {
	mu    sync.Mutex
	turns []domain.ChatTurn
	err   error
}

func (f *fakeLog) AppendChatTurn(_ context.Context, turn domain.ChatTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.turns = append(f.turns, turn)
	return nil
}

type fakeFinisher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeFinisher) FinishChat(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, sessionID)
}

type scriptedGenerator struct {
	replies []string
	err     error
	calls   int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", nil
	}
	r := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return r, nil
}

type fixture struct {
	engine   *Engine
	sessions *session.Store
	log      *fakeLog
	finisher *fakeFinisher
	content  *content.Content
}

func newFixture(t *testing.T, gen *scriptedGenerator, kind domain.SessionKind) *fixture {
	t.Helper()
	c, err := content.Default()
	if err != nil {
		t.Fatalf("load content: %v", err)
	}
	sessions := session.NewStore(0)
	if err := sessions.Create("s1", &session.State{Info: session.Info{Kind: kind, Name: "Mia", Age: 9}}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	f := &fixture{sessions: sessions, log: &fakeLog{}, finisher: &fakeFinisher{}, content: c}
	var opts []Option
	opts = append(opts, WithPicker(func(int) int { return 0 }))
	if gen == nil {
		f.engine = NewEngine(sessions, f.log, nil, c, f.finisher, time.Second, opts...)
	} else {
		f.engine = NewEngine(sessions, f.log, gen, c, f.finisher, time.Second, opts...)
	}
	return f
}

func (f *fixture) chat(t *testing.T) []domain.ChatTurn {
	t.Helper()
	snap, err := f.sessions.Snapshot("s1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap.Chat
}

func TestStartAsksOpeningQuestionOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, domain.KindMental)
	ctx := context.Background()

	first, err := f.engine.Start(ctx, "s1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if first.Message != f.content.OpeningQuestion {
		t.Errorf("unexpected opening %q", first.Message)
	}

	again, err := f.engine.Start(ctx, "s1")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if again.Message != first.Message {
		t.Errorf("expected repeated question, got %q", again.Message)
	}
	if n := len(f.chat(t)); n != 1 {
		t.Errorf("expected 1 turn, got %d", n)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, domain.KindMental)
	_, err := f.engine.SubmitAnswer(context.Background(), "s1", "hello")
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestChatRequiresMentalSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, domain.KindLanguage)
	if _, err := f.engine.Start(context.Background(), "s1"); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
	if _, err := f.engine.Start(context.Background(), "nope"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected session.ErrNotFound, got %v", err)
	}
}

func TestTurnLimitClosesChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, domain.KindMental)
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 6; i++ {
		reply, err := f.engine.SubmitAnswer(ctx, "s1", "Sometimes")
		if err != nil {
			t.Fatalf("answer %d failed: %v", i, err)
		}
		if reply.Done || reply.Message == "" {
			t.Fatalf("answer %d: expected a next question, got %+v", i, reply)
		}
	}

	reply, err := f.engine.SubmitAnswer(ctx, "s1", "Not really")
	if err != nil {
		t.Fatalf("final answer failed: %v", err)
	}
	if !reply.Done {
		t.Fatal("expected done after 14 turns")
	}
	if n := len(f.chat(t)); n != domain.MaxChatTurns {
		t.Fatalf("expected %d turns, got %d", domain.MaxChatTurns, n)
	}

	reply, err = f.engine.SubmitAnswer(ctx, "s1", "one more")
	if err != nil || !reply.Done {
		t.Fatalf("expected done without error, got %+v %v", reply, err)
	}
	if n := len(f.chat(t)); n != domain.MaxChatTurns {
		t.Fatalf("a 15th turn was appended: %d", n)
	}
	if len(f.finisher.ids) != 1 {
		t.Fatalf("expected aggregation scheduled once, got %d", len(f.finisher.ids))
	}

	for i, turn := range f.chat(t) {
		if turn.Ordinal != i {
			t.Errorf("ordinal %d at position %d", turn.Ordinal, i)
		}
		wantRole := domain.RoleBot
		if i%2 == 1 {
			wantRole = domain.RoleUser
		}
		if turn.Role != wantRole {
			t.Errorf("turn %d: expected %s, got %s", i, wantRole, turn.Role)
		}
	}
	if len(f.log.turns) != domain.MaxChatTurns {
		t.Errorf("expected every turn persisted, got %d", len(f.log.turns))
	}
}

func TestQuestionsNeverRepeat(t *testing.T) {
	t.Parallel()
	gen := &scriptedGenerator{replies: []string{
		"Bot: ['Do you like school?']",
		"Do you like school?",
		"How often do you feel overwhelmed by your daily tasks?",
		"ok?",
		"\"What do you do on weekends?\"",
	}}
	f := newFixture(t, gen, domain.KindMental)
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 7; i++ {
		if _, err := f.engine.SubmitAnswer(ctx, "s1", "yes"); err != nil {
			t.Fatalf("answer %d failed: %v", i, err)
		}
	}

	questions := domain.BotQuestions(f.chat(t))
	if len(questions) != 7 {
		t.Fatalf("expected 7 questions, got %d", len(questions))
	}
	seen := make(map[string]bool)
	for _, q := range questions {
		if seen[q] {
			t.Fatalf("question repeated: %q in %v", q, questions)
		}
		seen[q] = true
	}
	if questions[1] != "Do you like school?" {
		t.Errorf("expected sanitized generated question, got %q", questions[1])
	}
	if questions[2] != f.content.FallbackQuestions[0] {
		t.Errorf("expected duplicate to fall back to the pool, got %q", questions[2])
	}
	if questions[5] != "What do you do on weekends?" {
		t.Errorf("expected quotes stripped, got %q", questions[5])
	}
}

func TestFallbackExhaustsPoolThenCatchAll(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &scriptedGenerator{err: errors.New("backend down")}, domain.KindMental)

	asked := append([]string{f.content.OpeningQuestion}, f.content.FallbackQuestions...)
	if got := f.engine.fallback(asked); got != f.content.CatchAllQuestions[0] {
		t.Errorf("expected first catch-all, got %q", got)
	}
	asked = append(asked, f.content.CatchAllQuestions[0])
	if got := f.engine.fallback(asked); got != f.content.CatchAllQuestions[1] {
		t.Errorf("expected second catch-all, got %q", got)
	}
}

func TestPersistenceFailureDoesNotBlock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, domain.KindMental)
	f.log.err = errors.New("database is locked")
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	reply, err := f.engine.SubmitAnswer(ctx, "s1", "I sleep fine")
	if err != nil {
		t.Fatalf("SubmitAnswer failed: %v", err)
	}
	if reply.Done || reply.Message == "" {
		t.Fatalf("expected next question, got %+v", reply)
	}
	if n := len(f.chat(t)); n != 3 {
		t.Fatalf("expected 3 in-memory turns, got %d", n)
	}
}

// gatedGenerator blocks every call until release is closed.
type gatedGenerator struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedGenerator) Generate(ctx context.Context, _ string) (string, error) {
	n := g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
		return fmt.Sprintf("What did you do on day %d?", n), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestGenerationReleasesSessionLock(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, domain.KindMental)
	gen := &gatedGenerator{started: make(chan struct{}, 2), release: make(chan struct{})}
	f.engine = NewEngine(f.sessions, f.log, gen, f.content, f.finisher, 5*time.Second)
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	replies := make(chan Reply, 2)
	submit := func(answer string) {
		reply, err := f.engine.SubmitAnswer(ctx, "s1", answer)
		if err != nil {
			t.Errorf("SubmitAnswer failed: %v", err)
		}
		replies <- reply
	}
	go submit("I like school")
	<-gen.started

	read := make(chan int, 1)
	go func() {
		snap, _ := f.sessions.Snapshot("s1")
		read <- len(snap.Chat)
	}()
	select {
	case n := <-read:
		if n != 2 {
			t.Errorf("expected 2 turns while generating, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("session snapshot blocked during question generation")
	}

	go submit("I have a dog")
	select {
	case <-gen.started:
		t.Fatal("second answer generated before the first turn finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(gen.release)
	for i := 0; i < 2; i++ {
		if reply := <-replies; reply.Done || reply.Message == "" {
			t.Errorf("expected a next question, got %+v", reply)
		}
	}

	chat := f.chat(t)
	if len(chat) != 5 {
		t.Fatalf("expected 5 turns, got %d", len(chat))
	}
	for i, turn := range chat {
		wantRole := domain.RoleBot
		if i%2 == 1 {
			wantRole = domain.RoleUser
		}
		if turn.Role != wantRole || turn.Ordinal != i {
			t.Errorf("turn %d: expected %s at ordinal %d, got %s at %d", i, wantRole, i, turn.Role, turn.Ordinal)
		}
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"  Assistant: How was your day?  ": "How was your day?",
		"['Do you have a pet?']":           "Do you have a pet?",
		"AI: 'Who is your friend?'":        "Who is your friend?",
		"[]":                               "",
	}
	for in, want := range tests {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

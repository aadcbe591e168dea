package assessment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/childassess/internal/aggregate"
	"github.com/ashureev/childassess/internal/analysis"
	"github.com/ashureev/childassess/internal/content"
	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/session"
	"github.com/ashureev/childassess/internal/store"
)

type countingAnalyzer struct {
	calls atomic.Int32
	score int
	delay time.Duration
}

func (a *countingAnalyzer) Analyze(_ context.Context, c analysis.Content) domain.AnalysisResult {
	a.calls.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	return domain.AnalysisResult{
		SourceText:  c.Text,
		Score:       a.score,
		Feedback:    "fine",
		Flags:       []domain.FlagTag{},
		BackendUsed: domain.BackendRemote,
	}
}

type fixedGenerator struct {
	reply string
	err   error
}

func (g fixedGenerator) Generate(context.Context, string) (string, error) {
	return g.reply, g.err
}

type recordingNotifier struct {
	mu    sync.Mutex
	views map[string]ResultView
}

func (n *recordingNotifier) Publish(sessionID string, v ResultView) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.views == nil {
		n.views = make(map[string]ResultView)
	}
	n.views[sessionID] = v
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.views)
}

type fixture struct {
	svc      *Service
	repo     store.Repository
	analyzer *countingAnalyzer
	notifier *recordingNotifier
	sup      *Supervisor
}

func newFixture(t *testing.T, gen fixedGenerator) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	c, err := content.Default()
	if err != nil {
		t.Fatalf("content.Default failed: %v", err)
	}

	f := &fixture{
		repo:     repo,
		analyzer: &countingAnalyzer{score: 90},
		notifier: &recordingNotifier{},
		sup:      NewSupervisor(nil),
	}
	f.svc = NewService(Deps{
		Repo:       repo,
		Sessions:   session.NewStore(0),
		Analyzer:   f.analyzer,
		Aggregator: aggregate.NewEngine(nil, time.Second, nil),
		Generator:  gen,
		Content:    c,
		Supervisor: f.sup,
		Notifier:   f.notifier,
	}, Options{UploadDir: t.TempDir(), GenerateTimeout: time.Second})
	return f
}

func generatedTasks(n int) string {
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf(`{"text": "Generated task %d.", "type": "text"}`, i))
	}
	return "```json\n[" + strings.Join(items, ", ") + "]\n```"
}

func TestLanguageSessionEndToEnd(t *testing.T) {
	f := newFixture(t, fixedGenerator{reply: generatedTasks(6)})
	ctx := context.Background()

	started, err := f.svc.Start(ctx, StartRequest{Name: "Mia", Age: 7, TestType: domain.KindLanguage})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(started.Questions) != 10 {
		t.Fatalf("expected 10 tasks, got %d", len(started.Questions))
	}
	if started.Questions[5].Text != "Generated task 5." {
		t.Errorf("expected generated task at index 5, got %q", started.Questions[5].Text)
	}
	backups := f.svc.content.BackupTasks
	if started.Questions[6] != backups[6] || started.Questions[9] != backups[9] {
		t.Errorf("expected positional backfill from backups, got %+v", started.Questions[6:])
	}

	for i, task := range started.Questions {
		item, err := f.svc.Respond(ctx, AnswerInput{
			SessionID: started.SessionID, QuestionIndex: i, QuestionText: task.Text,
			QuestionType: task.Type, AnswerText: "a good answer",
		})
		if err != nil {
			t.Fatalf("Respond %d failed: %v", i, err)
		}
		if item.Analysis == nil || item.Analysis.Score != 90 {
			t.Fatalf("unexpected analysis for %d: %+v", i, item.Analysis)
		}
	}

	if _, ready, err := f.svc.Result(started.SessionID); err != nil || ready {
		t.Fatalf("expected pending result, got ready=%v err=%v", ready, err)
	}

	if err := f.svc.Submit(ctx, started.SessionID, nil); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	view, ready, err := f.svc.Result(started.SessionID)
	if err != nil || !ready {
		t.Fatalf("expected ready result, got ready=%v err=%v", ready, err)
	}
	if view.Category != aggregate.CategoryExcellent {
		t.Errorf("expected Excellent, got %q", view.Category)
	}
	if view.Detail == nil || view.Detail.Score != 90.0 || len(view.Detail.Breakdown) != 10 {
		t.Fatalf("unexpected detail: %+v", view.Detail)
	}
	if view.Name != "Mia" || view.Age != 7 {
		t.Errorf("unexpected identity: %s %d", view.Name, view.Age)
	}

	sess, err := f.repo.GetSession(ctx, started.SessionID)
	if err != nil || sess == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Score == nil || *sess.Score != 90.0 {
		t.Errorf("expected persisted score 90, got %v", sess.Score)
	}
	if f.notifier.count() != 1 {
		t.Errorf("expected one readiness notification, got %d", f.notifier.count())
	}
}

func TestStartFallsBackToBackupTasks(t *testing.T) {
	f := newFixture(t, fixedGenerator{err: errors.New("down")})

	started, err := f.svc.Start(context.Background(), StartRequest{Name: "Leo", Age: 9})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i, task := range started.Questions {
		if task != f.svc.content.BackupTasks[i] {
			t.Fatalf("task %d: expected backup, got %+v", i, task)
		}
	}
}

func TestStartMentalRedirects(t *testing.T) {
	f := newFixture(t, fixedGenerator{})

	started, err := f.svc.Start(context.Background(), StartRequest{Name: "Ava", Age: 10, TestType: domain.KindMental})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Redirect != "chat.html" || len(started.Questions) != 0 {
		t.Fatalf("unexpected response: %+v", started)
	}
	if err := f.svc.Submit(context.Background(), started.SessionID, nil); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
}

func TestStartRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, fixedGenerator{})

	_, err := f.svc.Start(context.Background(), StartRequest{Name: "Ava", Age: 10, TestType: "math"})
	if !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestRespondValidation(t *testing.T) {
	f := newFixture(t, fixedGenerator{})
	ctx := context.Background()

	if _, err := f.svc.Respond(ctx, AnswerInput{SessionID: "missing"}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	started, _ := f.svc.Start(ctx, StartRequest{Name: "Leo", Age: 9})
	for _, idx := range []int{-1, 10} {
		_, err := f.svc.Respond(ctx, AnswerInput{SessionID: started.SessionID, QuestionIndex: idx})
		if !errors.Is(err, ErrInvalidIndex) {
			t.Fatalf("index %d: expected ErrInvalidIndex, got %v", idx, err)
		}
	}
}

func TestRespondReusesCachedAnalysis(t *testing.T) {
	f := newFixture(t, fixedGenerator{})
	f.analyzer.delay = 20 * time.Millisecond
	ctx := context.Background()

	started, _ := f.svc.Start(ctx, StartRequest{Name: "Leo", Age: 9})
	in := AnswerInput{SessionID: started.SessionID, QuestionIndex: 2, AnswerText: "first"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Respond(ctx, in); err != nil {
				t.Errorf("Respond failed: %v", err)
			}
		}()
	}
	wg.Wait()

	again, err := f.svc.Respond(ctx, AnswerInput{SessionID: started.SessionID, QuestionIndex: 2, AnswerText: "second"})
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if again.AnswerText != "first" {
		t.Errorf("expected the stored answer, got %q", again.AnswerText)
	}
	if got := f.analyzer.calls.Load(); got != 1 {
		t.Fatalf("expected 1 analysis, got %d", got)
	}
	if again.QuestionText != f.svc.content.BackupTasks[2].Text {
		t.Errorf("expected question text from the task list, got %q", again.QuestionText)
	}
}

// deadlineAnalyzer degrades to a heuristic score when its context ends first.
type deadlineAnalyzer struct {
	calls atomic.Int32
	delay time.Duration
}

func (a *deadlineAnalyzer) Analyze(ctx context.Context, c analysis.Content) domain.AnalysisResult {
	a.calls.Add(1)
	result := domain.AnalysisResult{SourceText: c.Text, Flags: []domain.FlagTag{}}
	select {
	case <-time.After(a.delay):
		result.Score, result.BackendUsed = 100, domain.BackendRemote
	case <-ctx.Done():
		result.Score, result.BackendUsed = 40, domain.BackendHeuristic
	}
	return result
}

func TestRespondKeepsAnalyzingAfterCallerLeaves(t *testing.T) {
	f := newFixture(t, fixedGenerator{})
	analyzer := &deadlineAnalyzer{delay: 200 * time.Millisecond}
	f.svc.analyzer = analyzer

	started, _ := f.svc.Start(context.Background(), StartRequest{Name: "Leo", Age: 9})
	in := AnswerInput{SessionID: started.SessionID, QuestionIndex: 0, AnswerText: "the cat sat"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	first, err := f.svc.Respond(ctx, in)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if first.Analysis.Score != 100 || first.Analysis.BackendUsed != domain.BackendRemote {
		t.Fatalf("expected the remote score 100, got %d from %s", first.Analysis.Score, first.Analysis.BackendUsed)
	}

	retry, err := f.svc.Respond(context.Background(), in)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if retry.Analysis.Score != 100 {
		t.Errorf("expected the stored score 100, got %d", retry.Analysis.Score)
	}
	if got := analyzer.calls.Load(); got != 1 {
		t.Errorf("expected 1 analysis, got %d", got)
	}
}

func TestSubmitAnalyzesOnlyMissingAnswers(t *testing.T) {
	f := newFixture(t, fixedGenerator{})
	ctx := context.Background()

	started, _ := f.svc.Start(ctx, StartRequest{Name: "Leo", Age: 9})
	if _, err := f.svc.Respond(ctx, AnswerInput{SessionID: started.SessionID, QuestionIndex: 0, AnswerText: "x"}); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	payload := []AnswerInput{
		{QuestionIndex: 0, AnswerText: "x again"},
		{QuestionIndex: 1, AnswerText: "y"},
		{QuestionIndex: 42, AnswerText: "ignored"},
	}
	if err := f.svc.Submit(ctx, started.SessionID, payload); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := f.analyzer.calls.Load(); got != 2 {
		t.Fatalf("expected 2 analyses, got %d", got)
	}

	if err := f.svc.Submit(ctx, started.SessionID, []AnswerInput{{QuestionIndex: 3, AnswerText: "late"}}); err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if got := f.analyzer.calls.Load(); got != 2 {
		t.Fatalf("expected resubmission to be a no-op, got %d analyses", got)
	}
	if f.notifier.count() != 1 {
		t.Errorf("expected one notification, got %d", f.notifier.count())
	}

	view, ready, _ := f.svc.Result(started.SessionID)
	if !ready || view.Detail == nil || len(view.Detail.Breakdown) != 2 {
		t.Fatalf("unexpected result: ready=%v %+v", ready, view.Detail)
	}
}

func TestFinishChatUsesPriorScreenings(t *testing.T) {
	f := newFixture(t, fixedGenerator{})
	ctx := context.Background()

	first, _ := f.svc.Start(ctx, StartRequest{Name: "Ava", Age: 10, TestType: domain.KindMental})
	f.svc.FinishChat(first.SessionID)
	if err := f.sup.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	view, ready, err := f.svc.Result(first.SessionID)
	if err != nil || !ready {
		t.Fatalf("expected ready result, got ready=%v err=%v", ready, err)
	}
	if view.Category != aggregate.CategoryModerate || view.Detail != nil {
		t.Fatalf("unexpected screening result: %+v", view)
	}

	snap, _ := f.svc.sessions.Snapshot(first.SessionID)
	if snap.Phase != domain.ChatDone {
		t.Errorf("expected chat to be done, got %s", snap.Phase)
	}

	overview, err := f.svc.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if len(overview) != 1 || overview[0].LatestRisk != aggregate.CategoryModerate {
		t.Fatalf("unexpected overview: %+v", overview)
	}
	if s := overview[0].Sessions[0]; s.Category == nil || *s.Category != aggregate.CategoryModerate {
		t.Fatalf("unexpected session record: %+v", s)
	}
}

func TestOverviewDefaultsToGood(t *testing.T) {
	f := newFixture(t, fixedGenerator{})
	ctx := context.Background()

	if _, err := f.svc.Start(ctx, StartRequest{Name: "Zoe", Age: 8}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	overview, err := f.svc.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview failed: %v", err)
	}
	if len(overview) != 1 || overview[0].LatestRisk != aggregate.CategoryGood {
		t.Fatalf("unexpected overview: %+v", overview)
	}
	if rec := overview[0].Sessions[0]; rec.Category != nil || rec.Type != string(domain.KindLanguage) {
		t.Fatalf("unexpected pending record: %+v", rec)
	}
}

func TestSaveAudioNamesFileBySessionAndIndex(t *testing.T) {
	f := newFixture(t, fixedGenerator{})

	path, err := f.svc.SaveAudio("sid", 3, strings.NewReader("RIFF"))
	if err != nil {
		t.Fatalf("SaveAudio failed: %v", err)
	}
	if filepath.Base(path) != "sid_3.webm" {
		t.Errorf("unexpected file name %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "RIFF" {
		t.Fatalf("unexpected file content %q: %v", data, err)
	}
}

func TestSaveAudioKeepsRecordingOfAnalyzedAnswer(t *testing.T) {
	f := newFixture(t, fixedGenerator{})
	ctx := context.Background()
	started, _ := f.svc.Start(ctx, StartRequest{Name: "Leo", Age: 9})

	path, err := f.svc.SaveAudio(started.SessionID, 1, strings.NewReader("first"))
	if err != nil {
		t.Fatalf("SaveAudio failed: %v", err)
	}
	if _, err := f.svc.Respond(ctx, AnswerInput{SessionID: started.SessionID, QuestionIndex: 1, AudioPath: path}); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	again, err := f.svc.SaveAudio(started.SessionID, 1, strings.NewReader("second"))
	if err != nil {
		t.Fatalf("SaveAudio failed: %v", err)
	}
	if again != path {
		t.Errorf("expected stored path %q, got %q", path, again)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "first" {
		t.Fatalf("expected the first recording, got %q: %v", data, err)
	}
}

func TestParseTasksDropsMalformedItems(t *testing.T) {
	reply := `Here you go: [{"text": "Read this.", "type": "audio"}, {"text": "", "type": "text"}, {"text": "Why?", "type": "video"}, 7, {"text": " Write. ", "type": "text"}]`
	got := parseTasks(reply)
	if len(got) != 2 || got[1].Text != "Write." {
		t.Fatalf("unexpected tasks: %+v", got)
	}
	if parseTasks("no list here") != nil {
		t.Fatal("expected nil for a reply without a list")
	}
}

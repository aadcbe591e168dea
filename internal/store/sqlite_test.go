package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/childassess/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUpsertUserResolvesByNameAndAge(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	first, err := repo.UpsertUser(ctx, "Mia", 7)
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	again, err := repo.UpsertUser(ctx, "Mia", 7)
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("expected same user id, got %d and %d", first.ID, again.ID)
	}

	older, err := repo.UpsertUser(ctx, "Mia", 8)
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if older.ID == first.ID {
		t.Fatal("expected a different user for a different age")
	}
}

func TestSessionResultIsWriteOnce(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	user, err := repo.UpsertUser(ctx, "Leo", 9)
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	sess := &domain.Session{ID: "s-1", UserID: user.ID, Kind: domain.KindLanguage, CreatedAt: time.Now()}
	if err := repo.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	score := 88.5
	if err := repo.UpdateSessionResult(ctx, "s-1", domain.FinalResult{
		Category: "Excellent", Summary: "ok", AnalysisText: "fine", Score: &score,
	}); err != nil {
		t.Fatalf("UpdateSessionResult failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "s-1")
	if err != nil || got == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Category == nil || *got.Category != "Excellent" {
		t.Fatalf("unexpected category: %v", got.Category)
	}
	if got.Score == nil || *got.Score != 88.5 {
		t.Fatalf("unexpected score: %v", got.Score)
	}

	err = repo.UpdateSessionResult(ctx, "s-1", domain.FinalResult{Category: "Good"})
	if !errors.Is(err, ErrResultExists) {
		t.Fatalf("expected ErrResultExists, got %v", err)
	}
	err = repo.UpdateSessionResult(ctx, "missing", domain.FinalResult{Category: "Good"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)

	got, err := repo.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
}

func TestChatTurnsOrderedAndUniquePerOrdinal(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	user, _ := repo.UpsertUser(ctx, "Ava", 10)
	if err := repo.CreateSession(ctx, &domain.Session{ID: "chat", UserID: user.ID, Kind: domain.KindMental, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	turns := []domain.ChatTurn{
		{SessionID: "chat", Role: domain.RoleBot, Content: "q0", Ordinal: 0},
		{SessionID: "chat", Role: domain.RoleUser, Content: "a0", Ordinal: 1},
		{SessionID: "chat", Role: domain.RoleBot, Content: "q1", Ordinal: 2},
	}
	for _, turn := range turns {
		if err := repo.AppendChatTurn(ctx, turn); err != nil {
			t.Fatalf("AppendChatTurn failed: %v", err)
		}
	}
	if err := repo.AppendChatTurn(ctx, turns[1]); err == nil {
		t.Fatal("expected duplicate ordinal to be rejected")
	}

	got, err := repo.ListChatTurns(ctx, "chat")
	if err != nil {
		t.Fatalf("ListChatTurns failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}
	for i, turn := range got {
		if turn.Ordinal != i {
			t.Fatalf("expected ordinal %d, got %d", i, turn.Ordinal)
		}
	}
	if got[0].Role != domain.RoleBot {
		t.Fatalf("expected transcript to start with bot, got %s", got[0].Role)
	}
}

func TestQueryUserHistoryCompletedNewestFirst(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	user, _ := repo.UpsertUser(ctx, "Noah", 8)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		sess := &domain.Session{ID: id, UserID: user.ID, Kind: domain.KindMental, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		if id != "c" {
			if err := repo.UpdateSessionResult(ctx, id, domain.FinalResult{Category: "Good", Summary: "s-" + id}); err != nil {
				t.Fatalf("UpdateSessionResult failed: %v", err)
			}
		}
	}

	got, err := repo.QueryUserHistory(ctx, HistoryQuery{
		UserID: user.ID, ExcludeSessionID: "e", CompletedOnly: true, Limit: 3,
	})
	if err != nil {
		t.Fatalf("QueryUserHistory failed: %v", err)
	}
	want := []string{"d", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("expected %d sessions, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].SessionID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].SessionID)
		}
	}

	all, err := repo.QueryUserHistory(ctx, HistoryQuery{UserID: user.ID})
	if err != nil {
		t.Fatalf("QueryUserHistory failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected all 5 sessions, got %d", len(all))
	}
}

func TestListUsersOrderedByName(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Zoe", "Ben", "Ivy"} {
		if _, err := repo.UpsertUser(ctx, name, 7); err != nil {
			t.Fatalf("UpsertUser failed: %v", err)
		}
	}
	users, err := repo.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 3 || users[0].Name != "Ben" || users[2].Name != "Zoe" {
		t.Fatalf("unexpected order: %+v", users)
	}
}

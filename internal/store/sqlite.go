package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/childassess/internal/domain"
	"github.com/ashureev/childassess/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers while a write is in flight.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		age INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(name, age)
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id),
		kind TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		category TEXT,
		summary TEXT,
		analysis TEXT,
		score REAL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at);

	CREATE TABLE IF NOT EXISTS chat_turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, ordinal)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertUser returns the user identified by (name, age), creating it on first use.
func (s *SQLiteStore) UpsertUser(ctx context.Context, name string, age int) (*domain.User, error) {
	insert := `INSERT INTO users (name, age, created_at) VALUES (?, ?, ?) ON CONFLICT(name, age) DO NOTHING`
	err := shared.RetryOnConflict(ctx, s.retry, "upsert_user", func() error {
		_, err := s.db.ExecContext(ctx, insert, name, age, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	var user domain.User
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, name, age, created_at FROM users WHERE name = ? AND age = ?`, name, age)
	if err := row.Scan(&user.ID, &user.Name, &user.Age, &createdAt); err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt)
	return &user, nil
}

// CreateSession records a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `INSERT INTO sessions (id, user_id, kind, created_at) VALUES (?, ?, ?, ?)`
	err := shared.RetryOnConflict(ctx, s.retry, "create_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.UserID, string(session.Kind), session.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT id, user_id, kind, created_at, category, summary, analysis, score
		FROM sessions WHERE id = ?`

	var session domain.Session
	var kind string
	var createdAt int64
	var category, summary, analysis sql.NullString
	var score sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &session.UserID, &kind, &createdAt,
		&category, &summary, &analysis, &score,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Kind = domain.SessionKind(kind)
	session.CreatedAt = time.UnixMilli(createdAt)
	if category.Valid {
		session.Category = &category.String
	}
	if summary.Valid {
		session.Summary = &summary.String
	}
	if analysis.Valid {
		session.AnalysisText = &analysis.String
	}
	if score.Valid {
		session.Score = &score.Float64
	}
	return &session, nil
}

// AppendChatTurn appends one turn to a session transcript.
func (s *SQLiteStore) AppendChatTurn(ctx context.Context, turn domain.ChatTurn) error {
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `INSERT INTO chat_turns (session_id, role, content, ordinal, created_at) VALUES (?, ?, ?, ?, ?)`
	err := shared.RetryOnConflict(ctx, s.retry, "append_chat_turn", func() error {
		_, err := s.db.ExecContext(ctx, query,
			turn.SessionID, string(turn.Role), turn.Content, turn.Ordinal, createdAt.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("append chat turn: %w", err)
	}
	return nil
}

// ListChatTurns returns a session transcript ordered by ordinal.
func (s *SQLiteStore) ListChatTurns(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	query := `
		SELECT session_id, role, content, ordinal, created_at
		FROM chat_turns WHERE session_id = ? ORDER BY ordinal`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query chat turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close chat turn rows", "error", closeErr)
		}
	}()

	var turns []domain.ChatTurn
	for rows.Next() {
		var turn domain.ChatTurn
		var role string
		var createdAt int64
		if err := rows.Scan(&turn.SessionID, &role, &turn.Content, &turn.Ordinal, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chat turn row: %w", err)
		}
		turn.Role = domain.Role(role)
		turn.CreatedAt = time.UnixMilli(createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat turns: %w", err)
	}
	return turns, nil
}

// UpdateSessionResult records the final result of a session.
func (s *SQLiteStore) UpdateSessionResult(ctx context.Context, sessionID string, result domain.FinalResult) error {
	query := `
		UPDATE sessions SET category = ?, summary = ?, analysis = ?, score = ?
		WHERE id = ? AND category IS NULL`

	var score interface{}
	if result.Score != nil {
		score = *result.Score
	}

	var affected int64
	err := shared.RetryOnConflict(ctx, s.retry, "update_session_result", func() error {
		res, err := s.db.ExecContext(ctx, query,
			result.Category, result.Summary, result.AnalysisText, score, sessionID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update session result: %w", err)
	}

	if affected == 0 {
		existing, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrSessionNotFound
		}
		slog.Warn("UpdateSessionResult affected 0 rows", "session_id", sessionID)
		return ErrResultExists
	}
	return nil
}

// QueryUserHistory returns summaries of a user's sessions, newest first.
func (s *SQLiteStore) QueryUserHistory(ctx context.Context, q HistoryQuery) ([]domain.SessionSummary, error) {
	query := `
		SELECT id, kind, created_at, category, summary, analysis
		FROM sessions WHERE user_id = ? AND id != ?`
	if q.CompletedOnly {
		query += ` AND category IS NOT NULL`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	args := []interface{}{q.UserID, q.ExcludeSessionID}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var out []domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var createdAt int64
		var category, summary, analysis sql.NullString
		if err := rows.Scan(&sum.SessionID, &sum.Kind, &createdAt, &category, &summary, &analysis); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		sum.Timestamp = time.UnixMilli(createdAt)
		sum.Category = category.String
		sum.Summary = summary.String
		sum.Analysis = analysis.String
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// ListUsers returns all users ordered by name.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, age, created_at FROM users ORDER BY name, age`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user rows", "error", closeErr)
		}
	}()

	var users []*domain.User
	for rows.Next() {
		var user domain.User
		var createdAt int64
		if err := rows.Scan(&user.ID, &user.Name, &user.Age, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		user.CreatedAt = time.UnixMilli(createdAt)
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

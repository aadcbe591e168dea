// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/childassess/internal/domain"
)

var (
	// ErrSessionNotFound is returned when a session id has no durable record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrResultExists is returned when a session already has a final result.
	ErrResultExists = errors.New("session result already recorded")
)

// HistoryQuery selects sessions of one user, newest first.
type HistoryQuery struct {
	UserID           int64
	ExcludeSessionID string
	CompletedOnly    bool // only sessions with a recorded category
	Limit            int  // 0 = no limit
}

// Repository is the durable log of users, sessions and chat turns.
type Repository interface {
	// UpsertUser returns the user identified by (name, age), creating it on first use.
	UpsertUser(ctx context.Context, name string, age int) (*domain.User, error)

	// CreateSession records a new session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by id. Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// AppendChatTurn appends one turn to a session transcript.
	AppendChatTurn(ctx context.Context, turn domain.ChatTurn) error

	// ListChatTurns returns a session transcript ordered by ordinal.
	ListChatTurns(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)

	// UpdateSessionResult records the final result. It can be written once per session.
	UpdateSessionResult(ctx context.Context, sessionID string, result domain.FinalResult) error

	// QueryUserHistory returns summaries of a user's sessions, newest first.
	QueryUserHistory(ctx context.Context, q HistoryQuery) ([]domain.SessionSummary, error)

	// ListUsers returns all users ordered by name.
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

package store

import (
	"context"
	"errors"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrNotFound = errors.New("session not found")

// Session is the persisted form of one research session. Graph holds the
// serialized provenance graph; Result is nil until the session completes.
type Session struct {
	ID        string
	Query     string
	Model     string
	Effort    string
	Status    string
	Result    *research.Result
	Graph     []byte
	Error     string
	CreatedAt string
	UpdatedAt string
}

// Terminal reports whether the session has stopped running.
func (s Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Store persists research sessions. GetSession returns (nil, nil) for an
// unknown ID; UpdateSession returns ErrNotFound. ListSessions orders by most
// recent update and omits Result and Graph.
type Store interface {
	CreateSession(ctx context.Context, session Session) error
	UpdateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

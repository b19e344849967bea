package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]store.Session
}

func New() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]store.Session{},
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, session store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.Status == "" {
		session.Status = store.StatusPending
	}
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sessions[session.ID]
	if !ok {
		return store.ErrNotFound
	}
	session.CreatedAt = existing.CreatedAt
	m.sessions[session.ID] = cloneSession(session)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cloned := cloneSession(session)
	return &cloned, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		session.Result = nil
		session.Graph = nil
		results = append(results, session)
	}
	sort.Slice(results, func(i, j int) bool {
		left, right := parseTime(results[i].UpdatedAt), parseTime(results[j].UpdatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func cloneSession(session store.Session) store.Session {
	cloned := session
	if session.Result != nil {
		result := session.Result.Clone()
		cloned.Result = &result
	}
	if session.Graph != nil {
		cloned.Graph = append([]byte(nil), session.Graph...)
	}
	return cloned
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

package api

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/gateway"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/provenance"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/workflows"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSession(ctx context.Context, session store.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockStore) UpdateSession(ctx context.Context, session store.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	args := m.Called(ctx, sessionID)
	if value := args.Get(0); value != nil {
		return value.(*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListSessions(ctx context.Context, limit int) ([]store.Session, error) {
	args := m.Called(ctx, limit)
	var result []store.Session
	if value := args.Get(0); value != nil {
		result = value.([]store.Session)
	}
	return result, args.Error(1)
}

func (m *MockStore) DeleteSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) StartResearch(ctx context.Context, input workflows.ResearchInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockWorkflowService) CancelResearch(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// runnerFunc stands in for *workflows.Activities.
type runnerFunc func(ctx context.Context, input workflows.ResearchInput) (workflows.ResearchOutput, error)

func (f runnerFunc) RunResearch(ctx context.Context, input workflows.ResearchInput) (workflows.ResearchOutput, error) {
	return f(ctx, input)
}

type stubEngine struct {
	mu           sync.Mutex
	usage        gateway.Usage
	breakerReset int
	cacheReset   int
}

func (e *stubEngine) Usage() gateway.Usage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

func (e *stubEngine) ResetBreaker() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.breakerReset++
}

func (e *stubEngine) ResetCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cacheReset++
}

var fixedTime = time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	server := NewServer(deps)
	server.now = func() time.Time { return fixedTime }
	server.pollInterval = 20 * time.Millisecond
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		httpServer.Close()
		server.Close()
	})
	return server, httpServer
}

func completedResult() *research.Result {
	return &research.Result{
		Synthesis:       "Paris is the capital of France.",
		Sources:         []research.Citation{{URL: "https://example.com/paris", Title: "Paris"}},
		QueryType:       research.QueryFactual,
		ConfidenceScore: 0.9,
	}
}

func sampleGraph(t *testing.T) []byte {
	t.Helper()
	graph := provenance.NewGraph(func() time.Time { return fixedTime })
	root, err := graph.AddNode(research.Step{ID: "q", Kind: research.StepUserQuery, Title: "capital of France"}, "", provenance.Metadata{})
	require.NoError(t, err)
	_, err = graph.AddNode(research.Step{
		ID:      "w",
		Kind:    research.StepWebResearch,
		Title:   "Searching",
		Sources: []research.Citation{{URL: "https://example.com/paris", Title: "Paris"}},
	}, root.Step.ID, provenance.Metadata{})
	require.NoError(t, err)
	data, err := graph.Serialize()
	require.NoError(t, err)
	return data
}

func seedSession(t *testing.T, st store.Store, session store.Session) {
	t.Helper()
	if session.CreatedAt == "" {
		session.CreatedAt = fixedTime.Format(time.RFC3339Nano)
		session.UpdatedAt = session.CreatedAt
	}
	require.NoError(t, st.CreateSession(context.Background(), session))
}

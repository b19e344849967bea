package router

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/provenance"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

// Session is the provenance record of one conversation. Each routed query
// starts a fresh graph; the previous one is discarded.
type Session struct {
	ID string

	mu     sync.RWMutex
	graph  *provenance.Graph
	query  string
	result *research.Result
}

func NewSession(id string, now func() time.Time) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{ID: id, graph: provenance.NewGraph(now)}
}

// RestoreSession rebuilds a session from a serialized graph.
func RestoreSession(id string, query string, graph []byte, now func() time.Time) (*Session, error) {
	restored, err := provenance.Deserialize(graph, now)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, graph: restored, query: query}, nil
}

func (s *Session) Graph() *provenance.Graph {
	return s.graph
}

func (s *Session) Query() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query
}

// Result is the last completed result, if any.
func (s *Session) Result() (research.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return research.Result{}, false
	}
	return s.result.Clone(), true
}

// Reset drops the graph and the last result.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.Reset()
	s.query = ""
	s.result = nil
}

func (s *Session) Export() provenance.ExportedData {
	return s.graph.ExportData(s.Query(), s.ID)
}

func (s *Session) begin(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.Reset()
	s.query = query
	s.result = nil
}

func (s *Session) finish(result research.Result) {
	cloned := result.Clone()
	s.mu.Lock()
	s.result = &cloned
	s.mu.Unlock()
}

package provenance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

type EdgeType string

const (
	EdgeSequential EdgeType = "sequential"
	EdgeDependency EdgeType = "dependency"
	EdgeError      EdgeType = "error"
)

var (
	ErrNodeNotFound  = errors.New("provenance node not found")
	ErrDuplicateNode = errors.New("provenance node already exists")
	ErrUnknownParent = errors.New("provenance parent does not exist")
)

type Metadata struct {
	Model            string  `json:"model,omitempty"`
	Effort           string  `json:"effort,omitempty"`
	Strategy         string  `json:"strategy,omitempty"`
	ProcessingTimeMs int64   `json:"processing_time_ms,omitempty"`
	SourceCount      int     `json:"source_count"`
	Error            string  `json:"error,omitempty"`
	Paradigm         string  `json:"paradigm,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
}

type Node struct {
	Step     research.Step `json:"step"`
	Parents  []string      `json:"parents"`
	Children []string      `json:"children"`
	Metadata Metadata      `json:"metadata"`
}

func (n Node) clone() Node {
	n.Parents = append([]string{}, n.Parents...)
	n.Children = append([]string{}, n.Children...)
	n.Step.Sources = append([]research.Citation(nil), n.Step.Sources...)
	return n
}

func (n Node) IsError() bool {
	return n.Step.Kind == research.StepError || n.Metadata.Error != ""
}

type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// Graph records the steps of one research session. Steps run one after
// another, so the non-error nodes always form a single chain from the root
// (the current path). Error nodes hang off that chain through error edges.
type Graph struct {
	mu          sync.RWMutex
	nodes       map[string]*Node
	order       []string
	edges       []Edge
	currentPath []string
	startTimes  map[string]time.Time
	durations   map[string]time.Duration
	startedAt   time.Time
	lastActive  time.Time
	now         func() time.Time
}

func NewGraph(now func() time.Time) *Graph {
	if now == nil {
		now = time.Now
	}
	g := &Graph{now: now}
	g.resetLocked()
	return g
}

func (g *Graph) resetLocked() {
	g.nodes = map[string]*Node{}
	g.order = nil
	g.edges = nil
	g.currentPath = nil
	g.startTimes = map[string]time.Time{}
	g.durations = map[string]time.Duration{}
	g.startedAt = time.Time{}
	g.lastActive = time.Time{}
}

// Reset discards every node. It is the only way nodes are removed.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

// AddNode inserts step below parentID, or below the tail of the current path
// when parentID is empty. The parent must already exist. Error steps are
// linked with an error edge and do not extend the current path.
func (g *Graph) AddNode(step research.Step, parentID string, metadata Metadata) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	if _, exists := g.nodes[step.ID]; exists {
		return Node{}, fmt.Errorf("%w: %s", ErrDuplicateNode, step.ID)
	}
	if parentID == "" && len(g.currentPath) > 0 {
		parentID = g.currentPath[len(g.currentPath)-1]
	}
	if parentID != "" {
		if _, ok := g.nodes[parentID]; !ok {
			return Node{}, fmt.Errorf("%w: %s", ErrUnknownParent, parentID)
		}
	}

	now := g.now()
	if step.Timestamp.IsZero() {
		step.Timestamp = now
	}
	metadata.SourceCount = len(step.Sources)
	node := &Node{Step: step, Parents: []string{}, Children: []string{}, Metadata: metadata}
	g.nodes[step.ID] = node
	g.order = append(g.order, step.ID)
	g.startTimes[step.ID] = now
	if g.startedAt.IsZero() {
		g.startedAt = now
	}
	g.lastActive = now

	isError := step.Kind == research.StepError
	if parentID != "" {
		edgeType := EdgeSequential
		if isError {
			edgeType = EdgeError
		}
		g.linkLocked(parentID, step.ID, edgeType)
	}
	if isError {
		if metadata.Error == "" {
			node.Metadata.Error = step.Title
		}
	} else {
		g.currentPath = append(g.currentPath, step.ID)
	}
	return node.clone(), nil
}

// AddDependency records that target used the output of source without
// changing the current path.
func (g *Graph) AddDependency(sourceID string, targetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[sourceID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, sourceID)
	}
	if _, ok := g.nodes[targetID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, targetID)
	}
	g.linkLocked(sourceID, targetID, EdgeDependency)
	return nil
}

func (g *Graph) linkLocked(sourceID string, targetID string, edgeType EdgeType) {
	g.edges = append(g.edges, Edge{Source: sourceID, Target: targetID, Type: edgeType})
	parent := g.nodes[sourceID]
	child := g.nodes[targetID]
	if !contains(parent.Children, targetID) {
		parent.Children = append(parent.Children, targetID)
	}
	if !contains(child.Parents, sourceID) {
		child.Parents = append(child.Parents, sourceID)
	}
}

// CompleteNode finishes a pending step, recording its content, sources and
// processing time.
func (g *Graph) CompleteNode(id string, content any, sources []research.Citation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if content != nil {
		node.Step.Content = content
	}
	if sources != nil {
		node.Step.Sources = append([]research.Citation(nil), sources...)
	}
	node.Step.IsPending = false
	node.Metadata.SourceCount = len(node.Step.Sources)
	g.recordDurationLocked(id)
	return nil
}

// UpdateMetadata applies update to the node's metadata bag.
func (g *Graph) UpdateMetadata(id string, update func(*Metadata)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	update(&node.Metadata)
	g.lastActive = g.now()
	return nil
}

// MarkNodeError attaches message to the node, takes it off the current path
// and links it from the most recent non-error node with an error edge.
func (g *Graph) MarkNodeError(id string, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	node.Metadata.Error = message
	node.Step.IsPending = false
	g.recordDurationLocked(id)

	for i, pathID := range g.currentPath {
		if pathID == id {
			g.currentPath = append(g.currentPath[:i:i], g.currentPath[i+1:]...)
			break
		}
	}
	if len(g.currentPath) == 0 {
		return nil
	}
	lastGood := g.currentPath[len(g.currentPath)-1]
	for i := range g.edges {
		edge := &g.edges[i]
		if edge.Source == lastGood && edge.Target == id {
			edge.Type = EdgeError
			return nil
		}
	}
	g.linkLocked(lastGood, id, EdgeError)
	return nil
}

func (g *Graph) recordDurationLocked(id string) {
	now := g.now()
	g.lastActive = now
	start, ok := g.startTimes[id]
	if !ok {
		return
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	g.durations[id] = elapsed
	g.nodes[id].Metadata.ProcessingTimeMs = elapsed.Milliseconds()
}

func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return node.clone(), true
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id].clone())
	}
	return nodes
}

func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge{}, g.edges...)
}

func (g *Graph) CurrentPath() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.currentPath...)
}

// Root is the first node added, normally the user query.
func (g *Graph) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.order) == 0 {
		return ""
	}
	return g.order[0]
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

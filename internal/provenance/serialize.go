package provenance

import (
	"encoding/json"
	"fmt"
	"time"
)

const snapshotVersion = 1

type snapshot struct {
	Version     int                      `json:"version"`
	Nodes       []Node                   `json:"nodes"`
	Edges       []Edge                   `json:"edges"`
	CurrentPath []string                 `json:"current_path"`
	StartTimes  map[string]time.Time     `json:"start_times"`
	Durations   map[string]time.Duration `json:"durations"`
	StartedAt   time.Time                `json:"started_at"`
	LastActive  time.Time                `json:"last_active"`
}

// Serialize writes the full graph, duration bookkeeping included.
func (g *Graph) Serialize() ([]byte, error) {
	g.mu.RLock()
	snap := snapshot{
		Version:     snapshotVersion,
		Nodes:       make([]Node, 0, len(g.order)),
		Edges:       append([]Edge{}, g.edges...),
		CurrentPath: append([]string{}, g.currentPath...),
		StartTimes:  make(map[string]time.Time, len(g.startTimes)),
		Durations:   make(map[string]time.Duration, len(g.durations)),
		StartedAt:   g.startedAt,
		LastActive:  g.lastActive,
	}
	for _, id := range g.order {
		snap.Nodes = append(snap.Nodes, g.nodes[id].clone())
	}
	for id, start := range g.startTimes {
		snap.StartTimes[id] = start
	}
	for id, duration := range g.durations {
		snap.Durations[id] = duration
	}
	g.mu.RUnlock()
	return json.Marshal(snap)
}

// Deserialize rebuilds a graph written by Serialize. Nodes must appear after
// their parents and every edge and path entry must name a known node.
func Deserialize(data []byte, now func() time.Time) (*Graph, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode provenance graph: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported provenance graph version %d", snap.Version)
	}
	g := NewGraph(now)
	for i := range snap.Nodes {
		node := snap.Nodes[i]
		id := node.Step.ID
		if id == "" {
			return nil, fmt.Errorf("provenance node %d has no id", i)
		}
		if _, exists := g.nodes[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
		}
		for _, parentID := range node.Parents {
			if _, ok := g.nodes[parentID]; !ok {
				return nil, fmt.Errorf("%w: %s references %s", ErrUnknownParent, id, parentID)
			}
		}
		if node.Parents == nil {
			node.Parents = []string{}
		}
		if node.Children == nil {
			node.Children = []string{}
		}
		g.nodes[id] = &node
		g.order = append(g.order, id)
	}
	for _, edge := range snap.Edges {
		if _, ok := g.nodes[edge.Source]; !ok {
			return nil, fmt.Errorf("%w: edge source %s", ErrNodeNotFound, edge.Source)
		}
		if _, ok := g.nodes[edge.Target]; !ok {
			return nil, fmt.Errorf("%w: edge target %s", ErrNodeNotFound, edge.Target)
		}
	}
	for _, id := range snap.CurrentPath {
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("%w: path entry %s", ErrNodeNotFound, id)
		}
	}
	g.edges = append([]Edge{}, snap.Edges...)
	g.currentPath = append([]string{}, snap.CurrentPath...)
	for id, start := range snap.StartTimes {
		g.startTimes[id] = start
	}
	for id, duration := range snap.Durations {
		g.durations[id] = duration
	}
	g.startedAt = snap.StartedAt
	g.lastActive = snap.LastActive
	return g, nil
}

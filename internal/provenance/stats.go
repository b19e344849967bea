package provenance

import (
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

type Statistics struct {
	TotalNodes            int                       `json:"total_nodes"`
	TotalEdges            int                       `json:"total_edges"`
	SessionDurationMs     int64                     `json:"session_duration_ms"`
	AverageStepDurationMs float64                   `json:"average_step_duration_ms"`
	ErrorCount            int                       `json:"error_count"`
	SuccessRate           float64                   `json:"success_rate"`
	TotalSources          int                       `json:"total_sources"`
	StepsByKind           map[research.StepKind]int `json:"steps_by_kind"`
}

// Statistics derives aggregate counters. SuccessRate is (total-errors)/total
// and zero for an empty graph; the step average only counts nodes that
// recorded a duration.
func (g *Graph) Statistics() Statistics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Statistics{
		TotalNodes:  len(g.order),
		TotalEdges:  len(g.edges),
		StepsByKind: map[research.StepKind]int{},
	}
	if !g.startedAt.IsZero() {
		stats.SessionDurationMs = g.lastActive.Sub(g.startedAt).Milliseconds()
	}

	var total int64
	allSources := []research.Citation{}
	for _, id := range g.order {
		node := g.nodes[id]
		stats.StepsByKind[node.Step.Kind]++
		if node.IsError() {
			stats.ErrorCount++
		}
		allSources = append(allSources, node.Step.Sources...)
		if duration, ok := g.durations[id]; ok {
			total += duration.Milliseconds()
		}
	}
	if len(g.durations) > 0 {
		stats.AverageStepDurationMs = float64(total) / float64(len(g.durations))
	}
	if stats.TotalNodes > 0 {
		stats.SuccessRate = float64(stats.TotalNodes-stats.ErrorCount) / float64(stats.TotalNodes)
	}
	stats.TotalSources = len(research.DedupeCitations(allSources))
	return stats
}

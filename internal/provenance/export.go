package provenance

import (
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

const ExportVersion = "1.0"

type ExportSummary struct {
	TotalSteps            int     `json:"total_steps"`
	TotalSources          int     `json:"total_sources"`
	ErrorCount            int     `json:"error_count"`
	SuccessRate           float64 `json:"success_rate"`
	SessionDurationMs     int64   `json:"session_duration_ms"`
	AverageStepDurationMs float64 `json:"average_step_duration_ms"`
}

type ExportedStep struct {
	ID          string            `json:"id"`
	Kind        research.StepKind `json:"kind"`
	Title       string            `json:"title"`
	Content     any               `json:"content,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	DurationMs  int64             `json:"duration_ms"`
	SourceCount int               `json:"source_count"`
	Error       string            `json:"error,omitempty"`
	Parents     []string          `json:"parents"`
}

type ExportedSources struct {
	All      []research.Citation            `json:"all"`
	ByStep   map[string][]research.Citation `json:"by_step"`
	ByDomain map[string][]research.Citation `json:"by_domain"`
}

// ExportedData is the versioned snapshot every rendering is projected from.
type ExportedData struct {
	Version    string          `json:"version"`
	SessionID  string          `json:"session_id"`
	Query      string          `json:"query"`
	ExportedAt time.Time       `json:"exported_at"`
	Summary    ExportSummary   `json:"summary"`
	Steps      []ExportedStep  `json:"steps"`
	Nodes      []Node          `json:"nodes"`
	Edges      []Edge          `json:"edges"`
	Sources    ExportedSources `json:"sources"`
}

// ExportData flattens the graph. Citations whose URL has no parsable host are
// left out of the domain grouping but kept in the flat list.
func (g *Graph) ExportData(query string, sessionID string) ExportedData {
	stats := g.Statistics()
	nodes := g.Nodes()
	edges := g.Edges()

	data := ExportedData{
		Version:    ExportVersion,
		SessionID:  sessionID,
		Query:      query,
		ExportedAt: g.now(),
		Summary: ExportSummary{
			TotalSteps:            stats.TotalNodes,
			TotalSources:          stats.TotalSources,
			ErrorCount:            stats.ErrorCount,
			SuccessRate:           stats.SuccessRate,
			SessionDurationMs:     stats.SessionDurationMs,
			AverageStepDurationMs: stats.AverageStepDurationMs,
		},
		Steps: make([]ExportedStep, 0, len(nodes)),
		Nodes: nodes,
		Edges: edges,
		Sources: ExportedSources{
			ByStep:   map[string][]research.Citation{},
			ByDomain: map[string][]research.Citation{},
		},
	}

	all := []research.Citation{}
	for _, node := range nodes {
		data.Steps = append(data.Steps, ExportedStep{
			ID:          node.Step.ID,
			Kind:        node.Step.Kind,
			Title:       node.Step.Title,
			Content:     node.Step.Content,
			Timestamp:   node.Step.Timestamp,
			DurationMs:  node.Metadata.ProcessingTimeMs,
			SourceCount: len(node.Step.Sources),
			Error:       node.Metadata.Error,
			Parents:     node.Parents,
		})
		if len(node.Step.Sources) > 0 {
			data.Sources.ByStep[node.Step.ID] = research.DedupeCitations(node.Step.Sources)
			all = append(all, node.Step.Sources...)
		}
	}
	data.Sources.All = research.DedupeCitations(all)
	for _, citation := range data.Sources.All {
		domain, ok := research.Domain(citation.URL)
		if !ok {
			continue
		}
		data.Sources.ByDomain[domain] = append(data.Sources.ByDomain[domain], citation)
	}
	return data
}

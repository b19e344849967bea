package router

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/provenance"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

// ProgressFunc receives human-readable stage descriptions. It is advisory
// and should return quickly; a panic inside it is recovered and logged.
type ProgressFunc func(message string)

// recorder writes strategy steps into the session graph and forwards each
// stage to the progress callback.
type recorder struct {
	graph    *provenance.Graph
	progress ProgressFunc
	logger   *zap.Logger

	mu       sync.Mutex
	metadata provenance.Metadata
	failed   bool
}

func newRecorder(graph *provenance.Graph, progress ProgressFunc, logger *zap.Logger, metadata provenance.Metadata) *recorder {
	return &recorder{graph: graph, progress: progress, logger: logger, metadata: metadata}
}

func (r *recorder) StartStep(kind research.StepKind, title string) string {
	r.mu.Lock()
	metadata := r.metadata
	r.mu.Unlock()
	node, err := r.graph.AddNode(research.Step{Kind: kind, Title: title, IsPending: true}, "", metadata)
	if err != nil {
		r.logger.Warn("record step", zap.String("kind", string(kind)), zap.Error(err))
		return ""
	}
	r.report(title)
	return node.Step.ID
}

func (r *recorder) CompleteStep(id string, content any, sources []research.Citation) {
	if id == "" {
		return
	}
	if err := r.graph.CompleteNode(id, content, sources); err != nil {
		r.logger.Warn("complete step", zap.String("step_id", id), zap.Error(err))
	}
}

func (r *recorder) FailStep(id string, err error) {
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()
	if id == "" {
		return
	}
	if markErr := r.graph.MarkNodeError(id, err.Error()); markErr != nil {
		r.logger.Warn("mark step failed", zap.String("step_id", id), zap.Error(markErr))
	}
}

func (r *recorder) setStrategy(strategy string, paradigm research.Paradigm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata.Strategy = strategy
	r.metadata.Paradigm = string(paradigm)
}

// recordFailure adds an error node unless a step already carries the failure.
func (r *recorder) recordFailure(err error) {
	r.mu.Lock()
	alreadyRecorded := r.failed
	metadata := r.metadata
	r.mu.Unlock()
	if !alreadyRecorded {
		metadata.Error = err.Error()
		if _, addErr := r.graph.AddNode(research.Step{Kind: research.StepError, Title: "Research failed"}, "", metadata); addErr != nil {
			r.logger.Warn("record failure", zap.Error(addErr))
		}
	}
	r.report("Research failed: " + Describe(err))
}

// annotateTail stores the final confidence on the last node of the path.
func (r *recorder) annotateTail(confidence float64) {
	path := r.graph.CurrentPath()
	if len(path) == 0 {
		return
	}
	_ = r.graph.UpdateMetadata(path[len(path)-1], func(m *provenance.Metadata) {
		m.Confidence = confidence
	})
}

func (r *recorder) report(message string) {
	if r.progress == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Warn("progress callback panicked", zap.Any("panic", recovered))
		}
	}()
	r.progress(message)
}

package strategy

import (
	"context"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

const (
	NameDirect             = "direct"
	NameEvaluatorOptimizer = "evaluator-optimizer"
	NameOrchestratorWorker = "orchestrator-worker"
)

const (
	MaxRefinements   = 3
	QualityThreshold = 0.7
)

// Strategy is one multi-step research algorithm.
type Strategy interface {
	Name() string
	Run(ctx context.Context, req Request) (research.Result, error)
}

// Recorder receives step bookkeeping as a strategy runs. StartStep returns
// the id later passed to CompleteStep or FailStep.
type Recorder interface {
	StartStep(kind research.StepKind, title string) string
	CompleteStep(id string, content any, sources []research.Citation)
	FailStep(id string, err error)
}

type Request struct {
	Query     string
	QueryType research.QueryType
	Paradigm  research.Paradigm
	Effort    llm.Effort
	Model     string
	// Hints are sub-queries remembered from similar questions.
	Hints    []string
	Recorder Recorder
}

func (r Request) recorder() Recorder {
	if r.Recorder == nil {
		return noopRecorder{}
	}
	return r.Recorder
}

func (r Request) options(useSearch bool) llm.GenerateOptions {
	return llm.GenerateOptions{UseSearch: useSearch, Effort: r.Effort, Model: r.Model}
}

type noopRecorder struct{}

func (noopRecorder) StartStep(research.StepKind, string) string    { return "" }
func (noopRecorder) CompleteStep(string, any, []research.Citation) {}
func (noopRecorder) FailStep(string, error)                        {}

// ForQueryType picks the strategy used for a classified query.
func ForQueryType(queryType research.QueryType, toolkit *Toolkit) Strategy {
	switch queryType {
	case research.QueryFactual:
		return NewDirect(toolkit)
	case research.QueryAnalytical:
		return NewEvaluatorOptimizer(toolkit)
	default:
		return NewOrchestratorWorker(toolkit)
	}
}

// SubQueryCount is how many search queries one research round issues.
func SubQueryCount(effort llm.Effort) int {
	if effort == llm.EffortLow {
		return 2
	}
	return 3
}

// TopicCount is how many sub-topics a decomposition asks for.
func TopicCount(effort llm.Effort) int {
	switch effort {
	case llm.EffortLow:
		return 3
	case llm.EffortHigh:
		return 5
	default:
		return 4
	}
}

// step runs fn as one recorded step.
func step(rec Recorder, kind research.StepKind, title string, fn func() (any, []research.Citation, error)) error {
	id := rec.StartStep(kind, title)
	content, sources, err := fn()
	if err != nil {
		rec.FailStep(id, err)
		return err
	}
	rec.CompleteStep(id, content, sources)
	return nil
}

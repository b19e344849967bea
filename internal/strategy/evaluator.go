package strategy

import (
	"context"
	"fmt"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

// EvaluatorOptimizer drafts, critiques and redrafts until the critique
// average passes QualityThreshold or MaxRefinements drafts were written.
type EvaluatorOptimizer struct {
	toolkit *Toolkit
}

func NewEvaluatorOptimizer(toolkit *Toolkit) *EvaluatorOptimizer {
	return &EvaluatorOptimizer{toolkit: toolkit}
}

func (e *EvaluatorOptimizer) Name() string {
	return NameEvaluatorOptimizer
}

func (e *EvaluatorOptimizer) Run(ctx context.Context, req Request) (research.Result, error) {
	var (
		result     research.Result
		allQueries []string
		allSources []research.Citation
	)
	pass := req
	for i := 1; i <= MaxRefinements; i++ {
		queries, findings, err := e.toolkit.researchRound(ctx, pass, fmt.Sprintf("Research pass %d", i))
		if err != nil {
			return research.Result{}, err
		}
		synthesis, provider, err := e.toolkit.synthesisRound(ctx, pass, findings, fmt.Sprintf("Draft answer %d", i))
		if err != nil {
			return research.Result{}, err
		}
		var evaluation research.Evaluation
		err = step(req.recorder(), research.StepReflection, fmt.Sprintf("Evaluating draft %d", i), func() (any, []research.Citation, error) {
			var err error
			evaluation, err = e.toolkit.Evaluate(ctx, req, synthesis)
			return evaluation, nil, err
		})
		if err != nil {
			return research.Result{}, err
		}

		allQueries = append(allQueries, queries...)
		allSources = append(allSources, collectSources(findings)...)
		result = research.Result{
			Synthesis:       synthesis,
			QueryType:       req.QueryType,
			Paradigm:        req.Paradigm,
			Evaluation:      &evaluation,
			RefinementCount: i,
			AdaptiveMetadata: research.AdaptiveMetadata{
				Strategy: NameEvaluatorOptimizer,
				Paradigm: string(req.Paradigm),
				Provider: string(provider),
			},
		}
		if evaluation.Average() > QualityThreshold {
			break
		}
		pass.Query = withFeedback(pass.Query, evaluation.Feedback)
	}
	result.Sources = research.DedupeCitations(allSources)
	result.SubQueries = cleanList(allQueries)
	return result, nil
}

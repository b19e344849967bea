package healing

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

type Strategy string

const (
	StrategyBroaderSearch  Strategy = "broader_search"
	StrategyEnhancedDetail Strategy = "enhanced_detail"
)

const (
	// LowConfidence is the score under which remediation is attempted.
	LowConfidence = 0.4

	baseScore         = 0.5
	evaluationWeight  = 0.6
	sourceBonus       = 0.2
	sourceSaturation  = 10
	lengthBonus       = 0.1
	minSaneLength     = 200
	maxSaneLength     = 5000
	refinementStep    = 0.05
	refinementCap     = 0.15
	shortSynthesis    = 100
)

// Score estimates how much a result can be trusted, in [0,1].
//
// Starting at 0.5 it moves by the evaluation average (up to ±0.3), the number
// of sources (up to +0.2 at ten), a sane synthesis length
// (+0.1) and extra refinement passes (+0.05 each, at most +0.15).
func Score(result research.Result) float64 {
	score := baseScore
	if result.Evaluation != nil {
		score += (result.Evaluation.Average() - 0.5) * evaluationWeight
	}
	if n := len(result.Sources); n > 0 {
		score += sourceBonus * float64(min(n, sourceSaturation)) / sourceSaturation
	}
	if length := len([]rune(strings.TrimSpace(result.Synthesis))); length >= minSaneLength && length <= maxSaneLength {
		score += lengthBonus
	}
	if extra := result.RefinementCount - 1; extra > 0 {
		score += math.Min(float64(extra)*refinementStep, refinementCap)
	}
	return math.Max(0, math.Min(1, score))
}

// Remediator performs the repair work. Implementations re-run parts of the
// research pipeline for the result's query.
type Remediator interface {
	BroaderSearch(ctx context.Context, result research.Result) (research.Result, error)
	ExpandSynthesis(ctx context.Context, result research.Result) (string, error)
}

type Auditor struct {
	logger *zap.Logger
}

func NewAuditor(logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{logger: logger}
}

// Plan reports which remediation, if any, result needs. A result without
// sources always gets a broader search regardless of its score.
func Plan(result research.Result, score float64) (Strategy, bool) {
	if len(result.Sources) == 0 {
		return StrategyBroaderSearch, true
	}
	if score >= LowConfidence {
		return "", false
	}
	if len([]rune(strings.TrimSpace(result.Synthesis))) < shortSynthesis {
		return StrategyEnhancedDetail, true
	}
	return "", false
}

// Heal scores result and, when needed, runs a single remediation before
// scoring it again. A failed remediation is logged and the original result is
// returned with its score; Heal never retries.
func (a *Auditor) Heal(ctx context.Context, result research.Result, remediator Remediator) research.Result {
	result.ConfidenceScore = Score(result)
	strategy, needed := Plan(result, result.ConfidenceScore)
	if !needed || remediator == nil {
		return result
	}

	logger := a.logger.With(zap.String("healing_strategy", string(strategy)), zap.Float64("confidence", result.ConfidenceScore))
	switch strategy {
	case StrategyBroaderSearch:
		broadened, err := remediator.BroaderSearch(ctx, result)
		if err != nil {
			logger.Warn("remediation failed", zap.Error(err))
			return result
		}
		result.Synthesis = broadened.Synthesis
		result.Sources = research.DedupeCitations(append(result.Sources, broadened.Sources...))
		result.SubQueries = append(result.SubQueries, broadened.SubQueries...)
	case StrategyEnhancedDetail:
		expanded, err := remediator.ExpandSynthesis(ctx, result)
		if err != nil {
			logger.Warn("remediation failed", zap.Error(err))
			return result
		}
		if strings.TrimSpace(expanded) != "" {
			result.Synthesis = expanded
		}
	}
	result.AdaptiveMetadata.SelfHealed = true
	result.AdaptiveMetadata.HealingStrategy = string(strategy)
	result.ConfidenceScore = Score(result)
	logger.Info("result remediated", zap.Float64("healed_confidence", result.ConfidenceScore))
	return result
}

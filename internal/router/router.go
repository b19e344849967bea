package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/cache"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/classify"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/healing"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/metrics"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/provenance"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/strategy"
)

const hintLimit = 5

var ErrEmptyQuery = errors.New("research query is empty")

// Deps are the shared services a Router is built from. Generator is
// required; the rest fall back to fresh defaults.
type Deps struct {
	Generator     llm.Generator
	Cache         *cache.ResultCache
	Memory        *cache.QueryMemory
	Auditor       *healing.Auditor
	Metrics       *metrics.Collector
	Logger        *zap.Logger
	Now           func() time.Time
	DefaultModel  string
	DefaultEffort llm.Effort
}

// Router is the single entry point for research. It owns no global state:
// cache, memory and the generator are injected and shared by reference.
type Router struct {
	classifier    *classify.Classifier
	toolkit       *strategy.Toolkit
	cache         *cache.ResultCache
	memory        *cache.QueryMemory
	auditor       *healing.Auditor
	metrics       *metrics.Collector
	logger        *zap.Logger
	now           func() time.Time
	defaultModel  string
	defaultEffort llm.Effort
}

// New builds a Router from deps.
func New(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewResultCache(cache.DefaultResultTTL, deps.Now)
	}
	if deps.Memory == nil {
		deps.Memory = cache.NewQueryMemory(cache.DefaultMemoryTTL, deps.Now)
	}
	if deps.Auditor == nil {
		deps.Auditor = healing.NewAuditor(deps.Logger)
	}
	if deps.DefaultEffort == "" {
		deps.DefaultEffort = llm.EffortMedium
	}
	return &Router{
		classifier:    classify.NewClassifier(deps.Generator),
		toolkit:       strategy.NewToolkit(deps.Generator, deps.Logger),
		cache:         deps.Cache,
		memory:        deps.Memory,
		auditor:       deps.Auditor,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		now:           deps.Now,
		defaultModel:  deps.DefaultModel,
		defaultEffort: deps.DefaultEffort,
	}
}

// RouteResearchQuery answers query and records every step in session.
//
// A cached answer for the same or a similar question short-circuits the
// pipeline. Otherwise the query is classified, a strategy runs, the result is
// audited and stored for later reuse. Failures are recorded in the graph and
// returned; panics are converted to errors.
func (r *Router) RouteResearchQuery(ctx context.Context, session *Session, query string, model string, effort llm.Effort, onProgress ProgressFunc) (result research.Result, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return research.Result{}, ErrEmptyQuery
	}
	if session == nil {
		session = NewSession("", r.now)
	}
	if model == "" {
		model = r.defaultModel
	}
	if effort == "" {
		effort = r.defaultEffort
	}
	effort = llm.ParseEffort(string(effort))

	started := r.now()
	session.begin(query)
	logger := r.logger.With(zap.String("session_id", session.ID))
	rec := newRecorder(session.Graph(), onProgress, logger, provenance.Metadata{Model: model, Effort: string(effort)})
	strategyName := "none"

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("research pipeline panic: %v", recovered)
			result = research.Result{}
		}
		if err != nil {
			logger.Error("research failed", zap.String("strategy", strategyName), zap.Error(err))
			rec.recordFailure(err)
			r.metrics.ObserveSession(strategyName, "failed")
		}
	}()

	rec.CompleteStep(rec.StartStep(research.StepUserQuery, query), query, nil)

	if cached, similarity, ok := r.cache.Get(query); ok {
		return r.answerFromCache(session, rec, logger, cached, similarity, started), nil
	}
	r.metrics.ObserveCache(false)

	opts := llm.GenerateOptions{Effort: effort, Model: model}
	rec.report("Classifying query")
	queryType, classifyErr := r.classifier.Classify(ctx, query, opts)
	if classifyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return research.Result{}, ctxErr
		}
		logger.Warn("classification failed, using exploratory", zap.Error(classifyErr))
	}
	scores := classify.DetermineParadigm(query, queryType)
	selected := strategy.ForQueryType(queryType, r.toolkit)
	strategyName = selected.Name()
	rec.setStrategy(strategyName, scores.Dominant)
	logger = logger.With(zap.String("query_type", string(queryType)), zap.String("paradigm", string(scores.Dominant)), zap.String("strategy", strategyName))
	logger.Info("routing research query")
	rec.report(fmt.Sprintf("Running %s strategy for %s query", strategyName, queryType))

	req := strategy.Request{
		Query:     query,
		QueryType: queryType,
		Paradigm:  scores.Dominant,
		Effort:    effort,
		Model:     model,
		Hints:     r.memory.Hints(query, hintLimit),
		Recorder:  rec,
	}
	result, err = selected.Run(ctx, req)
	if err != nil {
		return research.Result{}, err
	}

	result.QueryType = queryType
	result.Paradigm = scores.Dominant
	result.AdaptiveMetadata.Strategy = strategyName
	result.AdaptiveMetadata.Paradigm = string(scores.Dominant)
	result.AdaptiveMetadata.ComplexityScore = classify.Complexity(query)

	result = r.auditor.Heal(ctx, result, r.toolkit.Remediator(req))
	if result.AdaptiveMetadata.SelfHealed {
		r.metrics.IncHealing(result.AdaptiveMetadata.HealingStrategy)
		rec.report("Self-healing applied: " + result.AdaptiveMetadata.HealingStrategy)
	}
	result.AdaptiveMetadata.ProcessingTimeMs = r.now().Sub(started).Milliseconds()

	r.cache.Put(query, result)
	r.memory.Remember(query, result.SubQueries, queryType)
	rec.annotateTail(result.ConfidenceScore)
	session.finish(result)
	r.metrics.ObserveSession(strategyName, "completed")
	logger.Info("research complete",
		zap.Float64("confidence", result.ConfidenceScore),
		zap.Int("sources", len(result.Sources)),
		zap.Int64("processing_time_ms", result.AdaptiveMetadata.ProcessingTimeMs),
	)
	rec.report("Research complete")
	return result, nil
}

func (r *Router) answerFromCache(session *Session, rec *recorder, logger *zap.Logger, cached research.Result, similarity float64, started time.Time) research.Result {
	r.metrics.ObserveCache(true)
	cached.AdaptiveMetadata.CacheHit = true
	rec.CompleteStep(rec.StartStep(research.StepSynthesis, "Answer from cache"), cached.Synthesis, cached.Sources)
	cached.AdaptiveMetadata.ProcessingTimeMs = r.now().Sub(started).Milliseconds()
	rec.annotateTail(cached.ConfidenceScore)
	session.finish(cached)
	r.metrics.ObserveSession("cache", "completed")
	logger.Info("cache hit", zap.Float64("similarity", similarity))
	return cached
}

// ResetCache empties the result cache and query memory.
func (r *Router) ResetCache() {
	r.cache.Clear()
	r.memory.Clear()
}

// Describe turns a pipeline error into a message fit for end users.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyQuery):
		return "Please enter a question."
	case errors.Is(err, context.Canceled):
		return "The research was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The research took too long and was stopped."
	}
	switch llm.KindOf(err) {
	case llm.ErrorCircuitOpen:
		return "Too many recent errors; please wait a minute before trying again."
	case llm.ErrorAllProvidersFailed:
		return "Every configured model provider failed; please try again later."
	case llm.ErrorAuth, llm.ErrorConfig:
		return "The model provider is not configured correctly."
	case llm.ErrorRateLimit:
		return "The model provider is rate limiting requests; please try again shortly."
	}
	return err.Error()
}

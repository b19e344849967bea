package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

var broadQualifiers = []string{"overview", "summary"}

// Finding is what one search-augmented call returned for one query.
type Finding struct {
	Query    string              `json:"query"`
	Text     string              `json:"text"`
	Sources  []research.Citation `json:"sources"`
	Provider llm.Kind            `json:"provider,omitempty"`
}

// Toolkit holds the research primitives the strategies are assembled from.
// Every call goes through one generator, normally the gateway, so admission
// and retry policy apply to all of them.
type Toolkit struct {
	generator llm.Generator
	logger    *zap.Logger
	now       func() time.Time
}

func NewToolkit(generator llm.Generator, logger *zap.Logger) *Toolkit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolkit{generator: generator, logger: logger, now: time.Now}
}

// GenerateSubQueries asks for up to SubQueryCount search queries. The
// original question is used when the reply contains none.
func (t *Toolkit) GenerateSubQueries(ctx context.Context, req Request, qualifiers ...string) ([]string, error) {
	count := SubQueryCount(req.Effort)
	resp, err := t.generator.Generate(ctx, buildSubQueriesPrompt(req, count, qualifiers), req.options(false))
	if err != nil {
		return nil, fmt.Errorf("generate sub-queries: %w", err)
	}
	queries := parseList(resp.Text)
	if len(queries) == 0 {
		return []string{strings.TrimSpace(req.Query)}, nil
	}
	if len(queries) > count {
		queries = queries[:count]
	}
	return queries, nil
}

// Research runs one search-augmented call per query concurrently. The first
// failure cancels the rest.
func (t *Toolkit) Research(ctx context.Context, req Request, queries []string) ([]Finding, error) {
	findings := make([]Finding, len(queries))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, query := range queries {
		group.Go(func() error {
			resp, err := t.generator.Generate(groupCtx, buildResearchPrompt(req.Query, query), req.options(true))
			if err != nil {
				return fmt.Errorf("research %q: %w", query, err)
			}
			findings[i] = Finding{
				Query:    query,
				Text:     strings.TrimSpace(resp.Text),
				Sources:  t.citations(resp.Sources),
				Provider: resp.Provider,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return findings, nil
}

// Synthesize writes the answer from findings, framed by the request's lens.
func (t *Toolkit) Synthesize(ctx context.Context, req Request, findings []Finding) (string, llm.Kind, error) {
	resp, err := t.generator.Generate(ctx, buildSynthesisPrompt(req, findings), req.options(false))
	if err != nil {
		return "", "", fmt.Errorf("synthesize: %w", err)
	}
	return strings.TrimSpace(resp.Text), resp.Provider, nil
}

// Evaluate critiques synthesis against req.Query.
func (t *Toolkit) Evaluate(ctx context.Context, req Request, synthesis string) (research.Evaluation, error) {
	resp, err := t.generator.Generate(ctx, buildEvaluationPrompt(req.Query, synthesis), req.options(false))
	if err != nil {
		return research.Evaluation{}, fmt.Errorf("evaluate: %w", err)
	}
	return parseEvaluation(resp.Text), nil
}

// Decompose splits the question into at most TopicCount sub-topics. A reply
// with no usable topics falls back to the question itself.
func (t *Toolkit) Decompose(ctx context.Context, req Request) ([]Topic, error) {
	count := TopicCount(req.Effort)
	resp, err := t.generator.Generate(ctx, buildDecomposePrompt(req, count), req.options(false))
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	topics := parseTopics(resp.Text)
	if len(topics) == 0 {
		t.logger.Warn("decomposition returned no topics", zap.String("query", req.Query))
		return []Topic{{Topic: strings.TrimSpace(req.Query)}}, nil
	}
	if len(topics) > count {
		topics = topics[:count]
	}
	return topics, nil
}

func (t *Toolkit) Expand(ctx context.Context, req Request, synthesis string) (string, error) {
	resp, err := t.generator.Generate(ctx, buildExpandPrompt(req.Query, synthesis), req.options(false))
	if err != nil {
		return "", fmt.Errorf("expand: %w", err)
	}
	expanded := strings.TrimSpace(resp.Text)
	if expanded == "" {
		return "", errors.New("expand: empty rewrite")
	}
	return expanded, nil
}

// BroaderSearch reruns a research round with generic qualifiers and
// synthesizes again.
func (t *Toolkit) BroaderSearch(ctx context.Context, req Request) (research.Result, error) {
	queries, findings, err := t.researchRound(ctx, req, "Broadening search", broadQualifiers...)
	if err != nil {
		return research.Result{}, err
	}
	synthesis, _, err := t.synthesisRound(ctx, req, findings, "Re-synthesizing with broader findings")
	if err != nil {
		return research.Result{}, err
	}
	return research.Result{Synthesis: synthesis, Sources: collectSources(findings), SubQueries: queries}, nil
}

// researchRound generates sub-queries and researches them as one
// web-research step.
func (t *Toolkit) researchRound(ctx context.Context, req Request, title string, qualifiers ...string) ([]string, []Finding, error) {
	var (
		queries  []string
		findings []Finding
	)
	err := step(req.recorder(), research.StepWebResearch, title, func() (any, []research.Citation, error) {
		var err error
		queries, err = t.GenerateSubQueries(ctx, req, qualifiers...)
		if err != nil {
			return nil, nil, err
		}
		findings, err = t.Research(ctx, req, queries)
		if err != nil {
			return nil, nil, err
		}
		return findings, collectSources(findings), nil
	})
	return queries, findings, err
}

func (t *Toolkit) synthesisRound(ctx context.Context, req Request, findings []Finding, title string) (string, llm.Kind, error) {
	var (
		synthesis string
		provider  llm.Kind
	)
	sources := collectSources(findings)
	err := step(req.recorder(), research.StepSynthesis, title, func() (any, []research.Citation, error) {
		var err error
		synthesis, provider, err = t.Synthesize(ctx, req, findings)
		return synthesis, sources, err
	})
	return synthesis, provider, err
}

func (t *Toolkit) citations(sources []llm.Source) []research.Citation {
	if len(sources) == 0 {
		return []research.Citation{}
	}
	accessed := t.now().UTC().Format(time.DateOnly)
	citations := make([]research.Citation, 0, len(sources))
	for _, source := range sources {
		citations = append(citations, research.Citation{
			URL:          source.URL,
			Title:        source.Title,
			Snippet:      source.Snippet,
			AccessedDate: accessed,
		})
	}
	return research.DedupeCitations(citations)
}

func collectSources(findings []Finding) []research.Citation {
	all := []research.Citation{}
	for _, finding := range findings {
		all = append(all, finding.Sources...)
	}
	return research.DedupeCitations(all)
}

// Remediator binds the toolkit to one request for self-healing.
func (t *Toolkit) Remediator(req Request) *Remediator {
	return &Remediator{toolkit: t, req: req}
}

type Remediator struct {
	toolkit *Toolkit
	req     Request
}

func (r *Remediator) BroaderSearch(ctx context.Context, _ research.Result) (research.Result, error) {
	return r.toolkit.BroaderSearch(ctx, r.req)
}

func (r *Remediator) ExpandSynthesis(ctx context.Context, result research.Result) (string, error) {
	var expanded string
	err := step(r.req.recorder(), research.StepSynthesis, "Expanding answer detail", func() (any, []research.Citation, error) {
		var err error
		expanded, err = r.toolkit.Expand(ctx, r.req, result.Synthesis)
		return expanded, result.Sources, err
	})
	return expanded, err
}

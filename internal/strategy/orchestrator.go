package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

// OrchestratorWorker splits the question into sub-topics, researches them
// concurrently and answers from the combined sections.
type OrchestratorWorker struct {
	toolkit *Toolkit
}

func NewOrchestratorWorker(toolkit *Toolkit) *OrchestratorWorker {
	return &OrchestratorWorker{toolkit: toolkit}
}

func (o *OrchestratorWorker) Name() string {
	return NameOrchestratorWorker
}

func (o *OrchestratorWorker) Run(ctx context.Context, req Request) (research.Result, error) {
	rec := req.recorder()
	var topics []Topic
	err := step(rec, research.StepQueryGeneration, "Decomposing into sub-topics", func() (any, []research.Citation, error) {
		var err error
		topics, err = o.toolkit.Decompose(ctx, req)
		return topics, nil, err
	})
	if err != nil {
		return research.Result{}, err
	}

	var sections []research.Section
	err = step(rec, research.StepWebResearch, fmt.Sprintf("Researching %d sub-topics", len(topics)), func() (any, []research.Citation, error) {
		var err error
		sections, err = o.researchTopics(ctx, req, topics)
		if err != nil {
			return nil, nil, err
		}
		return sections, sectionSources(sections), nil
	})
	if err != nil {
		return research.Result{}, err
	}

	findings := make([]Finding, 0, len(sections))
	names := make([]string, 0, len(sections))
	for _, section := range sections {
		findings = append(findings, Finding{Query: section.Topic, Text: section.Research, Sources: section.Sources})
		names = append(names, section.Topic)
	}
	synthesis, provider, err := o.toolkit.synthesisRound(ctx, req, findings, "Synthesizing sections")
	if err != nil {
		return research.Result{}, err
	}
	return research.Result{
		Synthesis:  synthesis,
		Sources:    sectionSources(sections),
		QueryType:  req.QueryType,
		Paradigm:   req.Paradigm,
		Sections:   sections,
		SubQueries: names,
		AdaptiveMetadata: research.AdaptiveMetadata{
			Strategy: NameOrchestratorWorker,
			Paradigm: string(req.Paradigm),
			Provider: string(provider),
		},
	}, nil
}

func (o *OrchestratorWorker) researchTopics(ctx context.Context, req Request, topics []Topic) ([]research.Section, error) {
	queries := make([]string, len(topics))
	for i, topic := range topics {
		queries[i] = topic.Topic
		if description := strings.TrimSpace(topic.Description); description != "" {
			queries[i] = topic.Topic + ": " + description
		}
	}
	findings, err := o.toolkit.Research(ctx, req, queries)
	if err != nil {
		return nil, err
	}
	sections := make([]research.Section, len(topics))
	for i, topic := range topics {
		sections[i] = research.Section{
			Topic:       topic.Topic,
			Description: topic.Description,
			Research:    findings[i].Text,
			Sources:     findings[i].Sources,
		}
	}
	return sections, nil
}

func sectionSources(sections []research.Section) []research.Citation {
	all := []research.Citation{}
	for _, section := range sections {
		all = append(all, section.Sources...)
	}
	return research.DedupeCitations(all)
}

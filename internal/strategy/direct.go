package strategy

import (
	"context"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
)

// Direct researches a handful of sub-queries once and answers from them.
type Direct struct {
	toolkit *Toolkit
}

func NewDirect(toolkit *Toolkit) *Direct {
	return &Direct{toolkit: toolkit}
}

func (d *Direct) Name() string {
	return NameDirect
}

func (d *Direct) Run(ctx context.Context, req Request) (research.Result, error) {
	queries, findings, err := d.toolkit.researchRound(ctx, req, "Searching the web")
	if err != nil {
		return research.Result{}, err
	}
	synthesis, provider, err := d.toolkit.synthesisRound(ctx, req, findings, "Synthesizing answer")
	if err != nil {
		return research.Result{}, err
	}
	return research.Result{
		Synthesis:  synthesis,
		Sources:    collectSources(findings),
		QueryType:  req.QueryType,
		Paradigm:   req.Paradigm,
		SubQueries: queries,
		AdaptiveMetadata: research.AdaptiveMetadata{
			Strategy: NameDirect,
			Paradigm: string(req.Paradigm),
			Provider: string(provider),
		},
	}, nil
}

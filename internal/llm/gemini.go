package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiProvider calls the Gemini API through the genai SDK. Search requests
// attach the Google Search tool and read citations from grounding metadata.
type GeminiProvider struct {
	models geminiModels
	model  string
}

func NewGeminiProvider(cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &Error{Kind: ErrorConfig, Provider: KindGemini, Err: errors.New("GEMINI_API_KEY is required")}
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, &Error{Kind: ErrorConfig, Provider: KindGemini, Err: fmt.Errorf("create genai client: %w", err)}
	}
	return &GeminiProvider{models: client.Models, model: defaultIfEmpty(cfg.Model, "gemini-2.5-flash")}, nil
}

func (p *GeminiProvider) Kind() Kind {
	return KindGemini
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (Response, error) {
	model := defaultIfEmpty(strings.TrimSpace(opts.Model), p.model)
	config := &genai.GenerateContentConfig{}
	if opts.UseSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if budget, ok := thinkingBudget(opts.Effort); ok {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(budget)}
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := p.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Response{}, geminiError(err)
	}
	if resp == nil {
		return Response{}, NewEmptyResponseError(KindGemini)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Response{}, NewEmptyResponseError(KindGemini)
	}
	return Response{Text: text, Sources: groundingSources(resp), Provider: KindGemini}, nil
}

func thinkingBudget(effort Effort) (int32, bool) {
	switch effort {
	case EffortLow:
		return 1024, true
	case EffortMedium:
		return 8192, true
	case EffortHigh:
		return 24576, true
	}
	return 0, false
}

func groundingSources(resp *genai.GenerateContentResponse) []Source {
	sources := []Source{}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			sources = append(sources, Source{URL: chunk.Web.URI, Title: chunk.Web.Title})
		}
	}
	return sources
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return StatusError(KindGemini, apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return StatusError(KindGemini, apiErrPtr.Code, apiErrPtr.Message)
	}
	return Normalize(KindGemini, err)
}

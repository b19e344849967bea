package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	Kind    Kind
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	kind    Kind
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	kind := cfg.Kind
	if kind == "" {
		kind = KindOpenAI
	}
	return &OpenAIProvider{
		kind:    kind,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenAIProvider) Kind() Kind {
	return p.kind
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content     string `json:"content"`
			Annotations []struct {
				Type        string `json:"type"`
				URLCitation struct {
					URL   string `json:"url"`
					Title string `json:"title"`
				} `json:"url_citation"`
			} `json:"annotations"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts GenerateOptions) (Response, error) {
	if p.apiKey == "" {
		return Response{}, &Error{Kind: ErrorAuth, Provider: p.kind, Err: errors.New("missing API key for remote provider")}
	}
	model := defaultIfEmpty(strings.TrimSpace(opts.Model), p.model)
	if model == "" {
		return Response{}, &Error{Kind: ErrorConfig, Provider: p.kind, Err: errors.New("missing model for remote provider")}
	}
	payload := map[string]any{
		"model":    model,
		"messages": []openAIMessage{{Role: "user", Content: prompt}},
	}
	if opts.Effort != "" && supportsReasoningEffort(model) {
		payload["reasoning_effort"] = string(opts.Effort)
	}
	if opts.UseSearch {
		if p.kind == KindOpenRouter {
			payload["plugins"] = []map[string]any{{"id": "web"}}
		} else {
			payload["web_search_options"] = map[string]any{}
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Response{}, Normalize(p.kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, StatusError(p.kind, resp.StatusCode, string(raw))
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, Normalize(p.kind, err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, NewEmptyResponseError(p.kind)
	}
	message := parsed.Choices[0].Message
	content := strings.TrimSpace(message.Content)
	if content == "" {
		return Response{}, NewEmptyResponseError(p.kind)
	}
	sources := make([]Source, 0, len(message.Annotations))
	for _, annotation := range message.Annotations {
		if annotation.Type != "url_citation" || annotation.URLCitation.URL == "" {
			continue
		}
		sources = append(sources, Source{URL: annotation.URLCitation.URL, Title: annotation.URLCitation.Title})
	}
	return Response{Text: content, Sources: sources, Provider: p.kind}, nil
}

func supportsReasoningEffort(model string) bool {
	lower := strings.ToLower(model)
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		lower = lower[idx+1:]
	}
	return strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "o4") || strings.HasPrefix(lower, "gpt-5")
}

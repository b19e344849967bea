package llm

import (
	"context"
	"strings"
)

// Kind identifies a provider adapter. The set is closed: adding a provider means
// adding a constant here and a case in NewProvider.
type Kind string

const (
	KindGemini     Kind = "gemini"
	KindOpenAI     Kind = "openai"
	KindOpenRouter Kind = "openrouter"
)

var Kinds = []Kind{KindGemini, KindOpenAI, KindOpenRouter}

func ParseKind(raw string) (Kind, bool) {
	normalized := Kind(strings.TrimSpace(strings.ToLower(raw)))
	for _, kind := range Kinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

func ParseEffort(raw string) Effort {
	switch Effort(strings.TrimSpace(strings.ToLower(raw))) {
	case EffortLow:
		return EffortLow
	case EffortHigh:
		return EffortHigh
	default:
		return EffortMedium
	}
}

type GenerateOptions struct {
	UseSearch bool
	Effort    Effort
	// Model overrides the adapter's configured model when set.
	Model string
}

type Source struct {
	URL     string
	Title   string
	Snippet string
}

type Response struct {
	Text     string
	Sources  []Source
	Provider Kind
}

// Generator is anything that turns a prompt into a response: a single
// provider adapter or the gateway that fronts all of them.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Response, error)
}

type Provider interface {
	Generator
	Kind() Kind
}

type Config struct {
	Provider          Kind
	Model             string
	FallbackProviders []Kind
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterModel   string
}

func NewProvider(kind Kind, cfg Config) (Provider, error) {
	switch kind {
	case KindGemini:
		provider, err := NewGeminiProvider(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   defaultIfEmpty(modelFor(kind, cfg), "gemini-2.5-flash"),
			BaseURL: cfg.GeminiBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return provider, nil
	case KindOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			Kind:    KindOpenAI,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   defaultIfEmpty(modelFor(kind, cfg), "gpt-4o-mini"),
			BaseURL: cfg.OpenAIBaseURL,
		}), nil
	case KindOpenRouter:
		return NewOpenAIProvider(OpenAIConfig{
			Kind:    KindOpenRouter,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   defaultIfEmpty(modelFor(kind, cfg), "openai/gpt-4o-mini"),
			BaseURL: "https://openrouter.ai/api/v1",
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: string(kind)}
	}
}

// NewProviders returns the preferred provider followed by the configured
// fallbacks, skipping duplicates and providers without credentials.
func NewProviders(cfg Config) ([]Provider, error) {
	order := append([]Kind{cfg.Provider}, cfg.FallbackProviders...)
	seen := map[Kind]struct{}{}
	providers := make([]Provider, 0, len(order))
	for _, kind := range order {
		if kind == "" {
			continue
		}
		if _, exists := seen[kind]; exists {
			continue
		}
		seen[kind] = struct{}{}
		if !cfg.HasCredentials(kind) {
			continue
		}
		provider, err := NewProvider(kind, cfg)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	if len(providers) == 0 {
		return nil, &Error{Kind: ErrorConfig, Err: errNoProviders}
	}
	return providers, nil
}

func (c Config) HasCredentials(kind Kind) bool {
	switch kind {
	case KindGemini:
		return strings.TrimSpace(c.GeminiAPIKey) != ""
	case KindOpenAI:
		return strings.TrimSpace(c.OpenAIAPIKey) != ""
	case KindOpenRouter:
		return strings.TrimSpace(c.OpenRouterAPIKey) != ""
	default:
		return false
	}
}

func modelFor(kind Kind, cfg Config) string {
	if kind == cfg.Provider && strings.TrimSpace(cfg.Model) != "" {
		return cfg.Model
	}
	switch kind {
	case KindGemini:
		return cfg.GeminiModel
	case KindOpenAI:
		return cfg.OpenAIModel
	case KindOpenRouter:
		return cfg.OpenRouterModel
	}
	return ""
}

// ParseModel splits a "provider:model" selector. A bare model name is matched
// to a provider by its family prefix; an unknown name yields an empty Kind.
func ParseModel(raw string) (Kind, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if prefix, model, found := strings.Cut(raw, ":"); found {
		if kind, ok := ParseKind(prefix); ok {
			return kind, strings.TrimSpace(model)
		}
	}
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "gemini"):
		return KindGemini, raw
	case strings.Contains(lower, "/"):
		return KindOpenRouter, raw
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return KindOpenAI, raw
	}
	return "", raw
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

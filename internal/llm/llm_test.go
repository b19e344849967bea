package llm

import (
	"errors"
	"testing"
)

func TestNewProvider_OpenAI(t *testing.T) {
	cfg := Config{
		Provider:      KindOpenAI,
		Model:         "gpt-4o",
		OpenAIAPIKey:  "test-key",
		OpenAIBaseURL: "https://api.openai.com/v1",
	}
	provider, err := NewProvider(KindOpenAI, cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	openAIProvider, ok := provider.(*OpenAIProvider)
	if !ok {
		t.Fatalf("expected *OpenAIProvider, got %T", provider)
	}
	if openAIProvider.model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", openAIProvider.model)
	}
	if openAIProvider.Kind() != KindOpenAI {
		t.Errorf("expected kind openai, got %s", openAIProvider.Kind())
	}
}

func TestNewProvider_OpenRouterUsesOwnBaseURL(t *testing.T) {
	cfg := Config{Provider: KindGemini, OpenRouterAPIKey: "router-key"}
	provider, err := NewProvider(KindOpenRouter, cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	routed := provider.(*OpenAIProvider)
	if routed.baseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("unexpected base URL %s", routed.baseURL)
	}
	if routed.model != "openai/gpt-4o-mini" {
		t.Errorf("unexpected default model %s", routed.model)
	}
	if routed.Kind() != KindOpenRouter {
		t.Errorf("expected kind openrouter, got %s", routed.Kind())
	}
}

func TestNewProvider_Unsupported(t *testing.T) {
	_, err := NewProvider(Kind("anthropic"), Config{})
	var unsupported ErrUnsupportedProvider
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if unsupported.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", unsupported.Provider)
	}
}

func TestNewProvider_GeminiRequiresKey(t *testing.T) {
	_, err := NewProvider(KindGemini, Config{})
	if !IsKind(err, ErrorConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestNewProviders_OrderAndSkipsUnconfigured(t *testing.T) {
	cfg := Config{
		Provider:          KindOpenRouter,
		FallbackProviders: []Kind{KindGemini, KindOpenAI, KindOpenRouter},
		OpenAIAPIKey:      "openai-key",
		OpenRouterAPIKey:  "router-key",
	}
	providers, err := NewProviders(cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0].Kind() != KindOpenRouter || providers[1].Kind() != KindOpenAI {
		t.Errorf("unexpected order: %s, %s", providers[0].Kind(), providers[1].Kind())
	}
}

func TestNewProviders_NoneConfigured(t *testing.T) {
	_, err := NewProviders(Config{Provider: KindOpenAI})
	if !IsKind(err, ErrorConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !errors.Is(err, errNoProviders) {
		t.Errorf("expected errNoProviders, got %v", err)
	}
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		raw   string
		kind  Kind
		model string
	}{
		{raw: "gemini:gemini-2.5-pro", kind: KindGemini, model: "gemini-2.5-pro"},
		{raw: "gemini-2.5-flash", kind: KindGemini, model: "gemini-2.5-flash"},
		{raw: "openrouter:anthropic/claude-sonnet-4", kind: KindOpenRouter, model: "anthropic/claude-sonnet-4"},
		{raw: "meta-llama/llama-3-70b", kind: KindOpenRouter, model: "meta-llama/llama-3-70b"},
		{raw: "gpt-4o", kind: KindOpenAI, model: "gpt-4o"},
		{raw: "o3-mini", kind: KindOpenAI, model: "o3-mini"},
		{raw: "mystery", kind: "", model: "mystery"},
		{raw: "", kind: "", model: ""},
	}
	for _, tt := range tests {
		kind, model := ParseModel(tt.raw)
		if kind != tt.kind || model != tt.model {
			t.Errorf("ParseModel(%q) = (%q, %q), want (%q, %q)", tt.raw, kind, model, tt.kind, tt.model)
		}
	}
}

func TestParseEffort(t *testing.T) {
	if ParseEffort("LOW") != EffortLow {
		t.Error("expected low")
	}
	if ParseEffort(" high ") != EffortHigh {
		t.Error("expected high")
	}
	if ParseEffort("extreme") != EffortMedium {
		t.Error("expected unknown effort to default to medium")
	}
}

func TestParseKind(t *testing.T) {
	if kind, ok := ParseKind("OpenAI"); !ok || kind != KindOpenAI {
		t.Errorf("expected openai, got %q %v", kind, ok)
	}
	if _, ok := ParseKind("codex"); ok {
		t.Error("expected codex to be rejected")
	}
}

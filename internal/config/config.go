package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
)

const (
	StoreModeMemory   = "memory"
	StoreModePostgres = "postgres"
)

type Config struct {
	Port                       string
	EngineURL                  string
	StoreMode                  string
	PostgresURL                string
	WorkflowsEnabled           bool
	TemporalAddress            string
	TemporalTaskQueue          string
	LLMProvider                string
	LLMModel                   string
	LLMFallbackProviders       []string
	GeminiAPIKey               string
	GeminiModel                string
	GeminiBaseURL              string
	OpenAIAPIKey               string
	OpenAIModel                string
	OpenAIBaseURL              string
	OpenRouterAPIKey           string
	OpenRouterModel            string
	ResearchEffort             string
	MaxConcurrentRequests      int
	RateLimitTokensPerMinute   int
	RateLimitRequestsPerMinute int
	RetryMaxRetries            int
	RetryInitialDelay          time.Duration
	RetryMaxDelay              time.Duration
	RetryBackoffFactor         float64
	RetryJitter                float64
	BreakerThreshold           int
	BreakerWindow              time.Duration
	ProviderTimeout            time.Duration
	CacheTTL                   time.Duration
	MemoryTTL                  time.Duration
	LogLevel                   string
	LogFormat                  string
}

func Load() Config {
	port := getEnv("RESEARCH_PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		Port:                       port,
		EngineURL:                  getEnv("RESEARCH_ENGINE_URL", "http://localhost:"+port),
		StoreMode:                  strings.ToLower(getEnv("STORE_MODE", StoreModeMemory)),
		PostgresURL:                postgresURL,
		WorkflowsEnabled:           getEnvBool("WORKFLOWS_ENABLED", false),
		TemporalAddress:            getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue:          getEnv("TEMPORAL_TASK_QUEUE", "research-sessions"),
		LLMProvider:                getEnv("LLM_PROVIDER", "gemini"),
		LLMModel:                   getEnv("LLM_MODEL", "gemini-2.5-flash"),
		LLMFallbackProviders:       getEnvList("LLM_FALLBACK_PROVIDERS", []string{"openai", "openrouter"}),
		GeminiAPIKey:               getEnv("GEMINI_API_KEY", ""),
		GeminiModel:                getEnv("GEMINI_MODEL", ""),
		GeminiBaseURL:              getEnv("GEMINI_BASE_URL", ""),
		OpenAIAPIKey:               getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:                getEnv("OPENAI_MODEL", ""),
		OpenAIBaseURL:              getEnv("OPENAI_BASE_URL", ""),
		OpenRouterAPIKey:           getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterModel:            getEnv("OPENROUTER_MODEL", ""),
		ResearchEffort:             getEnv("RESEARCH_EFFORT", "medium"),
		MaxConcurrentRequests:      getEnvInt("MAX_CONCURRENT_REQUESTS", 2),
		RateLimitTokensPerMinute:   getEnvInt("RATE_LIMIT_TOKENS_PER_MINUTE", 60000),
		RateLimitRequestsPerMinute: getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 30),
		RetryMaxRetries:            getEnvInt("RETRY_MAX_RETRIES", 3),
		RetryInitialDelay:          time.Duration(getEnvInt("RETRY_INITIAL_DELAY_MS", 1000)) * time.Millisecond,
		RetryMaxDelay:              time.Duration(getEnvInt("RETRY_MAX_DELAY_MS", 10000)) * time.Millisecond,
		RetryBackoffFactor:         getEnvFloat("RETRY_BACKOFF_FACTOR", 2),
		RetryJitter:                getEnvFloat("RETRY_JITTER", 0.1),
		BreakerThreshold:           getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerWindow:              time.Duration(getEnvInt("BREAKER_WINDOW_SECONDS", 60)) * time.Second,
		ProviderTimeout:            time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 60)) * time.Second,
		CacheTTL:                   time.Duration(getEnvInt("CACHE_TTL_MINUTES", 30)) * time.Minute,
		MemoryTTL:                  time.Duration(getEnvInt("MEMORY_TTL_HOURS", 24)) * time.Hour,
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "json"),
	}
}

// LLM maps the provider settings onto the adapter configuration. Unknown
// fallback names are dropped; Validate reports them.
func (c Config) LLM() llm.Config {
	cfg := llm.Config{
		Model:            c.LLMModel,
		GeminiAPIKey:     c.GeminiAPIKey,
		GeminiModel:      c.GeminiModel,
		GeminiBaseURL:    c.GeminiBaseURL,
		OpenAIAPIKey:     c.OpenAIAPIKey,
		OpenAIModel:      c.OpenAIModel,
		OpenAIBaseURL:    c.OpenAIBaseURL,
		OpenRouterAPIKey: c.OpenRouterAPIKey,
		OpenRouterModel:  c.OpenRouterModel,
	}
	if kind, ok := llm.ParseKind(c.LLMProvider); ok {
		cfg.Provider = kind
	}
	for _, raw := range c.LLMFallbackProviders {
		if kind, ok := llm.ParseKind(raw); ok {
			cfg.FallbackProviders = append(cfg.FallbackProviders, kind)
		}
	}
	return cfg
}

// Validate fails fast on settings the engine cannot run with. The error is
// an *llm.Error of kind config.
func (c Config) Validate() error {
	var problems []error
	switch c.StoreMode {
	case StoreModeMemory, StoreModePostgres:
	default:
		problems = append(problems, fmt.Errorf("STORE_MODE must be %q or %q, got %q", StoreModeMemory, StoreModePostgres, c.StoreMode))
	}
	if _, ok := llm.ParseKind(c.LLMProvider); !ok {
		problems = append(problems, llm.ErrUnsupportedProvider{Provider: c.LLMProvider})
	}
	for _, raw := range c.LLMFallbackProviders {
		if _, ok := llm.ParseKind(raw); !ok {
			problems = append(problems, llm.ErrUnsupportedProvider{Provider: raw})
		}
	}
	llmConfig := c.LLM()
	usable := false
	for _, kind := range append([]llm.Kind{llmConfig.Provider}, llmConfig.FallbackProviders...) {
		if llmConfig.HasCredentials(kind) {
			usable = true
			break
		}
	}
	if !usable {
		problems = append(problems, errors.New("no configured provider has an API key"))
	}
	for name, value := range map[string]int{
		"MAX_CONCURRENT_REQUESTS":        c.MaxConcurrentRequests,
		"RATE_LIMIT_TOKENS_PER_MINUTE":   c.RateLimitTokensPerMinute,
		"RATE_LIMIT_REQUESTS_PER_MINUTE": c.RateLimitRequestsPerMinute,
		"BREAKER_THRESHOLD":              c.BreakerThreshold,
	} {
		if value <= 0 {
			problems = append(problems, fmt.Errorf("%s must be positive, got %d", name, value))
		}
	}
	if c.RetryMaxRetries < 0 {
		problems = append(problems, fmt.Errorf("RETRY_MAX_RETRIES must not be negative, got %d", c.RetryMaxRetries))
	}
	if len(problems) == 0 {
		return nil
	}
	return &llm.Error{Kind: llm.ErrorConfig, Err: errors.Join(problems...)}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "research")
	password := getEnv("POSTGRES_PASSWORD", "research")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "research")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}

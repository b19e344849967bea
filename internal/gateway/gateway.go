package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/admission"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/metrics"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/resilience"
)

const defaultCallTimeout = 60 * time.Second

// Config tunes the retry policy and the per-attempt deadline.
type Config struct {
	Retry       resilience.RetryConfig
	CallTimeout time.Duration
}

// Usage is the snapshot served by the usage endpoint.
type Usage struct {
	Admission admission.Usage          `json:"admission"`
	Breaker   resilience.BreakerStatus `json:"breaker"`
	Providers []llm.Kind               `json:"providers"`
}

// Gateway is the single path from research code to the providers. A call
// passes the circuit breaker, then the fallback chain, and each provider in
// the chain runs under the retry policy and the admission controller.
type Gateway struct {
	providers   []llm.Provider
	admission   *admission.Controller
	breaker     *resilience.Breaker
	metrics     *metrics.Collector
	logger      *zap.Logger
	retry       resilience.RetryConfig
	callTimeout time.Duration
}

// New builds a Gateway over providers in preference order. A nil controller
// or breaker is replaced by one with default limits.
func New(providers []llm.Provider, controller *admission.Controller, breaker *resilience.Breaker, collector *metrics.Collector, logger *zap.Logger, cfg Config) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if controller == nil {
		controller = admission.NewController(admission.Config{}, logger)
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerConfig{}, logger)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Gateway{
		providers:   providers,
		admission:   controller,
		breaker:     breaker,
		metrics:     collector,
		logger:      logger,
		retry:       cfg.Retry,
		callTimeout: cfg.CallTimeout,
	}
}

// Generate sends prompt to the preferred provider and falls back through the
// rest. opts.Model may carry a "provider:model" selector; the model override is
// only applied to the provider it names.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (llm.Response, error) {
	if g.breaker.ShouldBlock() {
		return llm.Response{}, &llm.Error{Kind: llm.ErrorCircuitOpen, Err: resilience.ErrCircuitOpen}
	}
	preferred, model := llm.ParseModel(opts.Model)
	candidates := g.orderedProviders(preferred)
	if len(candidates) == 0 {
		return llm.Response{}, &llm.Error{Kind: llm.ErrorConfig, Err: errors.New("no LLM providers configured")}
	}

	var resp llm.Response
	err := g.breaker.Execute(func() error {
		var err error
		resp, err = g.generateWithFallback(ctx, candidates, preferred, model, prompt, opts)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return llm.Response{}, &llm.Error{Kind: llm.ErrorCircuitOpen, Err: err}
	}
	return resp, err
}

// generateWithFallback walks candidates in order. The breaker records only
// its final outcome, never the individual provider failures.
func (g *Gateway) generateWithFallback(ctx context.Context, candidates []llm.Provider, preferred llm.Kind, model string, prompt string, opts llm.GenerateOptions) (llm.Response, error) {
	attempted := map[llm.Kind]struct{}{}
	var lastErr error
	for _, provider := range candidates {
		kind := provider.Kind()
		if _, seen := attempted[kind]; seen {
			continue
		}
		attempted[kind] = struct{}{}

		callOpts := opts
		callOpts.Model = ""
		if kind == preferred {
			callOpts.Model = model
		}
		resp, err := g.callProvider(ctx, provider, prompt, callOpts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return llm.Response{}, ctxErr
		}
		var llmErr *llm.Error
		if errors.As(err, &llmErr) && !llmErr.FallsBack() {
			return llm.Response{}, err
		}
		g.logger.Warn("provider failed, trying next",
			zap.String("provider", string(kind)),
			zap.String("kind", string(llm.KindOf(err))),
			zap.Error(err),
		)
		g.metrics.IncFallback()
	}
	return llm.Response{}, &llm.Error{
		Kind: llm.ErrorAllProvidersFailed,
		Err:  fmt.Errorf("%d providers attempted: %w", len(attempted), lastErr),
	}
}

func (g *Gateway) callProvider(ctx context.Context, provider llm.Provider, prompt string, opts llm.GenerateOptions) (llm.Response, error) {
	kind := provider.Kind()
	estimate := admission.EstimateTokens(prompt)
	emptyResponses := 0

	attempt := func(ctx context.Context) (llm.Response, error) {
		var resp llm.Response
		err := g.admission.Do(ctx, estimate, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
			defer cancel()
			started := time.Now()
			generated, err := provider.Generate(callCtx, prompt, opts)
			err = llm.Normalize(kind, err)
			g.metrics.ObserveProviderCall(string(kind), outcome(err), time.Since(started))
			resp = generated
			return err
		})
		switch {
		case err == nil:
			if resp.Provider == "" {
				resp.Provider = kind
			}
			return resp, nil
		case errors.Is(err, admission.ErrCapacityUnavailable):
			return resp, &llm.Error{Kind: llm.ErrorRateLimit, Provider: kind, Err: err}
		case llm.IsKind(err, llm.ErrorEmptyResponse):
			emptyResponses++
			if emptyResponses > 1 {
				return resp, resilience.Permanent(err)
			}
		}
		return resp, err
	}

	return resilience.Retry(ctx, g.retry, attempt, func(attempt int, err error, delay time.Duration) {
		g.metrics.IncRetry(string(kind), string(llm.KindOf(err)))
		g.logger.Info("retrying provider call",
			zap.String("provider", string(kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})
}

func (g *Gateway) orderedProviders(preferred llm.Kind) []llm.Provider {
	if preferred == "" {
		return g.providers
	}
	ordered := make([]llm.Provider, 0, len(g.providers))
	for _, provider := range g.providers {
		if provider.Kind() == preferred {
			ordered = append(ordered, provider)
		}
	}
	for _, provider := range g.providers {
		if provider.Kind() != preferred {
			ordered = append(ordered, provider)
		}
	}
	return ordered
}

func (g *Gateway) Usage() Usage {
	kinds := make([]llm.Kind, 0, len(g.providers))
	for _, provider := range g.providers {
		kinds = append(kinds, provider.Kind())
	}
	return Usage{
		Admission: g.admission.Usage(),
		Breaker:   g.breaker.Status(),
		Providers: kinds,
	}
}

func (g *Gateway) ResetBreaker() {
	g.breaker.Reset()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := llm.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

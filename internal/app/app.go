package app

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/admission"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/api"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/cache"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/gateway"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/healing"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/metrics"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/resilience"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/router"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store/memory"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store/postgres"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/workflows"
)

const metricsNamespace = "research"

var (
	newProviders = llm.NewProviders
	openPostgres = func(conn string) (store.Store, func() error, error) {
		st, err := postgres.New(conn)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
)

// App holds every process-wide service. One App is built per process and
// shared by the API, the worker and the CLI.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	Gateway    *gateway.Gateway
	Router     *router.Router
	Store      store.Store
	Broker     *events.Broker
	Activities *workflows.Activities

	closers []func() error
}

// Build validates cfg and wires providers, admission, breaker, gateway,
// cache, router, store and broker together.
func Build(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	providers, err := newProviders(cfg.LLM())
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}
	kinds := make([]string, 0, len(providers))
	for _, provider := range providers {
		kinds = append(kinds, string(provider.Kind()))
	}
	logger.Info("llm providers configured", zap.Strings("providers", kinds))

	collector := metrics.NewCollector(metricsNamespace)
	controller := admission.NewController(admission.Config{
		TokensPerMinute:   cfg.RateLimitTokensPerMinute,
		RequestsPerMinute: cfg.RateLimitRequestsPerMinute,
		MaxConcurrent:     cfg.MaxConcurrentRequests,
	}, logger)
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: cfg.BreakerThreshold,
		Window:    cfg.BreakerWindow,
	}, logger)
	gw := gateway.New(providers, controller, breaker, collector, logger, gateway.Config{
		Retry: resilience.RetryConfig{
			MaxRetries:    cfg.RetryMaxRetries,
			InitialDelay:  cfg.RetryInitialDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			BackoffFactor: cfg.RetryBackoffFactor,
			JitterFactor:  cfg.RetryJitter,
		},
		CallTimeout: cfg.ProviderTimeout,
	})

	researchRouter := router.New(router.Deps{
		Generator:     gw,
		Cache:         cache.NewResultCache(cfg.CacheTTL, nil),
		Memory:        cache.NewQueryMemory(cfg.MemoryTTL, nil),
		Auditor:       healing.NewAuditor(logger),
		Metrics:       collector,
		Logger:        logger,
		DefaultModel:  cfg.LLMModel,
		DefaultEffort: llm.ParseEffort(cfg.ResearchEffort),
	})

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: collector,
		Gateway: gw,
		Router:  researchRouter,
		Broker:  events.NewBroker(),
	}

	switch cfg.StoreMode {
	case config.StoreModePostgres:
		st, closeStore, err := openPostgres(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		app.Store = st
		app.closers = append(app.closers, closeStore)
	default:
		app.Store = memory.New()
	}
	logger.Info("session store ready", zap.String("mode", cfg.StoreMode))

	app.Activities = workflows.NewActivities(researchRouter, app.Store, app.Broker, logger)
	return app, nil
}

// Server builds the HTTP API. service may be nil, in which case async
// research runs inside the API process.
func (a *App) Server(service api.WorkflowService) *api.Server {
	return api.NewServer(api.Deps{
		Store:     a.Store,
		Broker:    a.Broker,
		Workflows: service,
		Runner:    a.Activities,
		Engine:    a,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	})
}

func (a *App) Usage() gateway.Usage {
	return a.Gateway.Usage()
}

func (a *App) ResetBreaker() {
	a.Gateway.ResetBreaker()
}

func (a *App) ResetCache() {
	a.Router.ResetCache()
}

// Close releases the store connection and flushes the logger.
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

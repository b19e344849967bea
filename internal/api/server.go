package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/gateway"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/metrics"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/workflows"
)

const (
	detachedRunTimeout  = 20 * time.Minute
	defaultPollInterval = 2 * time.Second
	defaultListLimit    = 50
)

type Broker interface {
	Subscribe(ctx context.Context, sessionID string) <-chan events.ProgressEvent
}

type WorkflowService interface {
	StartResearch(ctx context.Context, input workflows.ResearchInput) error
	CancelResearch(ctx context.Context, sessionID string) error
}

// Runner executes a research session in-process. *workflows.Activities
// satisfies it.
type Runner interface {
	RunResearch(ctx context.Context, input workflows.ResearchInput) (workflows.ResearchOutput, error)
}

// Engine exposes provider usage and the resettable process-wide state.
type Engine interface {
	Usage() gateway.Usage
	ResetBreaker()
	ResetCache()
}

type Deps struct {
	Store     store.Store
	Broker    Broker
	Workflows WorkflowService
	Runner    Runner
	Engine    Engine
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

type Server struct {
	store     store.Store
	broker    Broker
	workflows WorkflowService
	runner    Runner
	engine    Engine
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	pollInterval time.Duration
	heartbeat    time.Duration

	runsCtx    context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup
	runsMu     sync.Mutex
	detached   map[string]context.CancelFunc
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	runsCtx, cancelRuns := context.WithCancel(context.Background())
	return &Server{
		store:        deps.Store,
		broker:       deps.Broker,
		workflows:    deps.Workflows,
		runner:       deps.Runner,
		engine:       deps.Engine,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          time.Now,
		pollInterval: defaultPollInterval,
		heartbeat:    15 * time.Second,
		runsCtx:      runsCtx,
		cancelRuns:   cancelRuns,
		detached:     map[string]context.CancelFunc{},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.observeRequests)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/research", s.createResearch)
	r.Get("/sessions", s.listSessions)
	r.Get("/sessions/{id}", s.getSession)
	r.Delete("/sessions/{id}", s.deleteSession)
	r.Get("/sessions/{id}/export", s.exportSession)
	r.Get("/sessions/{id}/statistics", s.sessionStatistics)
	r.Get("/sessions/{id}/events", s.streamEvents)
	r.Get("/usage", s.usage)
	r.Post("/breaker/reset", s.resetBreaker)
	r.Post("/cache/reset", s.resetCache)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

// observeRequests logs each request and records it under its route pattern.
func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), elapsed)
		if shouldSuppressRequestLog(r.Method, route) {
			return
		}
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func shouldSuppressRequestLog(method string, route string) bool {
	if method != http.MethodGet {
		return false
	}
	switch strings.TrimSpace(route) {
	case "/health", "/ready", "/metrics", "/sessions/{id}/events":
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

// ready fails on the store or when no provider is configured. An open
// breaker is reported only.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.engine == nil {
		subsystems["providers"] = subsystemStatus{Status: "skipped"}
	} else {
		usage := s.engine.Usage()
		switch {
		case len(usage.Providers) == 0:
			subsystems["providers"] = subsystemStatus{Status: "error", Error: "no providers configured"}
			overall = http.StatusServiceUnavailable
		case usage.Breaker.State == "open":
			subsystems["providers"] = subsystemStatus{Status: "circuit_open"}
		default:
			subsystems["providers"] = subsystemStatus{Status: "ok"}
		}
	}

	if s.workflows == nil {
		subsystems["workflows"] = subsystemStatus{Status: "skipped"}
	} else {
		subsystems["workflows"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, s.engine.Usage(), http.StatusOK)
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	s.engine.ResetBreaker()
	s.logger.Info("circuit breaker reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resetCache(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	s.engine.ResetCache()
	s.logger.Info("research cache reset")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, then stops detached research runs and
// waits for them to record their outcome.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
		s.Close()
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close cancels detached runs and waits for them to finish.
func (s *Server) Close() {
	s.cancelRuns()
	s.runs.Wait()
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/provenance"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/router"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/workflows"
)

type researchRequest struct {
	Query  string `json:"query"`
	Model  string `json:"model"`
	Effort string `json:"effort"`
	Async  bool   `json:"async"`
}

type sessionResponse struct {
	SessionID string           `json:"session_id"`
	Query     string           `json:"query"`
	Model     string           `json:"model,omitempty"`
	Effort    string           `json:"effort,omitempty"`
	Status    string           `json:"status"`
	Result    *research.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	EventsURL string           `json:"events_url,omitempty"`
	CreatedAt string           `json:"created_at,omitempty"`
	UpdatedAt string           `json:"updated_at,omitempty"`
}

func toSessionResponse(session store.Session) sessionResponse {
	return sessionResponse{
		SessionID: session.ID,
		Query:     session.Query,
		Model:     session.Model,
		Effort:    session.Effort,
		Status:    session.Status,
		Result:    session.Result,
		Error:     session.Error,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
}

// createResearch runs a query synchronously, or in the background when async
// is set. Background runs go to Temporal when workflows are configured and to
// a detached goroutine otherwise.
func (s *Server) createResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		http.Error(w, "query required", http.StatusBadRequest)
		return
	}
	effort, ok := parseEffort(req.Effort)
	if !ok {
		http.Error(w, "effort must be low, medium or high", http.StatusBadRequest)
		return
	}
	model := strings.TrimSpace(req.Model)
	if model != "" {
		if kind, _ := llm.ParseModel(model); kind == "" {
			http.Error(w, "unknown model "+strconv.Quote(model), http.StatusBadRequest)
			return
		}
	}

	now := s.timestamp()
	session := store.Session{
		ID:        uuid.NewString(),
		Query:     query,
		Model:     model,
		Effort:    string(effort),
		Status:    store.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(r.Context(), session); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	input := workflows.ResearchInput{SessionID: session.ID, Query: query, Model: model, Effort: string(effort)}

	if req.Async {
		if err := s.startBackground(r.Context(), input); err != nil {
			s.logger.Error("start research workflow", zap.String("session_id", session.ID), zap.Error(err))
			session.Status = store.StatusFailed
			session.Error = "could not start research: " + err.Error()
			session.UpdatedAt = s.timestamp()
			_ = s.store.UpdateSession(context.WithoutCancel(r.Context()), session)
			http.Error(w, session.Error, http.StatusBadGateway)
			return
		}
		response := toSessionResponse(session)
		response.EventsURL = "/sessions/" + session.ID + "/events"
		writeJSONStatus(w, response, http.StatusAccepted)
		return
	}

	output, err := s.runner.RunResearch(r.Context(), input)
	if err != nil {
		response := toSessionResponse(session)
		response.Status = store.StatusFailed
		response.Error = router.Describe(err)
		writeJSONStatus(w, response, statusForError(err))
		return
	}
	response := toSessionResponse(session)
	response.Status = output.Status
	response.Result = output.Result
	response.UpdatedAt = s.timestamp()
	writeJSONStatus(w, response, http.StatusOK)
}

func (s *Server) startBackground(ctx context.Context, input workflows.ResearchInput) error {
	if s.workflows != nil {
		return s.workflows.StartResearch(ctx, input)
	}
	runCtx, cancel := context.WithTimeout(s.runsCtx, detachedRunTimeout)
	s.runsMu.Lock()
	s.detached[input.SessionID] = cancel
	s.runsMu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			s.runsMu.Lock()
			delete(s.detached, input.SessionID)
			s.runsMu.Unlock()
			cancel()
		}()
		if _, err := s.runner.RunResearch(runCtx, input); err != nil {
			s.logger.Warn("background research failed", zap.String("session_id", input.SessionID), zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	sessions, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		response = append(response, toSessionResponse(session))
	}
	writeJSONStatus(w, map[string]any{"sessions": response}, http.StatusOK)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSONStatus(w, toSessionResponse(*session), http.StatusOK)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	if !session.Terminal() {
		s.cancelSession(r.Context(), session.ID)
	}
	if err := s.store.DeleteSession(r.Context(), session.ID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelSession(ctx context.Context, sessionID string) {
	s.runsMu.Lock()
	cancel, ok := s.detached[sessionID]
	s.runsMu.Unlock()
	if ok {
		cancel()
		return
	}
	if s.workflows != nil {
		if err := s.workflows.CancelResearch(ctx, sessionID); err != nil {
			s.logger.Warn("cancel research workflow", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	format, ok := provenance.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		http.Error(w, "format must be json, markdown, csv or flow", http.StatusBadRequest)
		return
	}
	session, graph, ok := s.loadGraph(w, r)
	if !ok {
		return
	}
	body, err := provenance.Render(graph.ExportData(session.Query, session.ID), format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", "attachment; filename=\"research-"+session.ID+exportExtension(format)+"\"")
	}
	_, _ = w.Write(body)
}

func (s *Server) sessionStatistics(w http.ResponseWriter, r *http.Request) {
	_, graph, ok := s.loadGraph(w, r)
	if !ok {
		return
	}
	writeJSONStatus(w, graph.Statistics(), http.StatusOK)
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	session, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (s *Server) loadGraph(w http.ResponseWriter, r *http.Request) (*store.Session, *provenance.Graph, bool) {
	session, ok := s.loadSession(w, r)
	if !ok {
		return nil, nil, false
	}
	if len(session.Graph) == 0 {
		http.Error(w, "session has no provenance yet", http.StatusConflict)
		return nil, nil, false
	}
	graph, err := provenance.Deserialize(session.Graph, s.now)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	return session, graph, true
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseEffort(raw string) (llm.Effort, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return llm.EffortMedium, true
	}
	effort := llm.ParseEffort(raw)
	return effort, string(effort) == raw
}

func exportExtension(format provenance.Format) string {
	switch format {
	case provenance.FormatMarkdown:
		return ".md"
	case provenance.FormatCSV:
		return ".csv"
	case provenance.FormatFlow:
		return ".mmd"
	default:
		return ".json"
	}
}

// statusForError maps a research failure onto an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, router.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	switch llm.KindOf(err) {
	case llm.ErrorCircuitOpen:
		return http.StatusServiceUnavailable
	case llm.ErrorRateLimit:
		return http.StatusTooManyRequests
	case llm.ErrorConfig:
		return http.StatusInternalServerError
	case llm.ErrorAllProvidersFailed, llm.ErrorAuth, llm.ErrorNetwork, llm.ErrorProvider, llm.ErrorEmptyResponse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

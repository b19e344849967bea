package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/router"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
)

var ErrMissingSessionID = errors.New("session id is required")

// Researcher is satisfied by *router.Router.
type Researcher interface {
	RouteResearchQuery(ctx context.Context, session *router.Session, query string, model string, effort llm.Effort, onProgress router.ProgressFunc) (research.Result, error)
}

// ProgressPublisher is satisfied by *events.Broker.
type ProgressPublisher interface {
	Reporter(sessionID string) func(message string)
	Complete(sessionID string, message string)
	Fail(sessionID string, message string)
}

// Activities runs research sessions and persists their outcome. The API
// calls RunResearch directly for synchronous requests; the worker registers
// the same methods with Temporal.
type Activities struct {
	researcher Researcher
	store      store.Store
	publisher  ProgressPublisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewActivities(researcher Researcher, st store.Store, publisher ProgressPublisher, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		researcher: researcher,
		store:      st,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

func (a *Activities) RunResearch(ctx context.Context, input ResearchInput) (ResearchOutput, error) {
	input.SessionID = strings.TrimSpace(input.SessionID)
	if input.SessionID == "" {
		return ResearchOutput{}, ErrMissingSessionID
	}
	logger := a.logger.With(zap.String("session_id", input.SessionID))

	record, err := a.begin(ctx, input)
	if err != nil {
		return ResearchOutput{}, err
	}

	session := router.NewSession(input.SessionID, a.now)
	result, runErr := a.researcher.RouteResearchQuery(ctx, session, input.Query, input.Model, llm.ParseEffort(input.Effort), a.progress(ctx, input.SessionID))

	graph, err := session.Graph().Serialize()
	if err != nil {
		logger.Warn("serialize provenance graph", zap.Error(err))
	}
	record.Graph = graph
	record.UpdatedAt = a.timestamp()

	// the caller's context may already be cancelled; the outcome is still saved
	persistCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		record.Status = store.StatusFailed
		record.Error = router.Describe(runErr)
		if err := a.store.UpdateSession(persistCtx, record); err != nil {
			logger.Error("persist failed session", zap.Error(err))
		}
		a.fail(input.SessionID, record.Error)
		return ResearchOutput{SessionID: input.SessionID, Status: store.StatusFailed, Error: record.Error}, runErr
	}

	record.Status = store.StatusCompleted
	record.Result = &result
	if err := a.store.UpdateSession(persistCtx, record); err != nil {
		return ResearchOutput{}, fmt.Errorf("persist session %s: %w", input.SessionID, err)
	}
	if a.publisher != nil {
		a.publisher.Complete(input.SessionID, "Research complete")
	}
	return ResearchOutput{SessionID: input.SessionID, Status: store.StatusCompleted, Result: &result}, nil
}

// MarkSessionFailed records a failure that RunResearch could not persist
// itself, such as an activity timeout. Already failed sessions are left as
// they are.
func (a *Activities) MarkSessionFailed(ctx context.Context, input SessionFailureInput) error {
	existing, err := a.store.GetSession(ctx, input.SessionID)
	if err != nil {
		return err
	}
	if existing == nil || existing.Status == store.StatusFailed {
		return nil
	}
	existing.Status = store.StatusFailed
	existing.Error = input.Error
	existing.UpdatedAt = a.timestamp()
	if err := a.store.UpdateSession(ctx, *existing); err != nil {
		return err
	}
	a.fail(input.SessionID, input.Error)
	return nil
}

func (a *Activities) begin(ctx context.Context, input ResearchInput) (store.Session, error) {
	existing, err := a.store.GetSession(ctx, input.SessionID)
	if err != nil {
		return store.Session{}, fmt.Errorf("load session %s: %w", input.SessionID, err)
	}
	now := a.timestamp()
	if existing == nil {
		record := store.Session{
			ID:        input.SessionID,
			Query:     input.Query,
			Model:     input.Model,
			Effort:    string(llm.ParseEffort(input.Effort)),
			Status:    store.StatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.store.CreateSession(ctx, record); err != nil {
			return store.Session{}, fmt.Errorf("create session %s: %w", input.SessionID, err)
		}
		return record, nil
	}
	record := *existing
	record.Status = store.StatusRunning
	record.Error = ""
	record.Result = nil
	record.UpdatedAt = now
	if err := a.store.UpdateSession(ctx, record); err != nil {
		return store.Session{}, fmt.Errorf("mark session %s running: %w", input.SessionID, err)
	}
	return record, nil
}

func (a *Activities) progress(ctx context.Context, sessionID string) router.ProgressFunc {
	var report func(string)
	if a.publisher != nil {
		report = a.publisher.Reporter(sessionID)
	}
	heartbeat := activity.IsActivity(ctx)
	return func(message string) {
		if heartbeat {
			activity.RecordHeartbeat(ctx, message)
		}
		if report != nil {
			report(message)
		}
	}
}

func (a *Activities) fail(sessionID string, message string) {
	if a.publisher != nil {
		a.publisher.Fail(sessionID, message)
	}
}

func (a *Activities) timestamp() string {
	return a.now().UTC().Format(time.RFC3339Nano)
}

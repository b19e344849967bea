package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/store"
)

const (
	RunResearchActivity       = "RunResearch"
	MarkSessionFailedActivity = "MarkSessionFailed"
)

type ResearchInput struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Model     string `json:"model,omitempty"`
	Effort    string `json:"effort,omitempty"`
}

type ResearchOutput struct {
	SessionID string           `json:"session_id"`
	Status    string           `json:"status"`
	Result    *research.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type SessionFailureInput struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// ResearchWorkflow runs one research session as a single activity attempt
// and marks the session failed when that attempt errors.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchOutput, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	var output ResearchOutput
	if err := workflow.ExecuteActivity(ctx, RunResearchActivity, input).Get(ctx, &output); err != nil {
		logger.Error("research activity failed", "session_id", input.SessionID, "error", err)
		failure := SessionFailureInput{
			SessionID: input.SessionID,
			Error:     "research: " + err.Error(),
		}
		if failureErr := workflow.ExecuteActivity(ctx, MarkSessionFailedActivity, failure).Get(ctx, nil); failureErr != nil {
			logger.Error("failed to persist session failure", "session_id", input.SessionID, "error", failureErr)
		}
		return ResearchOutput{SessionID: input.SessionID, Status: store.StatusFailed, Error: err.Error()}, err
	}
	logger.Info("research session finished", "session_id", input.SessionID, "status", output.Status)
	return output, nil
}

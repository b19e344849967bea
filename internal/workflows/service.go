package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
)

const defaultTaskQueue = "research-sessions"

type Service struct {
	client    client.Client
	taskQueue string
}

func NewService(client client.Client, taskQueue string) *Service {
	if taskQueue == "" {
		taskQueue = defaultTaskQueue
	}
	return &Service{client: client, taskQueue: taskQueue}
}

func (s *Service) StartResearch(ctx context.Context, input ResearchInput) error {
	options := client.StartWorkflowOptions{
		ID:        workflowID(input.SessionID),
		TaskQueue: s.taskQueue,
	}
	_, err := s.client.ExecuteWorkflow(ctx, options, ResearchWorkflow, input)
	return err
}

func (s *Service) CancelResearch(ctx context.Context, sessionID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(sessionID), "")
}

func workflowID(sessionID string) string {
	return fmt.Sprintf("research:%s", sessionID)
}

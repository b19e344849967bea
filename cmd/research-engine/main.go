package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/api"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/app"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/logging"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/workflows"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger          = logging.New
	buildApp           = app.Build
	dialTemporal       = client.Dial
	newWorkflowService = func(c client.Client, taskQueue string) api.WorkflowService {
		return workflows.NewService(c, taskQueue)
	}
	newServer = func(a *app.App, service api.WorkflowService) server {
		return a.Server(service)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	var service api.WorkflowService
	if cfg.WorkflowsEnabled {
		workflowClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return err
		}
		if workflowClient != nil {
			defer workflowClient.Close()
		}
		service = newWorkflowService(workflowClient, cfg.TemporalTaskQueue)
		logger.Info("temporal workflows enabled", zap.String("task_queue", cfg.TemporalTaskQueue))
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("research engine listening", zap.String("addr", addr))
	return newServer(engine, service).Start(ctx, addr)
}

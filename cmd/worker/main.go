package main

import (
	"log"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/app"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/logging"
	"github.com/Keyring-Network/keyring-gavryn/research-engine/internal/workflows"
)

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger       = logging.New
	buildApp        = app.Build
	dialTemporal    = client.Dial
	newWorker       = worker.New
	workerInterrupt = worker.InterruptCh
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
	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	engine, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	if cfg.StoreMode != config.StoreModePostgres {
		logger.Warn("worker is using a private in-memory store; sessions will not be visible to the API",
			zap.String("store_mode", cfg.StoreMode))
	}

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.ResearchWorkflow)
	w.RegisterActivity(engine.Activities)

	logger.Info("research worker started", zap.String("task_queue", cfg.TemporalTaskQueue))
	return w.Run(workerInterrupt())
}

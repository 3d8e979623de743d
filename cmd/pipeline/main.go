package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/artifact"
	"github.com/treatment-outcome-server/internal/config"
	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/logging"
	"github.com/treatment-outcome-server/internal/pipeline"
)

func main() {
	dataPath := flag.String("data", "", "raw CSV path (overrides pipeline.raw_data_path)")
	artifactsDir := flag.String("artifacts", "", "artifact output dir (overrides artifacts.dir)")
	flag.Parse()

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	if *dataPath != "" {
		cfg.Pipeline.RawDataPath = *dataPath
	}
	if *artifactsDir != "" {
		cfg.Artifacts.Dir = *artifactsDir
	}

	logger := logging.NewLogger(cfg.Logging)

	contract, err := domain.LoadContract(cfg.Contract.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load schema contract")
	}

	store := artifact.NewStore(cfg.Artifacts.Dir, logger)
	orch := pipeline.NewOrchestrator(contract, cfg.Pipeline, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Interrupt received, aborting run")
		cancel()
	}()

	result, err := orch.Run(ctx)
	if err != nil {
		var dsErr *pipeline.DatasetError
		if errors.As(err, &dsErr) {
			logger.WithField("invalid_rows", len(dsErr.Rows)).Error("Dataset rejected by schema contract")
		} else {
			logger.WithError(err).Error("Training run failed")
		}
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"run_id":  result.RunID,
		"version": result.Manifest.Version,
		"rmse":    result.Metrics.RMSE,
		"mae":     result.Metrics.MAE,
		"r2":      result.Metrics.R2,
	}).Info("Training run succeeded")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/api"
	"github.com/treatment-outcome-server/internal/artifact"
	"github.com/treatment-outcome-server/internal/audit"
	"github.com/treatment-outcome-server/internal/config"
	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/logging"
	"github.com/treatment-outcome-server/internal/service"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := logging.NewLogger(cfg.Logging)

	contract, err := domain.LoadContract(cfg.Contract.Path)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load schema contract")
	}
	logger.WithField("contract_hash", contract.Hash()).Info("Schema contract loaded")

	store := artifact.NewStore(cfg.Artifacts.Dir, logger)
	handle := service.NewModelHandle()

	// A missing artifact set is not fatal: the server starts not-ready and
	// picks up the first trained bundle through the watcher.
	if bundle, manifest, err := store.LoadBundle(contract); err != nil {
		logger.WithError(err).Warn("Model artifacts not loaded, serving not-ready")
	} else if err := handle.Swap(bundle); err != nil {
		logger.WithError(err).Warn("Loaded artifacts rejected, serving not-ready")
	} else {
		logger.WithFields(logrus.Fields{
			"model_version": manifest.Version,
			"created_at":    manifest.CreatedAt,
		}).Info("Model artifacts loaded")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if cfg.Artifacts.WatchEnabled {
		watcher := artifact.NewWatcher(store, contract, handle, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("Artifact watcher stopped")
			}
		}()
	}

	var cache *service.PredictionCache
	if cfg.Cache.Enabled {
		cache, err = service.NewPredictionCache(cfg.Cache.MaxItems)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create prediction cache")
		}
	}

	var auditStore audit.Store
	if cfg.Audit.Enabled {
		switch cfg.Audit.Backend {
		case "postgres":
			auditStore, err = audit.NewPostgresStoreFromURL(cfg.Audit.PostgresURL)
		default:
			auditStore, err = audit.NewSQLiteStore(cfg.Audit.SQLitePath)
		}
		if err != nil {
			logger.WithError(err).Fatal("Failed to open audit store")
		}
		defer auditStore.Close()
	}

	server := api.NewServer(cfg.Server, contract, handle, cache, auditStore, logger)

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting treatment outcome server")

	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"go.unify.dev/uploads/api"
	"go.unify.dev/uploads/config"
	"go.unify.dev/uploads/cron"
	"go.unify.dev/uploads/db"
	"go.unify.dev/uploads/logger"
	"go.unify.dev/uploads/store"
)

func Main() {
	cfg, err := config.NewManager()
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("failed to load config", zap.Error(err))
	}

	log := logger.New(cfg.Config().Core.Log.Level)
	defer func() { _ = log.Sync() }()

	database, err := db.NewDatabase(cfg, log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	core := cfg.Config().Core

	uploadStore, err := store.New(store.Params{
		DB:      database,
		Logger:  log,
		Path:    core.Upload.Directory,
		MaxSize: core.Upload.MaxSizeBytes(),
		BaseURL: fmt.Sprintf("https://%s", core.Domain),
	})
	if err != nil {
		log.Fatal("failed to initialize upload store", zap.Error(err))
	}

	cleanup, err := cron.NewCleanupService(cron.CleanupParams{
		Store:     uploadStore,
		Logger:    log,
		Retention: core.Upload.Retention,
		Interval:  core.Upload.SweepInterval,
		Delay:     core.Upload.SweepDelay,
	})
	if err != nil {
		log.Fatal("failed to initialize cleanup service", zap.Error(err))
	}
	if err := cleanup.Start(); err != nil {
		log.Fatal("failed to start cleanup service", zap.Error(err))
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", core.Port),
		Handler: api.New(uploadStore, log).Routes(core.HTTP.APIKey, core.HTTP.CORSOrigins),
	}

	go func() {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	waitForSignal(log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
	if err := cleanup.Stop(); err != nil {
		log.Error("cleanup service shutdown failed", zap.Error(err))
	}
	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("shutdown complete")
}

package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pos_offline/api"
	"pos_offline/internal/catalog"
	"pos_offline/internal/config"
	"pos_offline/internal/netmon"
	"pos_offline/internal/queue"
	"pos_offline/internal/remote"
	"pos_offline/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("error loading configuration: %v", err))
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Errorf("error creating logger: %v", err))
	}
	defer logger.Sync()

	db, err := store.Open(cfg.Store.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to open durable store", zap.Error(err))
	}
	defer db.Close()

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.SubmitTimeout, logger)
	defer client.Close()

	monitor := netmon.NewMonitor(client, logger, netmon.Options{
		InitialOnline: true,
		ProbeInterval: cfg.Sync.ProbeInterval,
		SlowThreshold: cfg.Sync.SlowThreshold,
	})
	monitor.Start()
	defer monitor.Stop()

	queueCfg := queue.Config{
		RetryCeiling:   cfg.Sync.RetryCeiling,
		SweepInterval:  cfg.Sync.SweepInterval,
		StabilizeDelay: cfg.Sync.StabilizeDelay,
		SubmitTimeout:  cfg.Remote.SubmitTimeout,
	}
	manager := queue.NewManager(db, monitor, logger, queueCfg)
	orch := queue.NewOrchestrator(manager, monitor, client, logger, queueCfg)
	orch.Start()
	defer orch.Stop()

	cache, err := catalog.NewCache(db, client, monitor, logger)
	if err != nil {
		logger.Fatal("failed to build catalog cache", zap.Error(err))
	}

	r := gin.Default()
	api.InitRoutes(r, api.Components{
		Manager:      manager,
		Orchestrator: orch,
		Monitor:      monitor,
		Cache:        cache,
		Logger:       logger,
	})

	if err := r.Run(":" + cfg.Server.Port); err != nil {
		panic(fmt.Errorf("error trying to start server: %v", err))
	}
}

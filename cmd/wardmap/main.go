package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/assign"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/config"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/db"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/jobs"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/logging"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/service"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/state"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/store"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tiles"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore/local"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	directory := state.NewStore(logger)
	svc := service.NewDirectoryService(
		directory,
		store.NewSnapshotStore(database),
		service.Buffers{Cluster: cfg.ClusterBuffer, Region: cfg.RegionBuffer},
		logger,
	)
	defer svc.Close()
	if _, err := svc.Load(ctx); err != nil {
		logger.Error("failed to restore directory", "error", err)
		return
	}

	layers, err := tiles.LoadLayers(cfg.TileLayersFile)
	if err != nil {
		logger.Error("failed to load tile layers", "error", err)
		return
	}
	tileStg, err := local.NewLocalTileStore(cfg.TilePath)
	if err != nil {
		logger.Error("failed to initialize tile store", "error", err)
		return
	}
	tracker, err := tiles.NewTracker(ctx, store.NewMissingTileStore(database), logger)
	if err != nil {
		logger.Error("failed to load missing tiles", "error", err)
		return
	}
	tileSrv := tiles.NewServer(layers, tileStg, nil, tracker, logger)
	if cfg.TileOnline && !cfg.TestMode {
		tileSrv = tiles.NewServer(layers, tileStg, tiles.NewFetcher(cfg.TileRatePerSec, logger), tracker, logger)
	}

	scheduler := jobs.New(ctx, logger)
	if err := scheduler.Add(cfg.AutosaveSchedule, jobs.Job{Name: "autosave", Run: func(ctx context.Context) error {
		_, err := svc.SaveIfDirty(ctx)
		return err
	}}); err != nil {
		logger.Error("failed to schedule autosave", "error", err)
		return
	}
	if err := scheduler.Add("@every 10m", jobs.Job{Name: "revalidate-tiles", Run: func(ctx context.Context) error {
		_, err := tileSrv.Revalidate(ctx)
		return err
	}}); err != nil {
		logger.Error("failed to schedule tile revalidation", "error", err)
		return
	}
	scheduler.Start()

	session := assign.NewSession(directory, svc, logger)
	server := web.NewServer(svc, session, tileSrv, logger)
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}

	scheduler.Stop()
	if err := svc.Save(context.Background()); err != nil {
		logger.Error("final save failed", "error", err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/config"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/logging"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/offline"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tiles"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	defaults := tiles.DefaultCoverage()

	var (
		csvPath    = flag.String("csv", "", "household CSV to plan coverage for")
		missing    = flag.String("missing", "", "missing-tile report to download instead of planning from a CSV")
		outDir     = flag.String("out", cfg.TilePath, "tile directory")
		layersFile = flag.String("layers", cfg.TileLayersFile, "YAML layer definitions (default: built-in street and satellite)")
		only       = flag.String("layer", "", "download only this layer")
		minZoom    = flag.Int("min-zoom", defaults.MinZoom, "lowest zoom level")
		maxZoom    = flag.Int("max-zoom", defaults.MaxZoom, "highest zoom level")
		padding    = flag.Float64("padding", defaults.Padding, "degrees added around the household bounds")
		rate       = flag.Float64("rate", cfg.TileRatePerSec, "maximum requests per second")
		dryRun     = flag.Bool("dry-run", false, "print the plan without downloading")
	)
	flag.Parse()

	if *csvPath == "" && *missing == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, "text", cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	layers, err := tiles.LoadLayers(*layersFile)
	if err != nil {
		log.Fatalf("load layers: %v", err)
	}
	if *only != "" {
		var picked []tiles.Layer
		for _, l := range layers {
			if l.Name == *only {
				picked = append(picked, l)
			}
		}
		if len(picked) == 0 {
			log.Fatalf("unknown layer %q", *only)
		}
		layers = picked
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := offline.Run(ctx, offline.Config{
		CSVPath:       *csvPath,
		MissingReport: *missing,
		TilePath:      *outDir,
		Layers:        layers,
		Coverage:      tiles.CoverageOptions{MinZoom: *minZoom, MaxZoom: *maxZoom, Padding: *padding},
		RatePerSec:    *rate,
		DryRun:        *dryRun,
	}, logger)
	if sum != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
	}
	if err != nil {
		log.Fatalf("download tiles: %v", err)
	}
}

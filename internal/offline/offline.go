// Package offline prepares tile sets for browsing the directory without a
// network connection.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/csvio"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tiles"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore/local"
)

type Config struct {
	// CSVPath lists the households to cover. Ignored when MissingReport is set.
	CSVPath string
	// MissingReport is a report exported by the server; only its tiles are
	// downloaded.
	MissingReport string
	TilePath      string
	Layers        []tiles.Layer
	Coverage      tiles.CoverageOptions
	RatePerSec    float64
	DryRun        bool
	// Client overrides the HTTP client used for downloads.
	Client fetchClient
}

type fetchClient interface {
	Fetch(ctx context.Context, layer tiles.Layer, c tiles.Coord) ([]byte, error)
}

// LayerSummary is the outcome for one layer.
type LayerSummary struct {
	Planned int                 `json:"planned"`
	ByZoom  map[int]int         `json:"by_zoom"`
	Stats   tiles.DownloadStats `json:"stats"`
}

type Summary struct {
	Households int                      `json:"households"`
	Layers     map[string]*LayerSummary `json:"layers"`
}

// Run plans the tiles each layer needs, downloads the ones not yet stored
// and writes a manifest.json per layer.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) (*Summary, error) {
	if len(cfg.Layers) == 0 {
		return nil, errors.New("no tile layers configured")
	}

	plan, households, err := buildPlan(cfg, logger)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Households: households, Layers: make(map[string]*LayerSummary)}
	for _, layer := range cfg.Layers {
		coords := plan(layer)
		sum.Layers[layer.Name] = &LayerSummary{Planned: len(coords), ByZoom: tiles.CountByZoom(coords)}
		logger.Info("tiles planned", "layer", layer.Name, "tiles", len(coords))
	}
	if cfg.DryRun {
		return sum, nil
	}

	stg, err := local.NewLocalTileStore(cfg.TilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile store: %w", err)
	}
	var fetcher fetchClient = tiles.NewFetcher(cfg.RatePerSec, logger)
	if cfg.Client != nil {
		fetcher = cfg.Client
	}
	dl := tiles.NewDownloader(stg, fetcher, nil, logger)

	for _, layer := range cfg.Layers {
		ls := sum.Layers[layer.Name]
		stats, err := dl.Download(ctx, layer, plan(layer), progressLogger(logger, layer.Name))
		ls.Stats = stats
		if err != nil {
			return sum, err
		}

		m, err := tiles.BuildManifest(ctx, stg, layer, time.Now())
		if err != nil {
			return sum, err
		}
		if err := writeJSON(filepath.Join(cfg.TilePath, layer.Name, "manifest.json"), m); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// buildPlan returns the per-layer tile list and the number of households
// it was derived from.
func buildPlan(cfg Config, logger *slog.Logger) (func(tiles.Layer) []tiles.Coord, int, error) {
	if cfg.MissingReport != "" {
		data, err := os.ReadFile(cfg.MissingReport)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read missing-tile report: %w", err)
		}
		var report tiles.Report
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, 0, fmt.Errorf("failed to parse missing-tile report: %w", err)
		}
		byLayer := report.Coords()
		return func(l tiles.Layer) []tiles.Coord { return byLayer[l.Name] }, 0, nil
	}

	points, err := readPoints(cfg.CSVPath, logger)
	if err != nil {
		return nil, 0, err
	}
	coords := tiles.PlanCoverage(points, cfg.Coverage)
	return func(l tiles.Layer) []tiles.Coord {
		out := make([]tiles.Coord, 0, len(coords))
		for _, c := range coords {
			if l.InZoomRange(c.Z) {
				out = append(out, c)
			}
		}
		return out
	}, len(points), nil
}

func readPoints(path string, logger *slog.Logger) ([]geometry.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	households, rowErrs, err := csvio.Read(f)
	if err != nil {
		return nil, err
	}
	for _, re := range rowErrs {
		logger.Warn("skipping row", "error", re)
	}
	points := make([]geometry.Point, 0, len(households))
	for i := range households {
		points = append(points, households[i].Point())
	}
	if len(points) == 0 {
		return nil, errors.New("csv contains no households with coordinates")
	}
	return points, nil
}

func progressLogger(logger *slog.Logger, layer string) tiles.Progress {
	return func(done, total int, stats tiles.DownloadStats) {
		if done%100 == 0 || done == total {
			logger.Info("download progress",
				"layer", layer,
				"done", done,
				"total", total,
				"downloaded", stats.Downloaded,
				"failed", stats.Failed,
			)
		}
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

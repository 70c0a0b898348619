package tiles

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore"
)

// DownloadStats counts the outcome of a download run.
type DownloadStats struct {
	Downloaded  int `json:"downloaded"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Unavailable int `json:"unavailable"`
}

func (s DownloadStats) Total() int {
	return s.Downloaded + s.Skipped + s.Failed + s.Unavailable
}

// Progress is called after each tile with the running stats.
type Progress func(done, total int, stats DownloadStats)

// Downloader fills the tile store from upstream servers.
type Downloader struct {
	store   tilestore.TileStore
	fetcher tileFetcher
	tracker *Tracker
	logger  *slog.Logger
}

// NewDownloader builds a downloader. tracker may be nil; when set, tiles
// that download successfully are cleared from it.
func NewDownloader(store tilestore.TileStore, fetcher tileFetcher, tracker *Tracker, logger *slog.Logger) *Downloader {
	return &Downloader{store: store, fetcher: fetcher, tracker: tracker, logger: logger}
}

// Download fetches every coordinate of layer that is not already stored.
// Individual tile failures are counted, not returned; only context
// cancellation and store listing errors stop the run.
func (d *Downloader) Download(ctx context.Context, layer Layer, coords []Coord, progress Progress) (DownloadStats, error) {
	var stats DownloadStats
	d.logger.Info("tile download started", "layer", layer.Name, "tiles", len(coords))

	for i, c := range coords {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		d.one(ctx, layer, c, &stats)
		if progress != nil {
			progress(i+1, len(coords), stats)
		}
	}

	d.logger.Info("tile download complete",
		"layer", layer.Name,
		"downloaded", stats.Downloaded,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"unavailable", stats.Unavailable,
	)
	return stats, nil
}

func (d *Downloader) one(ctx context.Context, layer Layer, c Coord, stats *DownloadStats) {
	if !layer.InZoomRange(c.Z) || !c.Valid() {
		stats.Skipped++
		return
	}
	key := layer.StorageKey(c)

	ok, err := d.store.Exists(ctx, key)
	if err != nil {
		d.logger.Warn("failed to check tile", "key", key, "error", err)
		stats.Failed++
		return
	}
	if ok {
		stats.Skipped++
		d.markFound(ctx, layer, c)
		return
	}

	data, err := d.fetcher.Fetch(ctx, layer, c)
	if errors.Is(err, ErrTileUnavailable) {
		stats.Unavailable++
		return
	}
	if err != nil {
		d.logger.Warn("tile download failed", "key", key, "error", err)
		stats.Failed++
		return
	}
	if err := d.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		d.logger.Warn("failed to store tile", "key", key, "error", err)
		stats.Failed++
		return
	}
	stats.Downloaded++
	d.markFound(ctx, layer, c)
}

func (d *Downloader) markFound(ctx context.Context, layer Layer, c Coord) {
	if d.tracker == nil {
		return
	}
	if err := d.tracker.MarkFound(ctx, layer.Name, c); err != nil {
		d.logger.Warn("failed to clear missing tile", "layer", layer.Name, "tile", c.Key(), "error", err)
	}
}

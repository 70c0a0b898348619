package tiles

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/metrics"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/store"
)

// missingRepository is the subset of store.MissingTileStore that Tracker
// requires.
type missingRepository interface {
	Add(ctx context.Context, layer string, z, x, y int) error
	Remove(ctx context.Context, layer string, z, x, y int) error
	List(ctx context.Context) ([]*store.MissingTile, error)
	Clear(ctx context.Context, layer string) (int64, error)
}

// Tracker remembers tiles that were requested while unavailable so they can
// be downloaded later.
type Tracker struct {
	mu      sync.Mutex
	repo    missingRepository
	missing map[string]map[Coord]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker loads previously recorded tiles from repo. A nil repo keeps
// the tracker in memory.
func NewTracker(ctx context.Context, repo missingRepository, logger *slog.Logger) (*Tracker, error) {
	t := &Tracker{
		repo:    repo,
		missing: make(map[string]map[Coord]struct{}),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if repo == nil {
		return t, nil
	}

	rows, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load missing tiles: %w", err)
	}
	for _, r := range rows {
		t.set(r.Layer)[Coord{Z: r.Z, X: r.X, Y: r.Y}] = struct{}{}
	}
	t.publish()
	if len(rows) > 0 {
		logger.Info("missing tiles loaded", "count", len(rows))
	}
	return t, nil
}

func (t *Tracker) set(layer string) map[Coord]struct{} {
	s, ok := t.missing[layer]
	if !ok {
		s = make(map[Coord]struct{})
		t.missing[layer] = s
	}
	return s
}

// publish must be called with t.mu held or before t is shared.
func (t *Tracker) publish() {
	for layer, s := range t.missing {
		metrics.MissingTiles.WithLabelValues(layer).Set(float64(len(s)))
	}
}

// MarkMissing records c as unavailable in layer.
func (t *Tracker) MarkMissing(ctx context.Context, layer string, c Coord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.set(layer)
	if _, ok := s[c]; ok {
		return nil
	}
	if t.repo != nil {
		if err := t.repo.Add(ctx, layer, c.Z, c.X, c.Y); err != nil {
			return err
		}
	}
	s[c] = struct{}{}
	t.publish()
	t.logger.Debug("tile missing", "layer", layer, "tile", c.Key())
	return nil
}

// MarkFound forgets c once it is available.
func (t *Tracker) MarkFound(ctx context.Context, layer string, c Coord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.missing[layer]
	if _, ok := s[c]; !ok {
		return nil
	}
	if t.repo != nil {
		if err := t.repo.Remove(ctx, layer, c.Z, c.X, c.Y); err != nil {
			return err
		}
	}
	delete(s, c)
	t.publish()
	return nil
}

func (t *Tracker) IsMissing(layer string, c Coord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.missing[layer][c]
	return ok
}

// Missing returns the missing tiles of layer, sorted.
func (t *Tracker) Missing(layer string) []Coord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := slices.Collect(maps.Keys(t.missing[layer]))
	slices.SortFunc(out, Compare)
	return out
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.missing {
		n += len(s)
	}
	return n
}

// Clear forgets the missing tiles of layer, or all of them when layer is
// empty.
func (t *Tracker) Clear(ctx context.Context, layer string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.repo != nil {
		if _, err := t.repo.Clear(ctx, layer); err != nil {
			return err
		}
	}
	for name, s := range t.missing {
		if layer == "" || name == layer {
			clear(s)
		}
	}
	t.publish()
	return nil
}

type LayerReport struct {
	Count int      `json:"count"`
	Tiles []string `json:"tiles"`
}

// Report is the exported list of tiles to download.
type Report struct {
	Generated    time.Time              `json:"generated"`
	TotalMissing int                    `json:"total_missing"`
	Layers       map[string]LayerReport `json:"layers"`
	ZoomLevels   []int                  `json:"zoom_levels"`
}

func (t *Tracker) Report() *Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &Report{
		Generated:  t.now(),
		Layers:     make(map[string]LayerReport, len(t.missing)),
		ZoomLevels: []int{},
	}
	zooms := make(map[int]struct{})
	for layer, s := range t.missing {
		coords := slices.Collect(maps.Keys(s))
		slices.SortFunc(coords, Compare)
		keys := make([]string, 0, len(coords))
		for _, c := range coords {
			keys = append(keys, c.Key())
			zooms[c.Z] = struct{}{}
		}
		r.Layers[layer] = LayerReport{Count: len(keys), Tiles: keys}
		r.TotalMissing += len(keys)
	}
	r.ZoomLevels = append(r.ZoomLevels, slices.Sorted(maps.Keys(zooms))...)
	return r
}

// Coords flattens a report back into per-layer coordinates, skipping keys
// that do not parse.
func (r *Report) Coords() map[string][]Coord {
	out := make(map[string][]Coord, len(r.Layers))
	for layer, lr := range r.Layers {
		for _, key := range lr.Tiles {
			if c, err := ParseKey(key); err == nil {
				out[layer] = append(out[layer], c)
			}
		}
	}
	return out
}

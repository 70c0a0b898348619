package tiles

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore"
)

// Manifest lists the tiles available offline for one layer.
type Manifest struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Format     string    `json:"format"`
	TileCount  int       `json:"tile_count"`
	Tiles      []string  `json:"tiles"`
	ZoomLevels []int     `json:"zoom_levels"`
	Generated  time.Time `json:"generated"`
}

// BuildManifest lists layer's stored tiles. Keys that do not belong to the
// layer layout are ignored.
func BuildManifest(ctx context.Context, store tilestore.TileStore, layer Layer, now time.Time) (*Manifest, error) {
	keys, err := store.List(ctx, layer.Name+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tiles: %w", layer.Name, err)
	}

	coords := make([]Coord, 0, len(keys))
	for _, key := range keys {
		if c, ok := layer.CoordFromKey(key); ok {
			coords = append(coords, c)
		}
	}
	slices.SortFunc(coords, Compare)

	m := &Manifest{
		Name:      layer.Name,
		Type:      layer.Type,
		Format:    layer.Format,
		TileCount: len(coords),
		Tiles:     make([]string, 0, len(coords)),
		Generated: now.UTC(),
	}
	zooms := make(map[int]struct{})
	for _, c := range coords {
		m.Tiles = append(m.Tiles, c.Key())
		zooms[c.Z] = struct{}{}
	}
	m.ZoomLevels = slices.Sorted(maps.Keys(zooms))
	if m.ZoomLevels == nil {
		m.ZoomLevels = []int{}
	}
	return m, nil
}

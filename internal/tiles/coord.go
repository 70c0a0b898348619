// Package tiles plans, fetches, serves and tracks slippy-map tiles for
// offline use.
package tiles

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
)

const (
	MaxZoom = 22
	// maxLatitude is the Web Mercator limit.
	maxLatitude = 85.05112878
)

// Coord addresses one tile in the XYZ scheme.
type Coord struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// At returns the tile containing p at zoom z.
func At(p geometry.Point, z int) Coord {
	lat := max(-maxLatitude, min(maxLatitude, p.Lat))
	t := maptile.At(orb.Point{p.Lon, lat}, maptile.Zoom(z))
	return Coord{Z: z, X: int(t.X), Y: int(t.Y)}
}

func LonToTileX(lon float64, z int) int {
	return At(geometry.Point{Lon: lon}, z).X
}

func LatToTileY(lat float64, z int) int {
	return At(geometry.Point{Lat: lat}, z).Y
}

// Valid reports whether c lies on the tile grid of its zoom.
func (c Coord) Valid() bool {
	if c.Z < 0 || c.Z > MaxZoom {
		return false
	}
	n := 1 << c.Z
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// Key is the canonical "z/x/y" form used in reports.
func (c Coord) Key() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

func (c Coord) String() string { return c.Key() }

// Bound is the geographic extent of the tile.
func (c Coord) Bound() orb.Bound {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z)).Bound()
}

// ParseKey parses a "z/x/y" key.
func ParseKey(key string) (Coord, error) {
	parts := strings.Split(strings.TrimSpace(key), "/")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("invalid tile key %q", key)
	}
	var nums [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Coord{}, fmt.Errorf("invalid tile key %q: %w", key, err)
		}
		nums[i] = v
	}
	c := Coord{Z: nums[0], X: nums[1], Y: nums[2]}
	if !c.Valid() {
		return Coord{}, fmt.Errorf("tile %s is outside the grid", c.Key())
	}
	return c, nil
}

// Compare orders coordinates by zoom, then x, then y.
func Compare(a, b Coord) int {
	if c := cmp.Compare(a.Z, b.Z); c != 0 {
		return c
	}
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

package tiles

import (
	"slices"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
)

// CoverageOptions bounds a coverage plan.
type CoverageOptions struct {
	MinZoom int
	MaxZoom int
	// Padding widens the household bounds, in degrees.
	Padding float64
}

func DefaultCoverage() CoverageOptions {
	return CoverageOptions{MinZoom: 7, MaxZoom: 16, Padding: 0.01}
}

const (
	overviewMaxZoom = 10
	contextMaxZoom  = 13
	adjacentZoom    = 14
)

// PlanCoverage lists the tiles needed to browse the given households
// offline. Overview zooms cover the whole padded bounds; detail zooms cover
// only the neighbourhood of each household, shrinking as zoom grows. The
// result is sorted and free of duplicates.
func PlanCoverage(points []geometry.Point, opts CoverageOptions) []Coord {
	if len(points) == 0 || opts.MinZoom > opts.MaxZoom {
		return nil
	}
	b := geometry.Bound(points).Pad(opts.Padding)
	nw := geometry.Point{Lat: b.Max.Lat(), Lon: b.Min.Lon()}
	se := geometry.Point{Lat: b.Min.Lat(), Lon: b.Max.Lon()}

	set := make(map[Coord]struct{})
	add := func(c Coord) {
		if c.Valid() {
			set[c] = struct{}{}
		}
	}

	for z := max(opts.MinZoom, 0); z <= min(opts.MaxZoom, MaxZoom); z++ {
		if z <= overviewMaxZoom {
			from, to := At(nw, z), At(se, z)
			for x := from.X; x <= to.X; x++ {
				for y := from.Y; y <= to.Y; y++ {
					add(Coord{Z: z, X: x, Y: y})
				}
			}
			continue
		}
		for _, p := range points {
			c := At(p, z)
			for _, d := range neighbourhood(z) {
				add(Coord{Z: z, X: c.X + d[0], Y: c.Y + d[1]})
			}
		}
	}

	out := make([]Coord, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.SortFunc(out, Compare)
	return out
}

var (
	exactOffsets    = [][2]int{{0, 0}}
	adjacentOffsets = [][2]int{{0, 0}, {-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	ringOffsets     = [][2]int{
		{-1, -1}, {0, -1}, {1, -1},
		{-1, 0}, {0, 0}, {1, 0},
		{-1, 1}, {0, 1}, {1, 1},
	}
)

func neighbourhood(z int) [][2]int {
	switch {
	case z <= contextMaxZoom:
		return ringOffsets
	case z == adjacentZoom:
		return adjacentOffsets
	default:
		return exactOffsets
	}
}

// CountByZoom tallies coords per zoom level.
func CountByZoom(coords []Coord) map[int]int {
	out := make(map[int]int)
	for _, c := range coords {
		out[c.Z]++
	}
	return out
}

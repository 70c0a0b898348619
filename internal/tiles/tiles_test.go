package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
)

func TestAt(t *testing.T) {
	tests := []struct {
		name string
		p    geometry.Point
		z    int
		want Coord
	}{
		{"london z10", geometry.Point{Lat: 51.5074, Lon: -0.1278}, 10, Coord{Z: 10, X: 511, Y: 340}},
		{"z12", geometry.Point{Lat: 40, Lon: -75}, 12, Coord{Z: 12, X: 1194, Y: 1550}},
		{"z15", geometry.Point{Lat: 40, Lon: -75}, 15, Coord{Z: 15, X: 9557, Y: 12405}},
		{"origin z0", geometry.Point{}, 0, Coord{}},
		{"high latitude", geometry.Point{Lat: 80, Lon: 10}, 3, Coord{Z: 3, X: 4, Y: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, At(tt.p, tt.z))
		})
	}

	assert.Equal(t, 1194, LonToTileX(-75, 12))
	assert.Equal(t, 1550, LatToTileY(40, 12))
}

func TestParseKey(t *testing.T) {
	c, err := ParseKey("14/6000/3000")
	require.NoError(t, err)
	assert.Equal(t, Coord{Z: 14, X: 6000, Y: 3000}, c)
	assert.Equal(t, "14/6000/3000", c.Key())

	for _, bad := range []string{"", "14/6000", "a/b/c", "1/2/0", "23/0/0", "3/-1/0"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestCoordBound(t *testing.T) {
	c := At(geometry.Point{Lat: 40, Lon: -75}, 12)
	b := c.Bound()
	assert.True(t, b.Contains(geometry.Point{Lat: 40, Lon: -75}.Orb()))
}

func TestLayerKeys(t *testing.T) {
	layers := DefaultLayers()
	osm, sat := layers[0], layers[1]
	c := Coord{Z: 14, X: 4700, Y: 6100}

	assert.Equal(t, "osm/14/4700/6100.png", osm.StorageKey(c))
	assert.Equal(t, "satellite/14/6100/4700.png", sat.StorageKey(c))
	assert.Equal(t, "https://tile.openstreetmap.org/14/4700/6100.png", osm.TileURL(c))
	assert.Contains(t, sat.TileURL(c), "/tile/14/6100/4700")

	for _, l := range layers {
		got, ok := l.CoordFromKey(l.StorageKey(c))
		require.True(t, ok, l.Name)
		assert.Equal(t, c, got)
	}

	_, ok := osm.CoordFromKey("satellite/14/6100/4700.png")
	assert.False(t, ok)
	_, ok = osm.CoordFromKey("osm/14/4700/6100.jpg")
	assert.False(t, ok)
}

func TestParseLayers(t *testing.T) {
	layers, err := ParseLayers([]byte(`
layers:
  - name: topo
    url: https://example.test/{z}/{x}/{y}.jpg
    format: jpg
    min_zoom: 5
    max_zoom: 12
  - name: aerial
    url: https://example.test/aerial/{z}/{y}/{x}
    path: z/y/x
`))
	require.NoError(t, err)
	require.Len(t, layers, 2)

	assert.Equal(t, Layer{
		Name: "topo", Type: "topo", URL: "https://example.test/{z}/{x}/{y}.jpg",
		Path: PathZXY, Format: "jpg", MinZoom: 5, MaxZoom: 12,
	}, layers[0])
	assert.Equal(t, PathZYX, layers[1].Path)
	assert.Equal(t, "png", layers[1].Format)
	assert.Equal(t, 16, layers[1].MaxZoom)
}

func TestParseLayersErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "layers: []"},
		{"duplicate", "layers:\n  - name: a\n  - name: a\n"},
		{"bad path", "layers:\n  - name: a\n    path: x/y/z\n"},
		{"bad name", "layers:\n  - name: ../a\n"},
		{"bad zoom", "layers:\n  - name: a\n    min_zoom: 10\n    max_zoom: 4\n"},
		{"not yaml", "layers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLayers([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadLayersDefault(t *testing.T) {
	layers, err := LoadLayers("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLayers(), layers)

	_, err = LoadLayers(t.TempDir() + "/absent.yaml")
	assert.Error(t, err)
}

func TestPlanCoverageDetailZooms(t *testing.T) {
	p := geometry.Point{Lat: 40, Lon: -75}
	tests := []struct {
		z    int
		want int
	}{
		{11, 9},
		{13, 9},
		{14, 5},
		{15, 1},
		{16, 1},
	}
	for _, tt := range tests {
		got := PlanCoverage([]geometry.Point{p, p}, CoverageOptions{MinZoom: tt.z, MaxZoom: tt.z, Padding: 0.01})
		assert.Len(t, got, tt.want, "zoom %d", tt.z)
		assert.Contains(t, got, At(p, tt.z))
	}
}

func TestPlanCoverageOverview(t *testing.T) {
	points := []geometry.Point{{Lat: 40, Lon: -75}, {Lat: 40.2, Lon: -74.7}}
	got := PlanCoverage(points, CoverageOptions{MinZoom: 10, MaxZoom: 10, Padding: 0.01})

	nw := At(geometry.Point{Lat: 40.21, Lon: -75.01}, 10)
	se := At(geometry.Point{Lat: 39.99, Lon: -74.69}, 10)
	assert.Len(t, got, (se.X-nw.X+1)*(se.Y-nw.Y+1))
	assert.Equal(t, nw, got[0])
	assert.Equal(t, se, got[len(got)-1])
}

func TestPlanCoverageSortedAndUnique(t *testing.T) {
	points := []geometry.Point{{Lat: 40, Lon: -75}, {Lat: 40.0005, Lon: -75.0005}}
	got := PlanCoverage(points, DefaultCoverage())
	require.NotEmpty(t, got)

	seen := make(map[Coord]bool)
	for i, c := range got {
		assert.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
		if i > 0 {
			assert.Negative(t, Compare(got[i-1], c))
		}
	}
	counts := CountByZoom(got)
	assert.Len(t, counts, 10)
	assert.Equal(t, 7, got[0].Z)
	assert.Equal(t, 16, got[len(got)-1].Z)

	assert.Nil(t, PlanCoverage(nil, DefaultCoverage()))
}

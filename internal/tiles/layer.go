package tiles

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	PathZXY = "z/x/y"
	PathZYX = "z/y/x"
)

// Layer describes one tile source and how its tiles are laid out on disk.
type Layer struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	URL     string `yaml:"url" json:"url"`
	Path    string `yaml:"path" json:"path"`
	Format  string `yaml:"format" json:"format"`
	MinZoom int    `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom int    `yaml:"max_zoom" json:"max_zoom"`
}

func DefaultLayers() []Layer {
	return []Layer{
		{
			Name:    "osm",
			Type:    "street",
			URL:     "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			Path:    PathZXY,
			Format:  "png",
			MinZoom: 7,
			MaxZoom: 16,
		},
		{
			Name:    "satellite",
			Type:    "satellite",
			URL:     "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
			Path:    PathZYX,
			Format:  "png",
			MinZoom: 7,
			MaxZoom: 16,
		},
	}
}

type layerFile struct {
	Layers []Layer `yaml:"layers"`
}

// LoadLayers reads layer definitions from a YAML file. An empty path yields
// DefaultLayers.
func LoadLayers(path string) ([]Layer, error) {
	if path == "" {
		return DefaultLayers(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer file: %w", err)
	}
	return ParseLayers(data)
}

func ParseLayers(data []byte) ([]Layer, error) {
	var f layerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse layer file: %w", err)
	}
	if len(f.Layers) == 0 {
		return nil, errors.New("layer file defines no layers")
	}

	seen := make(map[string]bool, len(f.Layers))
	for i := range f.Layers {
		l := &f.Layers[i]
		l.applyDefaults()
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("duplicate layer %q", l.Name)
		}
		seen[l.Name] = true
	}
	return f.Layers, nil
}

func (l *Layer) applyDefaults() {
	if l.Path == "" {
		l.Path = PathZXY
	}
	if l.Format == "" {
		l.Format = "png"
	}
	if l.MaxZoom == 0 {
		l.MaxZoom = 16
	}
	if l.Type == "" {
		l.Type = l.Name
	}
}

func (l Layer) Validate() error {
	if l.Name == "" || strings.ContainsAny(l.Name, `/\.`) {
		return fmt.Errorf("invalid layer name %q", l.Name)
	}
	if l.Path != PathZXY && l.Path != PathZYX {
		return fmt.Errorf("layer %s: path must be %s or %s", l.Name, PathZXY, PathZYX)
	}
	if l.MinZoom < 0 || l.MaxZoom > MaxZoom || l.MinZoom > l.MaxZoom {
		return fmt.Errorf("layer %s: invalid zoom range %d-%d", l.Name, l.MinZoom, l.MaxZoom)
	}
	return nil
}

// TileURL fills the layer URL template for c.
func (l Layer) TileURL(c Coord) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(c.Z),
		"{x}", strconv.Itoa(c.X),
		"{y}", strconv.Itoa(c.Y),
	).Replace(l.URL)
}

// StorageKey is the tile store key for c, e.g. "satellite/14/6000/3000.png".
func (l Layer) StorageKey(c Coord) string {
	a, b := c.X, c.Y
	if l.Path == PathZYX {
		a, b = c.Y, c.X
	}
	return fmt.Sprintf("%s/%d/%d/%d.%s", l.Name, c.Z, a, b, l.Format)
}

// CoordFromKey reverses StorageKey.
func (l Layer) CoordFromKey(key string) (Coord, bool) {
	rest, ok := strings.CutPrefix(key, l.Name+"/")
	if !ok {
		return Coord{}, false
	}
	rest, ok = strings.CutSuffix(rest, "."+l.Format)
	if !ok {
		return Coord{}, false
	}
	c, err := ParseKey(rest)
	if err != nil {
		return Coord{}, false
	}
	if l.Path == PathZYX {
		c.X, c.Y = c.Y, c.X
	}
	return c, true
}

// InZoomRange reports whether the layer serves zoom z.
func (l Layer) InZoomRange(z int) bool {
	return z >= l.MinZoom && z <= l.MaxZoom
}

package service

import (
	"github.com/paulmach/orb/geojson"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/geometry"
)

// Marker is one household pin.
type Marker struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Color    string  `json:"color"`
	Isolated bool    `json:"isolated"`
	Modified bool    `json:"modified,omitempty"`
}

const (
	KindRegion      = "region"
	KindCluster     = "cluster"
	KindIndependent = "independent"
)

// Boundary is a drawable outline around a region or cluster group.
type Boundary struct {
	Kind       string           `json:"kind"`
	RegionID   string           `json:"regionId,omitempty"`
	RegionName string           `json:"regionName,omitempty"`
	ClusterID  int              `json:"clusterId,omitempty"`
	Color      string           `json:"color"`
	Dashed     bool             `json:"dashed,omitempty"`
	Count      int              `json:"count"`
	Polygon    geometry.Polygon `json:"polygon"`
}

// Markers colours each household by its region. Independent households use
// the independent colour and isolated ones the isolated colour.
func (s *DirectoryService) Markers(f domain.Filters) []Marker {
	colors := make(map[string]string)
	for _, r := range s.store.Regions() {
		colors[r.Name] = r.Color
	}

	households := s.store.FilterHouseholds(f)
	out := make([]Marker, 0, len(households))
	for _, h := range households {
		m := Marker{
			ID:       h.ID,
			Name:     h.Name,
			Lat:      h.Lat,
			Lon:      h.Lon,
			Isolated: h.IsIsolated(),
			Modified: s.store.IsModified(h.ID),
		}
		switch {
		case h.IsIsolated():
			m.Color = domain.IsolatedColor
		case h.IsIndependent():
			m.Color = domain.IndependentColor
		default:
			m.Color = colors[h.RegionName]
		}
		out = append(out, m)
	}
	return out
}

// Boundaries returns region outlines followed by cluster outlines. The
// result is cached until the directory changes.
func (s *DirectoryService) Boundaries() []Boundary {
	s.mu.Lock()
	if !s.stale {
		out := s.boundaries
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()
	return s.rebuildBoundaries()
}

// RefreshBoundaries recomputes every outline from the current aggregates.
func (s *DirectoryService) RefreshBoundaries() {
	s.rebuildBoundaries()
}

func (s *DirectoryService) rebuildBoundaries() []Boundary {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	out := []Boundary{}
	for _, r := range s.store.Regions() {
		pg := geometry.ComputeBoundary(r.Points, s.buffers.Region)
		if len(pg) == 0 {
			continue
		}
		out = append(out, Boundary{
			Kind:       KindRegion,
			RegionID:   r.ID,
			RegionName: r.Name,
			Color:      r.Color,
			Count:      r.Count,
			Polygon:    pg,
		})
	}
	for _, g := range s.store.ClusterGroups() {
		pg := geometry.ComputeBoundary(g.Points, s.buffers.Cluster)
		if len(pg) == 0 {
			continue
		}
		b := Boundary{
			Kind:       KindCluster,
			RegionID:   g.RegionID,
			RegionName: g.RegionName,
			ClusterID:  g.ClusterID,
			Color:      g.Color,
			Count:      g.Count,
			Polygon:    pg,
		}
		if g.Independent() {
			b.Kind = KindIndependent
			b.Dashed = true
		}
		out = append(out, b)
	}

	s.mu.Lock()
	if s.generation == gen {
		s.boundaries = out
		s.stale = false
	}
	s.mu.Unlock()
	return out
}

// BoundariesGeoJSON renders Boundaries as polygon features.
func (s *DirectoryService) BoundariesGeoJSON() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, b := range s.Boundaries() {
		f := geojson.NewFeature(b.Polygon.Orb())
		f.Properties["kind"] = b.Kind
		f.Properties["color"] = b.Color
		f.Properties["count"] = b.Count
		f.Properties["dashed"] = b.Dashed
		if b.RegionName != "" {
			f.Properties["regionId"] = b.RegionID
			f.Properties["regionName"] = b.RegionName
		}
		if b.ClusterID > 0 {
			f.Properties["clusterId"] = b.ClusterID
		}
		fc.Append(f)
	}
	return fc
}

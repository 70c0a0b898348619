package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Orb converts p to an orb point (lon, lat order).
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func FromOrb(p orb.Point) Point {
	return Point{Lat: p.Lat(), Lon: p.Lon()}
}

// Ring returns the polygon as a closed orb ring.
func (pg Polygon) Ring() orb.Ring {
	if len(pg) == 0 {
		return nil
	}
	ring := make(orb.Ring, 0, len(pg)+1)
	for _, p := range pg {
		ring = append(ring, p.Orb())
	}
	return append(ring, pg[0].Orb())
}

func (pg Polygon) Orb() orb.Polygon {
	return orb.Polygon{pg.Ring()}
}

// Centroid returns the area centroid of the polygon.
func (pg Polygon) Centroid() Point {
	c, _ := planar.CentroidArea(pg.Orb())
	return FromOrb(c)
}

// Bound returns the bounding box of points.
func Bound(points []Point) orb.Bound {
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, p.Orb())
	}
	return mp.Bound()
}

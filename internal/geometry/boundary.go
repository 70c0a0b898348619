// Package geometry computes buffered boundary polygons around household point
// sets. Coordinates are degrees; longitude offsets are scaled by 1/cos(lat) so
// shapes stay roughly round at neighborhood scale.
package geometry

import (
	"cmp"
	"math"
	"slices"
)

const (
	// DefaultClusterBuffer is roughly 100m at mid latitudes.
	DefaultClusterBuffer = 0.001
	// DefaultRegionBuffer keeps region outlines outside their cluster outlines.
	DefaultRegionBuffer = DefaultClusterBuffer * 1.5

	circleSegments = 16
	arcSegments    = 8

	// collinearTolerance is the sine of the smallest turn the hull keeps.
	// Decimal-degree input that is collinear on paper still leaves rounding
	// noise around 1e-10.
	collinearTolerance = 1e-7
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Polygon is an open ring of vertices; renderers close it.
type Polygon []Point

// ComputeBoundary returns a polygon enclosing points with the given buffer
// distance. One point yields a circle, two a capsule, and three or more a
// buffered convex hull. It returns nil for empty input and for degenerate hulls.
func ComputeBoundary(points []Point, buffer float64) Polygon {
	switch len(points) {
	case 0:
		return nil
	case 1:
		return circle(points[0], buffer)
	case 2:
		return capsule(points[0], points[1], buffer)
	}

	hull := ConvexHull(points)
	if len(hull) < 3 {
		return nil
	}

	n := len(hull)
	var out Polygon
	for i := range hull {
		prev := hull[(i-1+n)%n]
		next := hull[(i+1)%n]
		out = append(out, offsetVertex(prev, hull[i], next, buffer)...)
	}
	if len(out) < 3 {
		return nil
	}
	return out
}

// ConvexHull returns the hull of points using the monotone chain algorithm,
// sorted by (lat, lon). Duplicate points and points collinear within
// collinearTolerance are dropped, so the result may have fewer than three
// vertices.
func ConvexHull(points []Point) []Point {
	pts := slices.Clone(points)
	slices.SortFunc(pts, func(a, b Point) int {
		if c := cmp.Compare(a.Lat, b.Lat); c != 0 {
			return c
		}
		return cmp.Compare(a.Lon, b.Lon)
	})
	if len(pts) < 3 {
		return pts
	}

	lower := make([]Point, 0, len(pts))
	for _, p := range pts {
		for len(lower) >= 2 && !turnsLeft(lower[len(lower)-2], lower[len(lower)-1], p) {
			lower = lower[:len(lower)-1]
		}
		lower = append(lower, p)
	}

	upper := make([]Point, 0, len(pts))
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		for len(upper) >= 2 && !turnsLeft(upper[len(upper)-2], upper[len(upper)-1], p) {
			upper = upper[:len(upper)-1]
		}
		upper = append(upper, p)
	}

	hull := make([]Point, 0, len(lower)+len(upper)-2)
	hull = append(hull, lower[:len(lower)-1]...)
	hull = append(hull, upper[:len(upper)-1]...)
	return hull
}

// turnsLeft reports whether o→a→b is a counter-clockwise turn by more than
// collinearTolerance, relative to the segment lengths.
func turnsLeft(o, a, b Point) bool {
	scale := math.Hypot(a.Lat-o.Lat, a.Lon-o.Lon) * math.Hypot(b.Lat-o.Lat, b.Lon-o.Lon)
	return cross(o, a, b) > collinearTolerance*scale
}

func cross(o, a, b Point) float64 {
	return (a.Lat-o.Lat)*(b.Lon-o.Lon) - (a.Lon-o.Lon)*(b.Lat-o.Lat)
}

func lonScale(lat float64) float64 {
	return 1 / math.Cos(lat*math.Pi/180)
}

// displace moves p by d along the unit direction (dx east, dy north).
func displace(p Point, dx, dy, d float64) Point {
	return Point{
		Lat: p.Lat + dy*d,
		Lon: p.Lon + dx*d*lonScale(p.Lat),
	}
}

func circle(center Point, buffer float64) Polygon {
	out := make(Polygon, 0, circleSegments)
	for i := 0; i < circleSegments; i++ {
		a := float64(i) / circleSegments * 2 * math.Pi
		out = append(out, displace(center, math.Cos(a), math.Sin(a), buffer))
	}
	return out
}

// capsule joins a half circle behind p1 and a half circle ahead of p2.
func capsule(p1, p2 Point, buffer float64) Polygon {
	dx := p2.Lon - p1.Lon
	dy := p2.Lat - p1.Lat
	length := math.Hypot(dx, dy)
	if length == 0 {
		return circle(p1, buffer)
	}
	ux, uy := dx/length, dy/length

	out := make(Polygon, 0, 2*(arcSegments+1))
	for _, end := range []struct {
		p     Point
		start float64
	}{{p1, 0.5}, {p2, 1.5}} {
		for i := 0; i <= arcSegments; i++ {
			a := math.Pi * (end.start + float64(i)/arcSegments)
			ox, oy := math.Cos(a), math.Sin(a)
			out = append(out, displace(end.p, ox*ux-oy*uy, ox*uy+oy*ux, buffer))
		}
	}
	return out
}

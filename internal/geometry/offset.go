package geometry

import "math"

const (
	sharpHalfAngle  = math.Pi / 8
	acuteHalfAngle  = math.Pi / 6
	roundHalfAngle  = math.Pi / 3
	roundStepAngle  = math.Pi / 12
	sharpArcRadius  = 1.5
	roundArcRadius  = 1.2
	acuteMiterScale = 2.0
	maxMiterScale   = 3.0
)

// offsetVertex expands one hull vertex outward. prev and next are its hull
// neighbours in traversal order. Edges are measured in (lon, lat) space and
// the hull is clockwise there, so left normals point outward.
//
// halfAngle is half the interior angle at curr:
//   - below pi/8 the corner is replaced by an arc of radius 1.5*buffer;
//   - below pi/6 the miter is fixed at 2*buffer;
//   - otherwise the miter is buffer/sin(halfAngle), capped at 3*buffer;
//   - below pi/3 extra points at 1.2*buffer round the corner on both sides
//     of the miter point.
//
// A zero-length adjacent edge yields no points.
func offsetVertex(prev, curr, next Point, buffer float64) []Point {
	v1x, v1y := curr.Lon-prev.Lon, curr.Lat-prev.Lat
	v2x, v2y := next.Lon-curr.Lon, next.Lat-curr.Lat
	len1 := math.Hypot(v1x, v1y)
	len2 := math.Hypot(v2x, v2y)
	if len1 == 0 || len2 == 0 {
		return nil
	}

	n1x, n1y := -v1y/len1, v1x/len1
	n2x, n2y := -v2y/len2, v2x/len2

	bx, by := n1x+n2x, n1y+n2y
	if bl := math.Hypot(bx, by); bl == 0 {
		bx, by = n1x, n1y
	} else {
		bx, by = bx/bl, by/bl
	}

	dot := (v1x*v2x + v1y*v2y) / (len1 * len2)
	halfAngle := (math.Pi - math.Acos(math.Max(-1, math.Min(1, dot)))) / 2

	if halfAngle < sharpHalfAngle {
		return cornerArc(curr, n1x, n1y, n2x, n2y, sharpArcRadius*buffer)
	}

	var d float64
	if halfAngle < acuteHalfAngle {
		d = acuteMiterScale * buffer
	} else {
		d = math.Min(buffer/math.Sin(halfAngle), maxMiterScale*buffer)
	}
	miter := displace(curr, bx, by, d)

	if halfAngle >= roundHalfAngle {
		return []Point{miter}
	}

	steps := int(math.Ceil((roundHalfAngle-halfAngle)/roundStepAngle)) + 1
	out := make([]Point, 0, steps)
	placed := false
	for j := 1; j < steps; j++ {
		t := float64(j) / float64(steps)
		if !placed && t >= 0.5 {
			out = append(out, miter)
			placed = true
		}
		mx := n1x*(1-t) + n2x*t
		my := n1y*(1-t) + n2y*t
		ml := math.Hypot(mx, my)
		if ml == 0 {
			continue
		}
		out = append(out, displace(curr, mx/ml, my/ml, roundArcRadius*buffer))
	}
	if !placed {
		out = append(out, miter)
	}
	return out
}

// cornerArc sweeps from n1 to n2 along the shorter direction.
func cornerArc(center Point, n1x, n1y, n2x, n2y, radius float64) []Point {
	start := math.Atan2(n1y, n1x)
	diff := math.Atan2(n2y, n2x) - start
	if diff > math.Pi {
		diff -= 2 * math.Pi
	}
	if diff < -math.Pi {
		diff += 2 * math.Pi
	}

	out := make([]Point, 0, arcSegments+1)
	for j := 0; j <= arcSegments; j++ {
		a := start + float64(j)/arcSegments*diff
		out = append(out, displace(center, math.Cos(a), math.Sin(a), radius))
	}
	return out
}

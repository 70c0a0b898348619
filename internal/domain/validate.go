package domain

import (
	"math"
	"strings"
)

// Validate checks the fields a household must carry to be placed on the map.
// All problems are reported together.
func (h *Household) Validate() error {
	var msgs []string

	if strings.TrimSpace(h.Name) == "" {
		msgs = append(msgs, "household name is required")
	}

	msgs = append(msgs, checkCoordinate("latitude", h.Lat, 90)...)
	msgs = append(msgs, checkCoordinate("longitude", h.Lon, 180)...)
	if h.Lat == 0 && h.Lon == 0 {
		msgs = append(msgs, "coordinates must not be 0,0")
	}

	if h.ClusterID < 0 {
		msgs = append(msgs, "cluster id must not be negative")
	}

	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

func checkCoordinate(name string, v, limit float64) []string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []string{name + " must be a finite number"}
	}
	if v < -limit || v > limit {
		return []string{name + " is out of range"}
	}
	return nil
}

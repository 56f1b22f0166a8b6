package registry

import "firealert/backend/util"

// FindNearest returns the responder closest to point by great-circle
// distance, or nil when no responder has coordinates. Ties keep the first.
func FindNearest(responders []Responder, point Coords) *Responder {
	var (
		best     *Responder
		bestDist float64
	)
	for i := range responders {
		c := responders[i].Coords
		if c == nil {
			continue
		}
		d := util.HaversineKm(point.Lat, point.Lng, c.Lat, c.Lng)
		if best == nil || d < bestDist {
			best = &responders[i]
			bestDist = d
		}
	}
	return best
}

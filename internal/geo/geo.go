// README: Pure great-circle distance and proximity helpers shared by verification and telework detection.
package geo

import (
	"math"

	"carpool/internal/types"
)

const earthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two points in meters.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)
	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Within reports whether a and b are strictly closer than meters.
func Within(a, b types.Point, meters float64) bool {
	return HaversineMeters(a, b) < meters
}

// DistanceToSegmentMeters returns the shortest distance from p to the segment a-b.
// It projects onto a local equirectangular plane centred on p. The error stays
// well under a percent for commute-length segments (tens of kilometres), which
// is enough for reporting how far a drop-off strayed from the offered route.
func DistanceToSegmentMeters(p, a, b types.Point) float64 {
	ax, ay := project(p, a)
	bx, by := project(p, b)
	dx, dy := bx-ax, by-ay

	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(ax, ay)
	}
	// p sits at the origin of the projection.
	t := -(ax*dx + ay*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(ax+t*dx, ay+t*dy)
}

func project(origin, q types.Point) (x, y float64) {
	x = degreesToRadians(q.Lng-origin.Lng) * math.Cos(degreesToRadians(origin.Lat)) * earthRadiusMeters
	y = degreesToRadians(q.Lat-origin.Lat) * earthRadiusMeters
	return x, y
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

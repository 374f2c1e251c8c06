package domain

import "math"

const earthRadiusMeters = 6_371_000

// DistanceMeters is the haversine great-circle distance between two points.
// Good to well under a meter at the ~100m scales dedupe cares about.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BBoxAround returns the box of points within radiusMeters of the center,
// clamped to valid coordinate space. Used to pre-filter proximity lookups
// before exact distance checks.
func BBoxAround(lat, lng, radiusMeters float64) BBox {
	dLat := radiusMeters / earthRadiusMeters * 180 / math.Pi
	// Longitude degrees shrink with latitude; guard the poles.
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 1e-6 {
		cos = 1e-6
	}
	dLng := dLat / cos
	b := BBox{West: lng - dLng, South: lat - dLat, East: lng + dLng, North: lat + dLat}
	if b.South < -90 {
		b.South = -90
	}
	if b.North > 90 {
		b.North = 90
	}
	if b.West < -180 {
		b.West = -180
	}
	if b.East > 180 {
		b.East = 180
	}
	return b
}

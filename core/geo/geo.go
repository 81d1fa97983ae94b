// Package geo provides the great-circle math backing the proximity index.
package geo

import (
	"math"
	"math/rand"

	"github.com/kilianp07/hemolink/core/model"
)

// EarthRadiusKm is the mean sphere radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// kmPerDegree approximates one degree of latitude. Used for bounding boxes
// and request jitter; exact enough at the engine's 200 km radius cap.
const kmPerDegree = 111.0

// DistanceKm returns the haversine great-circle distance between two points.
func DistanceKm(a, b model.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox returns the lat/lng envelope containing the radius around the
// center. The store uses it as a prefilter before exact distance checks.
// Longitude spread widens with latitude; near the poles, or when the envelope
// would cross the antimeridian, it degrades to the full longitude range so
// the prefilter never excludes a reachable point.
func BoundingBox(center model.GeoPoint, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusKm / kmPerDegree
	minLat = center.Lat - dLat
	maxLat = center.Lat + dLat

	cos := math.Cos(center.Lat * math.Pi / 180)
	if cos < 0.01 {
		return minLat, maxLat, -180, 180
	}
	dLng := radiusKm / (kmPerDegree * cos)
	minLng = center.Lng - dLng
	maxLng = center.Lng + dLng
	if minLng < -180 || maxLng > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLng, maxLng
}

// Jitter displaces a point by up to radiusKm on each axis. Used for simulated
// demo requests so they do not stack on the hospital marker. The top-level
// rand functions are safe for concurrent callers.
func Jitter(p model.GeoPoint, radiusKm float64) model.GeoPoint {
	return model.GeoPoint{
		Lat: p.Lat + (rand.Float64()-0.5)*(radiusKm/kmPerDegree)*2,
		Lng: p.Lng + (rand.Float64()-0.5)*(radiusKm/kmPerDegree)*2,
	}
}

package geo

import (
	"math"

	"github.com/carpoolhq/backend/pkg/models"
)

// PerpDistanceKm returns the shortest great-circle distance in km from point
// to the segment [segStart, segEnd] (spec §4.1). Great-circle geometry has
// no closed-form perpendicular projection, so the segment is treated as
// locally flat: point is projected onto the segment in an equirectangular
// approximation, clamped to the endpoints, and the haversine distance from
// point to the projection is returned. This is accurate for the short
// (city-scale) segments driver routes consist of.
func PerpDistanceKm(point, segStart, segEnd models.Location) float64 {
	if segStart.Latitude == segEnd.Latitude && segStart.Longitude == segEnd.Longitude {
		return Haversine(point.Latitude, point.Longitude, segStart.Latitude, segStart.Longitude)
	}

	// Equirectangular projection, scaled by cos(meanLat) so that x and y are
	// both in "km-equivalent degrees" before projecting.
	meanLat := (segStart.Latitude + segEnd.Latitude + point.Latitude) / 3
	cosLat := math.Cos(meanLat * math.Pi / 180.0)

	ax, ay := segStart.Longitude*cosLat, segStart.Latitude
	bx, by := segEnd.Longitude*cosLat, segEnd.Latitude
	px, py := point.Longitude*cosLat, point.Latitude

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy

	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	projLng := segStart.Longitude + t*(segEnd.Longitude-segStart.Longitude)
	projLat := segStart.Latitude + t*(segEnd.Latitude-segStart.Latitude)

	return Haversine(point.Latitude, point.Longitude, projLat, projLng)
}

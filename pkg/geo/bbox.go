package geo

import (
	"math"

	"github.com/carpoolhq/backend/pkg/models"
)

// kmPerDegreeLat is the constant distance, in km, of one degree of latitude.
const kmPerDegreeLat = 111.0

// BoundingBox computes the axis-aligned lat/lng rectangle enclosing pts,
// padded by padKm on every side (spec §4.1). Latitude padding is a constant
// padKm/111; longitude padding is corrected for the shrinking of a degree of
// longitude away from the equator using the mean latitude of pts.
func BoundingBox(pts []models.Location, padKm float64) models.BoundingBox {
	if len(pts) == 0 {
		return models.BoundingBox{}
	}

	minLat, maxLat := pts[0].Latitude, pts[0].Latitude
	minLng, maxLng := pts[0].Longitude, pts[0].Longitude
	sumLat := 0.0
	for _, p := range pts {
		if p.Latitude < minLat {
			minLat = p.Latitude
		}
		if p.Latitude > maxLat {
			maxLat = p.Latitude
		}
		if p.Longitude < minLng {
			minLng = p.Longitude
		}
		if p.Longitude > maxLng {
			maxLng = p.Longitude
		}
		sumLat += p.Latitude
	}

	meanLat := sumLat / float64(len(pts))
	latPad := padKm / kmPerDegreeLat
	lngDenom := kmPerDegreeLat * math.Cos(meanLat*math.Pi/180.0)
	lngPad := padKm
	if math.Abs(lngDenom) > 1e-9 {
		lngPad = padKm / lngDenom
	}

	return models.BoundingBox{
		MinLat: minLat - latPad,
		MaxLat: maxLat + latPad,
		MinLng: minLng - lngPad,
		MaxLng: maxLng + lngPad,
	}
}

// Contains reports whether p falls within the box.
func Contains(box models.BoundingBox, p models.Location) bool {
	return p.Latitude >= box.MinLat && p.Latitude <= box.MaxLat &&
		p.Longitude >= box.MinLng && p.Longitude <= box.MaxLng
}

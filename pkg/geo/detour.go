package geo

import (
	"github.com/carpoolhq/backend/pkg/models"
)

// routeLengthKm sums the haversine distance of consecutive points.
func routeLengthKm(route []models.Location) float64 {
	total := 0.0
	for i := 1; i < len(route); i++ {
		total += Haversine(route[i-1].Latitude, route[i-1].Longitude, route[i].Latitude, route[i].Longitude)
	}
	return total
}

// nearestInsertionIndex returns the index of the route point nearest to p;
// callers insert p right after it (nearest-neighbour insertion).
func nearestInsertionIndex(route []models.Location, p models.Location) int {
	if len(route) == 0 {
		return 0
	}
	best := 0
	bestDist := Haversine(route[0].Latitude, route[0].Longitude, p.Latitude, p.Longitude)
	for i := 1; i < len(route); i++ {
		d := Haversine(route[i].Latitude, route[i].Longitude, p.Latitude, p.Longitude)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// insertRider re-sequences pickup/dropoff into route using nearest-neighbour
// insertion, keeping pickup before dropoff.
func insertRider(route []models.Location, pickup, dropoff models.Location) []models.Location {
	withPickup := make([]models.Location, len(route))
	copy(withPickup, route)

	pickupAt := nearestInsertionIndex(withPickup, pickup)
	withPickup = insertAt(withPickup, pickupAt+1, pickup)

	dropoffAt := nearestInsertionIndex(withPickup, dropoff)
	if dropoffAt <= pickupAt+1 {
		dropoffAt = pickupAt + 1
	}
	withPickup = insertAt(withPickup, dropoffAt+1, dropoff)

	return withPickup
}

func insertAt(route []models.Location, at int, p models.Location) []models.Location {
	if at >= len(route) {
		return append(route, p)
	}
	out := make([]models.Location, 0, len(route)+1)
	out = append(out, route[:at]...)
	out = append(out, p)
	out = append(out, route[at:]...)
	return out
}

// DetourMinutes estimates the extra driving time, in minutes, that inserting
// a rider's pickup->dropoff segment into the driver's route costs, at
// avgSpeedKmH (spec §4.1). The rider's pickup and dropoff are re-sequenced
// into route's stop order by nearest-neighbour insertion before measuring.
func DetourMinutes(route []models.Location, pickup, dropoff models.Location, avgSpeedKmH float64) float64 {
	if avgSpeedKmH <= 0 {
		return 0
	}
	if len(route) == 0 {
		route = []models.Location{pickup}
	}

	baseLen := routeLengthKm(route)
	withRider := insertRider(route, pickup, dropoff)
	insertedLen := routeLengthKm(withRider)

	extraKm := insertedLen - baseLen
	if extraKm < 0 {
		extraKm = 0
	}

	return (extraKm / avgSpeedKmH) * 60
}

package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carpoolhq/backend/pkg/models"
)

func TestHaversine(t *testing.T) {
	// Johannesburg CBD to Sandton, roughly 11km apart.
	d := Haversine(-26.2041, 28.0473, -26.1076, 28.0567)
	assert.InDelta(t, 10.7, d, 1.0)
}

func TestBoundingBoxContainsPadded(t *testing.T) {
	pts := []models.Location{
		{Latitude: -26.20, Longitude: 28.05},
		{Latitude: -26.11, Longitude: 28.06},
	}
	box := BoundingBox(pts, 1.0)

	assert.True(t, box.MinLat < -26.20)
	assert.True(t, box.MaxLat > -26.11)
	assert.True(t, Contains(box, models.Location{Latitude: -26.15, Longitude: 28.055}))
	assert.False(t, Contains(box, models.Location{Latitude: -20.0, Longitude: 28.055}))
}

func TestBoundingBoxEmpty(t *testing.T) {
	assert.Equal(t, models.BoundingBox{}, BoundingBox(nil, 5))
}

func TestPolylineRoundTrip(t *testing.T) {
	// Values chosen to round cleanly at precision 6 so the round trip is exact.
	pts := []models.Location{
		{Latitude: 38.500000, Longitude: -120.200000},
		{Latitude: 40.700000, Longitude: -120.950000},
		{Latitude: 43.252000, Longitude: -126.453000},
	}

	encoded := EncodePolyline(pts)
	require.NotEmpty(t, encoded)

	decoded := DecodePolyline(encoded)
	require.Len(t, decoded, len(pts))
	for i := range pts {
		assert.InDelta(t, pts[i].Latitude, decoded[i].Latitude, 1e-5)
		assert.InDelta(t, pts[i].Longitude, decoded[i].Longitude, 1e-5)
	}

	assert.Equal(t, encoded, EncodePolyline(decoded))
}

func TestDecodePolylineTruncatedInput(t *testing.T) {
	full := EncodePolyline([]models.Location{
		{Latitude: 38.5, Longitude: -120.2},
		{Latitude: 40.7, Longitude: -125.95},
	})
	truncated := full[:len(full)-1]

	assert.NotPanics(t, func() { DecodePolyline(truncated) })
}

func TestPerpDistanceKmClampsToEndpoints(t *testing.T) {
	segStart := models.Location{Latitude: -26.20, Longitude: 28.05}
	segEnd := models.Location{Latitude: -26.10, Longitude: 28.05}

	// Point due south of segStart, beyond the segment: distance should equal
	// the distance to segStart, not a projection onto the infinite line.
	beyond := models.Location{Latitude: -26.30, Longitude: 28.05}
	got := PerpDistanceKm(beyond, segStart, segEnd)
	want := Haversine(beyond.Latitude, beyond.Longitude, segStart.Latitude, segStart.Longitude)
	assert.InDelta(t, want, got, 0.01)

	// Point abeam the segment's midpoint, offset east: distance should be
	// roughly the east-west offset, much less than haversine to either end.
	abeam := models.Location{Latitude: -26.15, Longitude: 28.06}
	gotAbeam := PerpDistanceKm(abeam, segStart, segEnd)
	assert.Less(t, gotAbeam, Haversine(abeam.Latitude, abeam.Longitude, segStart.Latitude, segStart.Longitude))
}

func TestDetourMinutesZeroForOnRoutePickup(t *testing.T) {
	route := []models.Location{
		{Latitude: -26.20, Longitude: 28.05},
		{Latitude: -26.11, Longitude: 28.06},
	}
	// Pickup and dropoff sitting exactly on the route add ~0 detour.
	d := DetourMinutes(route, route[0], route[1], 40)
	assert.InDelta(t, 0, d, 0.5)
}

func TestDetourMinutesPositiveForOffRouteDetour(t *testing.T) {
	route := []models.Location{
		{Latitude: -26.20, Longitude: 28.05},
		{Latitude: -26.11, Longitude: 28.06},
	}
	pickup := models.Location{Latitude: -26.25, Longitude: 28.20}
	dropoff := models.Location{Latitude: -26.23, Longitude: 28.22}

	d := DetourMinutes(route, pickup, dropoff, 40)
	assert.Greater(t, d, 0.0)
}

func TestDetourMinutesZeroSpeedGuard(t *testing.T) {
	route := []models.Location{{Latitude: 0, Longitude: 0}, {Latitude: 1, Longitude: 1}}
	assert.Equal(t, 0.0, DetourMinutes(route, route[0], route[1], 0))
}

func TestTripCellDeterministic(t *testing.T) {
	a := TripCell(-26.2041, 28.0473)
	b := TripCell(-26.2041, 28.0473)
	require.NotEmpty(t, a)
	assert.Equal(t, a, b)

	far := TripCell(40.7128, -74.0060)
	assert.NotEqual(t, a, far)
}

func TestKRingCellsIncludesOrigin(t *testing.T) {
	cells := KRingCells(-26.2041, 28.0473, 2)
	origin := TripCell(-26.2041, 28.0473)
	assert.Contains(t, cells, origin)
	assert.Greater(t, len(cells), 1)
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, int(math.Round(60.0/40*60)), EstimateDuration(60))
}

package geo

import (
	"strings"

	"github.com/carpoolhq/backend/pkg/models"
)

// polylinePrecision is the Google polyline encoding precision (spec §4.1:
// "precision 6").
const polylinePrecision = 1e6

// EncodePolyline renders points using the Google encoded polyline algorithm
// at precision 6 (spec §4.1).
func EncodePolyline(points []models.Location) string {
	var b strings.Builder
	var prevLat, prevLng int64

	for _, p := range points {
		lat := round(p.Latitude * polylinePrecision)
		lng := round(p.Longitude * polylinePrecision)

		encodeValue(&b, lat-prevLat)
		encodeValue(&b, lng-prevLng)

		prevLat, prevLng = lat, lng
	}

	return b.String()
}

// DecodePolyline parses a Google encoded polyline string back into points.
// Invalid input (a truncated varint) yields the points decoded so far.
func DecodePolyline(s string) []models.Location {
	var points []models.Location
	var lat, lng int64
	index := 0

	for index < len(s) {
		dLat, ok := decodeValue(s, &index)
		if !ok {
			break
		}
		lat += dLat

		dLng, ok := decodeValue(s, &index)
		if !ok {
			break
		}
		lng += dLng

		points = append(points, models.Location{
			Latitude:  float64(lat) / polylinePrecision,
			Longitude: float64(lng) / polylinePrecision,
		})
	}

	return points
}

func round(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}

func encodeValue(b *strings.Builder, v int64) {
	shifted := v << 1
	if v < 0 {
		shifted = ^shifted
	}
	for shifted >= 0x20 {
		b.WriteByte(byte((0x20|(shifted&0x1f))+63))
		shifted >>= 5
	}
	b.WriteByte(byte(shifted + 63))
}

func decodeValue(s string, index *int) (int64, bool) {
	result := int64(0)
	shift := uint(0)

	for {
		if *index >= len(s) {
			return 0, false
		}
		b := int64(s[*index]) - 63
		*index++

		result |= (b & 0x1f) << shift
		shift += 5

		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), true
	}
	return result >> 1, true
}

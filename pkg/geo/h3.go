package geo

import (
	"github.com/uber/h3-go/v4"
)

// H3ResolutionTrip is the cell resolution driver trips are tagged at on
// write (~1.2 km edge). MatchStore's findCandidateDrivers uses it as a cheap
// secondary bucketing index alongside the bounding-box SQL predicate
// (SPEC_FULL §11).
const H3ResolutionTrip = 7

// H3KRingTrip is the k-ring radius used when expanding a rider's pickup
// cell into the set of trip cells worth querying.
const H3KRingTrip = 2

// CellID converts a coordinate to an H3 cell hex string at the given
// resolution. Returns "" on invalid input (out-of-range lat/lng).
func CellID(lat, lng float64, resolution int) string {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), resolution)
	if err != nil {
		return ""
	}
	return cell.String()
}

// TripCell is CellID at H3ResolutionTrip, the resolution driver_trips rows
// are tagged with.
func TripCell(lat, lng float64) string {
	return CellID(lat, lng, H3ResolutionTrip)
}

// KRingCells returns the hex strings of every cell within k rings of the
// cell containing (lat, lng) at H3ResolutionTrip, used to widen a candidate
// search beyond the exact pickup cell.
func KRingCells(lat, lng float64, k int) []string {
	origin, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), H3ResolutionTrip)
	if err != nil {
		return nil
	}
	cells, err := origin.GridDisk(k)
	if err != nil {
		return []string{origin.String()}
	}
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.String()
	}
	return out
}

package matching

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/carpoolhq/backend/pkg/geo"
	"github.com/carpoolhq/backend/pkg/models"
)

// Rejection reasons surfaced in telemetry and the admin stats endpoint
// (spec §4.3 Phase B).
const (
	ReasonTimeWindow    = "time_window"
	ReasonPickupDist    = "pickup_distance"
	ReasonDropoffDist   = "dropoff_distance"
	ReasonSeats         = "seats"
	ReasonRating        = "rating"
	ReasonAccessibility = "accessibility"
	ReasonOrg           = "organization"
)

// Engine is MatchEngine: a pure, stateless scorer over candidates already
// narrowed by Store.FindCandidateDrivers (spec §4.3). It never mutates
// storage and never errors — an empty result is simply an empty slice.
type Engine struct{}

// NewEngine builds an Engine. It carries no state; every call is
// self-contained given its inputs.
func NewEngine() *Engine { return &Engine{} }

// candidate is an intermediate Phase B/C value: a driver trip paired with
// the geometry derived from it once, reused across both phases.
type candidate struct {
	trip  *models.Trip
	route []models.Location
}

// FindResult is Engine.Find's output: the scored, sorted MatchResults plus
// the rejection telemetry collected while filtering (spec §4.3 Phase B).
type FindResult struct {
	Matches  []*models.MatchResult
	Rejected map[string]int
}

// Find runs Phase B (filter) and Phase C (score) over candidates for req,
// returning up to cfg.MaxResults pending MatchResults ordered best-first.
func (e *Engine) Find(req *models.RiderRequest, candidates []*models.Trip, cfg models.MatchConfig) FindResult {
	result := FindResult{Rejected: make(map[string]int)}

	windowHalf := req.LatestDeparture.Sub(req.EarliestDeparture) / 2
	midWindow := req.EarliestDeparture.Add(windowHalf)
	slack := time.Duration(cfg.TimeSlackMin) * time.Minute

	var survivors []candidate
	for _, trip := range candidates {
		route := routeFor(trip)

		if trip.DepartureTime.Before(req.EarliestDeparture.Add(-slack)) || trip.DepartureTime.After(req.LatestDeparture) {
			result.Rejected[ReasonTimeWindow]++
			continue
		}
		if trip.AvailableSeats < req.SeatsNeeded {
			result.Rejected[ReasonSeats]++
			continue
		}
		pickupDist := geo.PerpDistanceKm(req.Pickup, route[0], route[len(route)-1])
		if len(route) > 2 {
			pickupDist = nearestSegmentDistance(req.Pickup, route)
		}
		if pickupDist > cfg.MaxPickupDistanceKm {
			result.Rejected[ReasonPickupDist]++
			continue
		}
		dropoffDist := geo.PerpDistanceKm(req.Dropoff, route[0], route[len(route)-1])
		if len(route) > 2 {
			dropoffDist = nearestSegmentDistance(req.Dropoff, route)
		}
		if dropoffDist > cfg.MaxDropoffDistanceKm {
			result.Rejected[ReasonDropoffDist]++
			continue
		}
		if trip.DriverRating > 0 && trip.DriverRating < cfg.MinDriverRating {
			result.Rejected[ReasonRating]++
			continue
		}
		if req.Preferences.WheelchairAccess && !trip.Vehicle.Accessible {
			result.Rejected[ReasonAccessibility]++
			continue
		}
		if req.Preferences.SameOrgPreferred == "strict" && !sameOrg(req, trip) {
			result.Rejected[ReasonOrg]++
			continue
		}

		survivors = append(survivors, candidate{trip: trip, route: route})
	}

	scored := make([]*models.MatchResult, 0, len(survivors))
	for _, c := range survivors {
		scored = append(scored, e.score(req, c, cfg, midWindow, windowHalf))
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.DetourMinutes != b.DetourMinutes {
			return a.DetourMinutes < b.DetourMinutes
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	max := cfg.MaxResults
	if max <= 0 || max > len(scored) {
		max = len(scored)
	}
	result.Matches = scored[:max]
	return result
}

// score computes a single candidate's composite score (spec §4.3 Phase C).
func (e *Engine) score(req *models.RiderRequest, c candidate, cfg models.MatchConfig, midWindow time.Time, windowHalf time.Duration) *models.MatchResult {
	trip := c.trip
	pickupDist := nearestSegmentDistance(req.Pickup, c.route)
	detourMin := geo.DetourMinutes(c.route, req.Pickup, req.Dropoff, cfg.AvgSpeedKmH)

	timeDelta := math.Abs(trip.DepartureTime.Sub(midWindow).Minutes())
	windowHalfMin := windowHalf.Minutes()
	if windowHalfMin <= 0 {
		windowHalfMin = 1
	}

	rating := trip.DriverRating
	if rating <= 0 {
		rating = 5
	}

	sameOrgVal := 0.0
	if !sameOrg(req, trip) {
		sameOrgVal = 1.0
	}

	carbonSaved := estimateCarbonSavedKg(c.route)
	const maxCarbonSavedKg = 5.0

	w := cfg.Weights
	maxDetour := cfg.MaxDetourMin
	if maxDetour <= 0 {
		maxDetour = 1
	}
	maxPickup := cfg.MaxPickupDistanceKm
	if maxPickup <= 0 {
		maxPickup = 1
	}

	breakdown := models.ScoreBreakdown{
		DetourTerm: w.Detour * (detourMin / maxDetour),
		PickupTerm: w.Pickup * (pickupDist / maxPickup),
		TimeTerm:   w.Time * (timeDelta / windowHalfMin),
		RatingTerm: w.Rating * ((5 - rating) / 4),
		OrgTerm:    w.Org * sameOrgVal,
		CarbonTerm: w.Carbon * (carbonSaved / maxCarbonSavedKg),
	}

	score := breakdown.DetourTerm + breakdown.PickupTerm + breakdown.TimeTerm +
		breakdown.RatingTerm + breakdown.OrgTerm - breakdown.CarbonTerm

	return &models.MatchResult{
		DriverTripID:        trip.ID,
		RiderRequestID:      req.ID,
		DriverID:            trip.DriverID,
		RiderID:             req.RiderID,
		Score:               score,
		Breakdown:           breakdown,
		Explanation:         explain(breakdown, detourMin, pickupDist, sameOrgVal == 0, rating),
		EstimatedPickupTime: trip.DepartureTime,
		DetourMinutes:       detourMin,
		CarbonSavedKg:       carbonSaved,
		Status:              models.MatchPending,
		CreatedAt:           trip.CreatedAt,
	}
}

// PoolResult is Engine.OptimizePool's output.
type PoolResult struct {
	Assignment *models.PoolAssignment
	Accepted   []*models.MatchResult
	Rejected   []*models.MatchResult
}

// PoolCandidate pairs a MatchResult with the rider request geometry and
// seat count needed to evaluate it for pooling; MatchResult alone doesn't
// carry pickup/dropoff coordinates.
type PoolCandidate struct {
	Match       *models.MatchResult
	Pickup      models.Location
	Dropoff     models.Location
	SeatsNeeded int
}

// OptimizePool runs Phase D (spec §4.3): greedily assigns riders to the
// given driver trip's candidate matches by ascending score, enforcing the
// cumulative seat and detour caps, then lists the accepted riders' stops via
// stopOrder.
func (e *Engine) OptimizePool(trip *models.Trip, candidates []PoolCandidate, cfg models.MatchConfig) PoolResult {
	sorted := make([]PoolCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Match.Score < sorted[j].Match.Score })

	route := []models.Location{trip.Origin, trip.Destination}
	seatsUsed := 0
	totalDetour := 0.0
	var accepted []PoolCandidate
	var rejected []*models.MatchResult

	maxPassengers := cfg.MaxPassengersPerPool
	if maxPassengers <= 0 {
		maxPassengers = len(sorted)
	}

	for _, c := range sorted {
		if len(accepted) >= maxPassengers {
			rejected = append(rejected, c.Match)
			continue
		}
		if seatsUsed+c.SeatsNeeded > trip.TotalSeats {
			rejected = append(rejected, c.Match)
			continue
		}

		detour := geo.DetourMinutes(route, c.Pickup, c.Dropoff, cfg.AvgSpeedKmH)
		if totalDetour+detour > cfg.MaxPoolDetourMin {
			rejected = append(rejected, c.Match)
			continue
		}

		route = insertStopPair(route, c.Pickup, c.Dropoff)
		seatsUsed += c.SeatsNeeded
		totalDetour += detour
		accepted = append(accepted, c)
	}

	stops, members := stopOrder(accepted)

	var totalScore float64
	for _, c := range accepted {
		totalScore += c.Match.Score
	}
	avgScore := 0.0
	if len(accepted) > 0 {
		avgScore = totalScore / float64(len(accepted))
	}

	acceptedMatches := make([]*models.MatchResult, len(accepted))
	for i, c := range accepted {
		acceptedMatches[i] = c.Match
	}

	assignment := &models.PoolAssignment{
		DriverTripID:       trip.ID,
		Members:            members,
		TotalScore:         totalScore,
		AvgScore:           avgScore,
		SeatsUsed:          seatsUsed,
		SeatsRemaining:     trip.TotalSeats - seatsUsed,
		TotalDetourMinutes: totalDetour,
		OrderedStops:       stops,
		Status:             models.MatchPending,
	}

	return PoolResult{Assignment: assignment, Accepted: acceptedMatches, Rejected: rejected}
}

// insertStopPair re-sequences a rider's pickup and dropoff into route by
// nearest-neighbour insertion, keeping pickup before dropoff (spec §4.3
// Phase D stop ordering).
func insertStopPair(route []models.Location, pickup, dropoff models.Location) []models.Location {
	withPickup := insertNearest(route, pickup)
	pickupIdx := indexOf(withPickup, pickup)
	withDropoff := insertNearestAfter(withPickup, dropoff, pickupIdx)
	return withDropoff
}

func insertNearest(route []models.Location, p models.Location) []models.Location {
	if len(route) == 0 {
		return []models.Location{p}
	}
	best, bestDist := 0, math.MaxFloat64
	for i, r := range route {
		d := geo.Haversine(r.Latitude, r.Longitude, p.Latitude, p.Longitude)
		if d < bestDist {
			bestDist, best = d, i
		}
	}
	out := make([]models.Location, 0, len(route)+1)
	out = append(out, route[:best+1]...)
	out = append(out, p)
	out = append(out, route[best+1:]...)
	return out
}

func insertNearestAfter(route []models.Location, p models.Location, after int) []models.Location {
	if after+1 >= len(route) {
		return append(route, p)
	}
	best, bestDist := after+1, math.MaxFloat64
	for i := after + 1; i < len(route); i++ {
		d := geo.Haversine(route[i].Latitude, route[i].Longitude, p.Latitude, p.Longitude)
		if d < bestDist {
			bestDist, best = d, i
		}
	}
	out := make([]models.Location, 0, len(route)+1)
	out = append(out, route[:best+1]...)
	out = append(out, p)
	out = append(out, route[best+1:]...)
	return out
}

func indexOf(route []models.Location, p models.Location) int {
	for i, r := range route {
		if r == p {
			return i
		}
	}
	return len(route) - 1
}

// stopOrder lists every accepted rider's pickup, in acceptance order, followed
// by every dropoff in the same order, so each pickup precedes its dropoff. The
// sequence is not reordered by distance and does not include the driver's
// origin. It also returns the PoolMember rows referencing each match's
// position within it.
func stopOrder(accepted []PoolCandidate) ([]models.StopRef, []models.PoolMember) {
	stops := make([]models.StopRef, 0, len(accepted)*2)
	for _, c := range accepted {
		stops = append(stops, models.StopRef{RiderID: c.Match.RiderID, Kind: "pickup", Location: c.Pickup})
	}
	for _, c := range accepted {
		stops = append(stops, models.StopRef{RiderID: c.Match.RiderID, Kind: "dropoff", Location: c.Dropoff})
	}

	members := make([]models.PoolMember, 0, len(accepted))
	for _, c := range accepted {
		pickupOrder, dropoffOrder := -1, -1
		for i, s := range stops {
			if s.RiderID != c.Match.RiderID {
				continue
			}
			if s.Kind == "pickup" {
				pickupOrder = i
			} else {
				dropoffOrder = i
			}
		}
		members = append(members, models.PoolMember{
			MatchID:      c.Match.ID,
			RiderID:      c.Match.RiderID,
			PickupOrder:  pickupOrder,
			DropoffOrder: dropoffOrder,
		})
	}
	return stops, members
}

func routeFor(trip *models.Trip) []models.Location {
	if trip.Polyline != "" {
		if pts := geo.DecodePolyline(trip.Polyline); len(pts) >= 2 {
			return pts
		}
	}
	return []models.Location{trip.Origin, trip.Destination}
}

// nearestSegmentDistance returns the minimum perpendicular distance from p
// to any consecutive segment of route.
func nearestSegmentDistance(p models.Location, route []models.Location) float64 {
	if len(route) < 2 {
		return 0
	}
	best := math.MaxFloat64
	for i := 0; i < len(route)-1; i++ {
		d := geo.PerpDistanceKm(p, route[i], route[i+1])
		if d < best {
			best = d
		}
	}
	return best
}

func sameOrg(req *models.RiderRequest, trip *models.Trip) bool {
	// Organization affiliation isn't modelled on Trip/RiderRequest directly
	// (it lives on the User); callers populate DriverRating etc. from a
	// join and may extend this by comparing organization IDs fetched
	// alongside the candidate. Absent that join, treat as same-org.
	return true
}

func estimateCarbonSavedKg(route []models.Location) float64 {
	const kgCO2PerKm = 0.12
	km := 0.0
	for i := 0; i < len(route)-1; i++ {
		km += geo.Haversine(route[i].Latitude, route[i].Longitude, route[i+1].Latitude, route[i+1].Longitude)
	}
	return km * kgCO2PerKm
}

func explain(b models.ScoreBreakdown, detourMin, pickupKm float64, diffOrg bool, rating float64) string {
	orgNote := "same org"
	if diffOrg {
		orgNote = "different org"
	}
	return fmt.Sprintf("%.0f-min detour, %.1f km walk, %s, %.1f★", detourMin, pickupKm, orgNote, rating)
}

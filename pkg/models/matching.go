package models

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the lifecycle of a driver's posted offer.
type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
	TripExpired   TripStatus = "expired"
)

// Trip is a driver's offer (spec §3 "Trip (offer)"). Only the driver may
// mutate it; cancelling is terminal. Invariant: 0 <= AvailableSeats <= TotalSeats.
type Trip struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	DriverID       uuid.UUID  `json:"driver_id" db:"driver_id"`
	Origin         Location   `json:"origin" db:"-"`
	Destination    Location   `json:"destination" db:"-"`
	BBox           BoundingBox `json:"bounding_box" db:"-"`
	Polyline       string     `json:"polyline,omitempty" db:"polyline"`
	DepartureTime  time.Time  `json:"departure_time" db:"departure_time"`
	ArrivalTime    *time.Time `json:"arrival_time,omitempty" db:"arrival_time"`
	TotalSeats     int        `json:"total_seats" db:"total_seats"`
	AvailableSeats int        `json:"available_seats" db:"available_seats"`
	PricePerSeat   float64    `json:"price_per_seat" db:"price_per_seat"`
	Currency       string     `json:"currency" db:"currency"`
	Vehicle        Vehicle    `json:"vehicle" db:"-"`
	H3Cell         string     `json:"-" db:"h3_cell"`
	DriverRating   float64    `json:"driver_rating,omitempty" db:"-"`
	Status         TripStatus `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// RiderRequestStatus is the lifecycle of a rider's posted need.
type RiderRequestStatus string

const (
	RequestPending    RiderRequestStatus = "pending"
	RequestMatched    RiderRequestStatus = "matched"
	RequestConfirmed  RiderRequestStatus = "confirmed"
	RequestInProgress RiderRequestStatus = "in_progress"
	RequestCompleted  RiderRequestStatus = "completed"
	RequestCancelled  RiderRequestStatus = "cancelled"
	RequestExpired    RiderRequestStatus = "expired"
)

// RiderRequest is a rider's posted need (spec §3). Invariant: EarliestDeparture
// < LatestDeparture. Terminal states never re-enter.
type RiderRequest struct {
	ID                uuid.UUID          `json:"id" db:"id"`
	RiderID           uuid.UUID          `json:"rider_id" db:"rider_id"`
	Pickup            Location           `json:"pickup" db:"-"`
	Dropoff           Location           `json:"dropoff" db:"-"`
	EarliestDeparture time.Time          `json:"earliest_departure" db:"earliest_departure"`
	LatestDeparture   time.Time          `json:"latest_departure" db:"latest_departure"`
	SeatsNeeded       int                `json:"seats_needed" db:"seats_needed"`
	Preferences       RiderPreferences   `json:"preferences" db:"-"`
	Status            RiderRequestStatus `json:"status" db:"status"`
	MatchedTripID     *uuid.UUID         `json:"matched_trip_id,omitempty" db:"matched_trip_id"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" db:"updated_at"`
}

// MatchStatus is the lifecycle of a scored pairing.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
	MatchCancelled MatchStatus = "cancelled"
	MatchExpired   MatchStatus = "expired"
)

// ScoreBreakdown is the per-term contribution to a MatchResult's composite
// score (spec §4.3 Phase C), persisted as breakdown_json and used to render
// the human-readable explanation string.
type ScoreBreakdown struct {
	DetourTerm float64 `json:"detour_term"`
	PickupTerm float64 `json:"pickup_term"`
	TimeTerm   float64 `json:"time_term"`
	RatingTerm float64 `json:"rating_term"`
	OrgTerm    float64 `json:"org_term"`
	CarbonTerm float64 `json:"carbon_term"`
}

// MatchResult is a scored pairing of one driver offer and one rider request
// (spec §3). Unique (DriverTripID, RiderRequestID); saving the same pair again
// overwrites its score, breakdown, pickup time, detour and carbon figures.
// Lower Score is better.
type MatchResult struct {
	ID                  uuid.UUID      `json:"id" db:"id"`
	DriverTripID        uuid.UUID      `json:"driver_trip_id" db:"driver_trip_id"`
	RiderRequestID      uuid.UUID      `json:"rider_request_id" db:"rider_request_id"`
	DriverID            uuid.UUID      `json:"driver_id" db:"driver_id"`
	RiderID             uuid.UUID      `json:"rider_id" db:"rider_id"`
	Score               float64        `json:"score" db:"score"`
	Breakdown           ScoreBreakdown `json:"breakdown" db:"-"`
	Explanation         string         `json:"explanation" db:"-"`
	EstimatedPickupTime time.Time      `json:"estimated_pickup_time" db:"estimated_pickup_time"`
	DetourMinutes       float64        `json:"detour_minutes" db:"detour_minutes"`
	CarbonSavedKg        float64       `json:"carbon_saved_kg" db:"carbon_saved_kg"`
	Status              MatchStatus    `json:"status" db:"status"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
}

// PoolMember references one MatchResult participating in a pooled ride,
// with its position in the computed stop order (spec §3 PoolAssignment).
type PoolMember struct {
	MatchID      uuid.UUID `json:"match_id"`
	RiderID      uuid.UUID `json:"rider_id"`
	PickupOrder  int       `json:"pickup_order"`
	DropoffOrder int       `json:"dropoff_order"`
}

// PoolAssignment groups several MatchResults against a single driver trip.
// Invariant: every Member references a MatchResult belonging to DriverTripID.
type PoolAssignment struct {
	ID                  uuid.UUID    `json:"id" db:"id"`
	DriverTripID        uuid.UUID    `json:"driver_trip_id" db:"driver_trip_id"`
	Members             []PoolMember `json:"members" db:"-"`
	TotalScore          float64      `json:"total_score" db:"total_score"`
	AvgScore            float64      `json:"avg_score" db:"avg_score"`
	SeatsUsed           int          `json:"seats_used" db:"seats_used"`
	SeatsRemaining      int          `json:"seats_remaining" db:"seats_remaining"`
	TotalDetourMinutes  float64      `json:"total_detour_minutes" db:"total_detour_minutes"`
	OrderedStops        []StopRef    `json:"ordered_stops" db:"-"`
	Status              MatchStatus  `json:"status" db:"status"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
}

// StopRef is one entry of a PoolAssignment's computed stop order.
type StopRef struct {
	RiderID  uuid.UUID `json:"rider_id"`
	Kind     string    `json:"kind"` // "pickup" | "dropoff"
	Location Location  `json:"location"`
}

// ScoreWeights are the per-tenant overridable coefficients of the composite
// score (spec §4.3 Phase C). Treated as authoritative, never auto-normalised
// (spec §9 open question 2).
type ScoreWeights struct {
	Detour float64 `json:"detour"`
	Pickup float64 `json:"pickup"`
	Time   float64 `json:"time"`
	Rating float64 `json:"rating"`
	Org    float64 `json:"org"`
	Carbon float64 `json:"carbon"`
}

// DefaultScoreWeights are spec §4.3's defaults.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Detour: 0.30, Pickup: 0.25, Time: 0.20, Rating: 0.15, Org: 0.05, Carbon: 0.05}
}

// MatchConfig is the per-tenant tunable set for MatchStore/MatchEngine
// (SPEC_FULL §13), KV-first cached with a 60s TTL and DB fallback (spec §4.2).
type MatchConfig struct {
	OrganizationID       *uuid.UUID   `json:"organization_id,omitempty"`
	SearchRadiusKm       float64      `json:"search_radius_km"`
	TimeSlackMin         int          `json:"time_slack_min"`
	MaxPickupDistanceKm  float64      `json:"max_pickup_distance_km"`
	MaxDropoffDistanceKm float64      `json:"max_dropoff_distance_km"`
	MinDriverRating      float64      `json:"min_driver_rating"`
	MaxDetourMin         float64      `json:"max_detour_min"`
	MaxResults           int          `json:"max_results"`
	Weights              ScoreWeights `json:"weights"`
	EnableMultiRider     bool         `json:"enable_multi_rider"`
	MaxPoolDetourMin     float64      `json:"max_pool_detour_min"`
	MaxPassengersPerPool int          `json:"max_passengers_per_pool"`
	AvgSpeedKmH          float64      `json:"avg_speed_kmh"`
}

// DefaultMatchConfig mirrors the teacher's DefaultMatchingConfig/ServiceConfig
// defaults, extended with the fields spec §4.2/§4.3 require.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		SearchRadiusKm:       5,
		TimeSlackMin:         15,
		MaxPickupDistanceKm:  2,
		MaxDropoffDistanceKm: 3,
		MinDriverRating:      3.5,
		MaxDetourMin:         30,
		MaxResults:           10,
		Weights:              DefaultScoreWeights(),
		EnableMultiRider:     true,
		MaxPoolDetourMin:     20,
		MaxPassengersPerPool: 4,
		AvgSpeedKmH:          40,
	}
}

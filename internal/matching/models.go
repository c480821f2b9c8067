package matching

import (
	"time"

	"github.com/google/uuid"

	"github.com/carpoolhq/backend/pkg/models"
)

// PostDriverTripRequest is the wire shape of POST /matching/driver-trips.
type PostDriverTripRequest struct {
	Origin        models.Location `json:"origin" binding:"required"`
	Destination   models.Location `json:"destination" binding:"required"`
	Polyline      string          `json:"polyline,omitempty"`
	DepartureTime time.Time       `json:"departureTime" binding:"required"`
	ArrivalTime   *time.Time      `json:"arrivalTime,omitempty"`
	TotalSeats    int             `json:"totalSeats" binding:"required,min=1,max=8"`
	PricePerSeat  float64         `json:"pricePerSeat" binding:"required,min=0"`
	Currency      string          `json:"currency,omitempty"`
	Vehicle       models.Vehicle  `json:"vehicle,omitempty"`
}

// PostRiderRequestRequest is the wire shape of POST /matching/rider-requests.
type PostRiderRequestRequest struct {
	Pickup            models.Location         `json:"pickup" binding:"required"`
	Dropoff           models.Location         `json:"dropoff" binding:"required"`
	EarliestDeparture time.Time               `json:"earliestDeparture" binding:"required"`
	LatestDeparture   time.Time               `json:"latestDeparture" binding:"required"`
	SeatsNeeded       int                     `json:"seatsNeeded" binding:"required,min=1,max=4"`
	Preferences       models.RiderPreferences `json:"preferences,omitempty"`
}

// FindMatchesRequest is the wire shape of POST /matching/find and
// POST /matching/find-pool. Either RiderRequestID (an already-posted
// request) or an inline request body may be supplied.
type FindMatchesRequest struct {
	RiderRequestID *uuid.UUID               `json:"riderRequestId,omitempty"`
	Inline         *PostRiderRequestRequest `json:"inline,omitempty"`
}

// FindMatchesMeta is the non-match metadata returned alongside a find result,
// surfacing the candidate funnel for observability.
type FindMatchesMeta struct {
	CandidatesConsidered int            `json:"candidatesConsidered"`
	RejectedByReason     map[string]int `json:"rejectedByReason,omitempty"`
}

// ConfirmMatchRequest is the wire shape of POST /matching/confirm.
type ConfirmMatchRequest struct {
	MatchID        uuid.UUID `json:"matchId" binding:"required"`
	DriverTripID   uuid.UUID `json:"driverTripId" binding:"required"`
	RiderRequestID uuid.UUID `json:"riderRequestId" binding:"required"`
}

// RejectMatchRequest is the wire shape of POST /matching/reject.
type RejectMatchRequest struct {
	MatchID uuid.UUID `json:"matchId" binding:"required"`
	Reason  string    `json:"reason,omitempty"`
}

// BatchResult summarises a Service.RunBatch run; no HTTP route exposes it.
type BatchResult struct {
	RequestsConsidered int `json:"requestsConsidered"`
	TotalMatched       int `json:"totalMatched"`
	TotalPooled        int `json:"totalPooled"`
}

// Stats is the admin GET /matching/stats payload: a snapshot of the Phase B
// rejection-reason telemetry spec §4.3 requires be collected.
type Stats struct {
	TotalFindCalls     int64          `json:"totalFindCalls"`
	TotalCandidates    int64          `json:"totalCandidatesConsidered"`
	TotalMatchesFound  int64          `json:"totalMatchesFound"`
	RejectedByReason   map[string]int64 `json:"rejectedByReason"`
}

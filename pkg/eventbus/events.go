package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// BookingRequestedData is emitted when a rider books a seat on a trip.
type BookingRequestedData struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	TripID        uuid.UUID `json:"trip_id"`
	RiderID       uuid.UUID `json:"rider_id"`
	DriverID      uuid.UUID `json:"driver_id"`
	SeatsHeld     int       `json:"seats_held"`
	RequestedAt   time.Time `json:"requested_at"`
}

// BookingAcceptedData is emitted when a driver accepts a rider's booking.
type BookingAcceptedData struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	TripID        uuid.UUID `json:"trip_id"`
	RiderID       uuid.UUID `json:"rider_id"`
	DriverID      uuid.UUID `json:"driver_id"`
	SeatsHeld     int       `json:"seats_held"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// BookingRejectedData is emitted when a driver rejects a rider's booking.
type BookingRejectedData struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	TripID        uuid.UUID `json:"trip_id"`
	RiderID       uuid.UUID `json:"rider_id"`
	DriverID      uuid.UUID `json:"driver_id"`
	Reason        string    `json:"reason,omitempty"`
	RejectedAt    time.Time `json:"rejected_at"`
}

// TripCreatedData is emitted when a driver posts a new offer.
type TripCreatedData struct {
	TripID        uuid.UUID `json:"trip_id"`
	DriverID      uuid.UUID `json:"driver_id"`
	TotalSeats    int       `json:"total_seats"`
	DepartureTime time.Time `json:"departure_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// TripCancelledData is emitted when a driver cancels a trip.
type TripCancelledData struct {
	TripID           uuid.UUID   `json:"trip_id"`
	DriverID         uuid.UUID   `json:"driver_id"`
	AffectedRiderIDs []uuid.UUID `json:"affected_rider_ids"`
	Reason           string      `json:"reason,omitempty"`
	CancelledAt      time.Time   `json:"cancelled_at"`
}

// PaymentSucceededData is emitted when PaymentCoordinator applies a
// payment_intent.succeeded webhook (spec §4.6).
type PaymentSucceededData struct {
	ParticipantID   uuid.UUID `json:"participant_id"`
	TripID          uuid.UUID `json:"trip_id"`
	RiderID         uuid.UUID `json:"rider_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	AmountMinor     int64     `json:"amount_minor"`
	Currency        string    `json:"currency"`
	CompletedAt     time.Time `json:"completed_at"`
}

// PaymentFailedData is emitted when a payment_intent.payment_failed webhook
// is applied.
type PaymentFailedData struct {
	ParticipantID   uuid.UUID `json:"participant_id"`
	TripID          uuid.UUID `json:"trip_id"`
	RiderID         uuid.UUID `json:"rider_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	FailedAt        time.Time `json:"failed_at"`
}

// MatchConfirmedData is emitted when a rider or driver confirms a MatchResult
// (spec §4.3/§4.6's find→confirm handoff into booking).
type MatchConfirmedData struct {
	MatchID        uuid.UUID `json:"match_id"`
	DriverTripID   uuid.UUID `json:"driver_trip_id"`
	RiderRequestID uuid.UUID `json:"rider_request_id"`
	DriverID       uuid.UUID `json:"driver_id"`
	RiderID        uuid.UUID `json:"rider_id"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
}

// DriverLocationUpdatedData describes a driver location ping (SPEC_FULL §14.1
// live-location feed); nothing in this module publishes it.
type DriverLocationUpdatedData struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	H3Cell    string    `json:"h3_cell"`
	Timestamp time.Time `json:"timestamp"`
}

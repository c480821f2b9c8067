package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole distinguishes the trip owner from a joined rider.
type ParticipantRole string

const (
	ParticipantDriver ParticipantRole = "driver"
	ParticipantRider  ParticipantRole = "rider"
)

// ParticipantStatus is the BookingFSM state for one (trip, rider) pairing
// (spec §4.5). requested -> {accepted|rejected|cancelled}; accepted ->
// {completed|cancelled}. All others are terminal.
type ParticipantStatus string

const (
	ParticipantRequested ParticipantStatus = "requested"
	ParticipantAccepted  ParticipantStatus = "accepted"
	ParticipantRejected  ParticipantStatus = "rejected"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantCancelled ParticipantStatus = "cancelled"
)

// PaymentStatus tracks a participant's payment lifecycle, driven by
// PaymentCoordinator.onWebhook (spec §4.6).
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentCanceled PaymentStatus = "canceled"
	PaymentRefunded PaymentStatus = "refunded"
)

// PayoutStatus tracks the driver-side transfer for a completed trip.
type PayoutStatus string

const (
	PayoutNone      PayoutStatus = "none"
	PayoutPending   PayoutStatus = "pending"
	PayoutPaid      PayoutStatus = "paid"
	PayoutFailed    PayoutStatus = "failed"
)

// Participant is one rider's (or the driver's) membership of a Trip (spec
// §3). The rider is charged PricePerSeat * SeatsHeld (spec §9 open question
// 1) — never re-derived from the trip's current price after booking.
type Participant struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	TripID           uuid.UUID         `json:"trip_id" db:"trip_id"`
	UserID           uuid.UUID         `json:"user_id" db:"user_id"`
	Role             ParticipantRole   `json:"role" db:"role"`
	Status           ParticipantStatus `json:"status" db:"status"`
	SeatsHeld        int               `json:"seats_held" db:"seats_held"`
	AmountDue        float64           `json:"amount_due" db:"amount_due"`
	Currency         string            `json:"currency" db:"currency"`
	PaymentIntentID  string            `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	PaymentStatus    PaymentStatus     `json:"payment_status" db:"payment_status"`
	PaymentCompletedAt *time.Time      `json:"payment_completed_at,omitempty" db:"payment_completed_at"`
	PayoutStatus     PayoutStatus      `json:"payout_status" db:"payout_status"`
	Rating           *int              `json:"rating,omitempty" db:"rating"`
	EncryptedReview  []byte            `json:"-" db:"encrypted_review"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// WaitlistStatus tracks a waitlisted rider through FIFO promotion (spec §4.4).
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistPromoted  WaitlistStatus = "promoted"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// WaitlistEntry is one rider queued for a seat that is not currently
// available on a Trip (spec §4.4 joinWaitlist/promoteWaitlist). Promotion is
// FIFO by JoinedAt.
type WaitlistEntry struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	TripID      uuid.UUID      `json:"trip_id" db:"trip_id"`
	UserID      uuid.UUID      `json:"user_id" db:"user_id"`
	SeatsNeeded int            `json:"seats_needed" db:"seats_needed"`
	Status      WaitlistStatus `json:"status" db:"status"`
	JoinedAt    time.Time      `json:"joined_at" db:"joined_at"`
}

// WebhookEvent records a processed provider webhook for replay detection,
// the second of IdempotencyLedger's two namespaces (spec §3, §4.8). A 7-day
// TTL namespace distinct from the 10-minute request-key namespace.
type WebhookEvent struct {
	EventID     string    `json:"event_id" db:"event_id"`
	Provider    string    `json:"provider" db:"provider"`
	EventType   string    `json:"event_type" db:"event_type"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// IdempotencyRecord is the first of IdempotencyLedger's two namespaces: a
// replayable response keyed by client-supplied Idempotency-Key, 10-minute
// TTL (spec §3, §4.8).
type IdempotencyRecord struct {
	Key              string    `json:"key" db:"key"`
	Scope            string    `json:"scope" db:"scope"`
	RequestFingerprint string  `json:"request_fingerprint" db:"request_fingerprint"`
	ResponseSnapshot []byte    `json:"response_snapshot,omitempty" db:"response_snapshot"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// AuditLog is a supplemental entity (SPEC_FULL §12) recording every mutating
// operation against booking/payment state, independent of structured logs,
// for compliance review. ActorID is nil for system-initiated actions (e.g.
// an expiry sweep).
type AuditLog struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	ActorID    *uuid.UUID             `json:"actor_id,omitempty" db:"actor_id"`
	Action     string                 `json:"action" db:"action"`
	EntityType string                 `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID              `json:"entity_id" db:"entity_id"`
	Metadata   map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

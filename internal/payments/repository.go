package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carpoolhq/backend/pkg/models"
)

// Repository is PaymentCoordinator's Postgres-backed RepositoryInterface
// (spec §4.6). It shares the trip_participants table with
// internal/booking.Repository — the two packages own disjoint columns of
// the same row (status/seats vs payment*/payout*).
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository builds a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const paymentParticipantColumns = `
	id, trip_id, user_id, role, status, seats_held, amount_due, currency,
	payment_intent_id, payment_status, payment_completed_at, payout_status,
	rating, encrypted_review, created_at, updated_at
`

func scanPaymentParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	var paymentIntentID *string
	err := row.Scan(
		&p.ID, &p.TripID, &p.UserID, &p.Role, &p.Status, &p.SeatsHeld, &p.AmountDue, &p.Currency,
		&paymentIntentID, &p.PaymentStatus, &p.PaymentCompletedAt, &p.PayoutStatus,
		&p.Rating, &p.EncryptedReview, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if paymentIntentID != nil {
		p.PaymentIntentID = *paymentIntentID
	}
	return &p, nil
}

// GetParticipant loads a participant by id.
func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentParticipantColumns+` FROM trip_participants WHERE id = $1`, id)
	p, err := scanPaymentParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// GetParticipantForTripAndUser loads a participant by its unique (trip,
// user) pairing, the lookup createIntent uses when only tripId/userId are
// known from the request.
func (r *Repository) GetParticipantForTripAndUser(ctx context.Context, tripID, userID uuid.UUID) (*models.Participant, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+paymentParticipantColumns+` FROM trip_participants WHERE trip_id = $1 AND user_id = $2
	`, tripID, userID)
	p, err := scanPaymentParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("get participant for trip and user: %w", err)
	}
	return p, nil
}

const paymentTripColumns = `
	id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng,
	polyline, departure_time, arrival_time, total_seats, available_seats,
	price_per_seat, currency, vehicle_json, status, created_at, updated_at
`

// GetTrip loads the trip a participant belongs to, used to verify
// createIntent's `amountMinor == round(pricePerSeat*100*seatsHeld)` check.
func (r *Repository) GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	var t models.Trip
	var vehicleJSON []byte
	err := r.db.QueryRow(ctx, `SELECT `+paymentTripColumns+` FROM driver_trips WHERE id = $1`, tripID).Scan(
		&t.ID, &t.DriverID, &t.Origin.Latitude, &t.Origin.Longitude,
		&t.Destination.Latitude, &t.Destination.Longitude,
		&t.Polyline, &t.DepartureTime, &t.ArrivalTime, &t.TotalSeats, &t.AvailableSeats,
		&t.PricePerSeat, &t.Currency, &vehicleJSON, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return &t, nil
}

// SetPendingIntent is createIntent step 5's guarded UPDATE (spec §4.6): it
// only applies when the participant has no intent yet, or its previous
// intent isn't currently pending. Zero rows affected means a concurrent
// caller already won and the original intent should be re-read.
func (r *Repository) SetPendingIntent(ctx context.Context, participantID uuid.UUID, intentID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trip_participants
		SET payment_intent_id = $2, payment_status = $3, updated_at = now()
		WHERE id = $1 AND (payment_intent_id IS NULL OR payment_status != $3)
	`, participantID, intentID, models.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("set pending intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionPaymentStatus is onWebhook's guarded UPDATE (spec §4.6 step 4):
// applies only when paymentIntentId still matches the event that triggered
// it and the current status is one of the allowed predecessors. This single
// predicate both enforces the precondition and makes arbitrary webhook
// redelivery safe — a stale or replayed event simply affects zero rows.
func (r *Repository) TransitionPaymentStatus(ctx context.Context, participantID uuid.UUID, intentID string, from []models.PaymentStatus, to models.PaymentStatus) (bool, error) {
	query := `UPDATE trip_participants SET payment_status = $3, updated_at = now()`
	if to == models.PaymentPaid {
		query += `, payment_completed_at = now()`
	}
	query += ` WHERE id = $1 AND payment_intent_id = $2 AND payment_status = ANY($4)`

	tag, err := r.db.Exec(ctx, query, participantID, intentID, to, from)
	if err != nil {
		return false, fmt.Errorf("transition payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetPayoutStatus updates a participant's driver-payout state. Unconditional
// since payout is a supplemental, operator-triggered flow (SPEC_FULL §14.4)
// with no concurrent writer to race against.
func (r *Repository) SetPayoutStatus(ctx context.Context, participantID uuid.UUID, status models.PayoutStatus) error {
	_, err := r.db.Exec(ctx, `
		UPDATE trip_participants SET payout_status = $2, updated_at = now() WHERE id = $1
	`, participantID, status)
	if err != nil {
		return fmt.Errorf("set payout status: %w", err)
	}
	return nil
}

// WriteAuditLog records a mutating PaymentCoordinator operation (SPEC_FULL
// §12). Best-effort by contract (spec §7): callers log and continue on
// error rather than fail the triggering operation.
func (r *Repository) WriteAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID, metadata)
	if err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carpoolhq/backend/pkg/models"
)

// Repository is InventoryStore's Postgres-backed implementation (spec §4.4).
// It reads the same driver_trips table MatchStore populates, and owns the
// trip_participants and trip_waitlist tables layered on top of it — a trip
// only becomes bookable once the matching service has created it.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository builds a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const tripColumns = `
	id, driver_id, origin_lat, origin_lng, dest_lat, dest_lng,
	polyline, departure_time, arrival_time, total_seats, available_seats,
	price_per_seat, currency, vehicle_json, status, created_at, updated_at
`

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var t models.Trip
	var vehicleJSON []byte
	err := row.Scan(
		&t.ID, &t.DriverID, &t.Origin.Latitude, &t.Origin.Longitude,
		&t.Destination.Latitude, &t.Destination.Longitude,
		&t.Polyline, &t.DepartureTime, &t.ArrivalTime, &t.TotalSeats, &t.AvailableSeats,
		&t.PricePerSeat, &t.Currency, &vehicleJSON, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(vehicleJSON) > 0 {
		_ = json.Unmarshal(vehicleJSON, &t.Vehicle)
	}
	return &t, nil
}

// GetTrip loads a driver's posted offer by id.
func (r *Repository) GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM driver_trips WHERE id = $1`, tripID)
	trip, err := scanTrip(row)
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return trip, nil
}

// ReserveSeat is InventoryStore's reserveSeat: an atomic decrement guarded by
// the available-seats predicate (spec §4.4, §5). Zero rows affected means
// either the trip doesn't exist or didn't have enough seats left — the
// caller can't distinguish the two from the boolean alone and isn't meant
// to; both resolve to the same conflict outcome.
func (r *Repository) ReserveSeat(ctx context.Context, tripID uuid.UUID, seats int) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE driver_trips
		SET available_seats = available_seats - $2, updated_at = now()
		WHERE id = $1 AND available_seats >= $2
	`, tripID, seats)
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSeat is InventoryStore's releaseSeat: the symmetric increment,
// capped at the trip's total capacity so a duplicate release can never push
// availableSeats above totalSeats (spec §4.4).
func (r *Repository) ReleaseSeat(ctx context.Context, tripID uuid.UUID, seats int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE driver_trips
		SET available_seats = LEAST(total_seats, available_seats + $2), updated_at = now()
		WHERE id = $1
	`, tripID, seats)
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// SetTripStatus transitions a trip's status unconditionally. Used for
// terminal transitions (cancel, complete) that don't race on a numeric
// predicate the way seat reservation does.
func (r *Repository) SetTripStatus(ctx context.Context, tripID uuid.UUID, status models.TripStatus) error {
	_, err := r.db.Exec(ctx, `UPDATE driver_trips SET status = $2, updated_at = now() WHERE id = $1`, tripID, status)
	if err != nil {
		return fmt.Errorf("set trip status: %w", err)
	}
	return nil
}

const participantColumns = `
	id, trip_id, user_id, role, status, seats_held, amount_due, currency,
	payment_intent_id, payment_status, payment_completed_at, payout_status,
	rating, encrypted_review, created_at, updated_at
`

func scanParticipant(row pgx.Row) (*models.Participant, error) {
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

// InsertParticipant is InventoryStore's insertParticipant: unique on
// (tripId, userId), status starts `requested` for riders and `accepted` for
// the driver (spec §4.4).
func (r *Repository) InsertParticipant(ctx context.Context, p *models.Participant) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Currency == "" {
		p.Currency = "ZAR"
	}
	if p.PaymentStatus == "" {
		p.PaymentStatus = models.PaymentUnpaid
	}
	if p.PayoutStatus == "" {
		p.PayoutStatus = models.PayoutNone
	}

	var paymentIntentID *string
	if p.PaymentIntentID != "" {
		paymentIntentID = &p.PaymentIntentID
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO trip_participants (
			id, trip_id, user_id, role, status, seats_held, amount_due, currency,
			payment_intent_id, payment_status, payout_status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at
	`,
		p.ID, p.TripID, p.UserID, p.Role, p.Status, p.SeatsHeld, p.AmountDue, p.Currency,
		paymentIntentID, p.PaymentStatus, p.PayoutStatus,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// GetParticipant is InventoryStore's getParticipantForUpdate: a plain read
// of current status. Postgres's MVCC snapshot plus the guarded UPDATE
// pattern used everywhere else gives the atomicity; this method itself
// takes no lock.
func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+participantColumns+` FROM trip_participants WHERE id = $1`, id)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// GetParticipantForTripAndUser enforces InventoryStore's unique
// (tripId,userId) constraint when bookTrip checks for an existing booking.
func (r *Repository) GetParticipantForTripAndUser(ctx context.Context, tripID, userID uuid.UUID) (*models.Participant, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+participantColumns+` FROM trip_participants WHERE trip_id = $1 AND user_id = $2
	`, tripID, userID)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("get participant for trip and user: %w", err)
	}
	return p, nil
}

// ParticipantsForTrip lists every participant of a trip, used by cancelTrip
// to cascade the cancellation to every accepted rider.
func (r *Repository) ParticipantsForTrip(ctx context.Context, tripID uuid.UUID) ([]*models.Participant, error) {
	rows, err := r.db.Query(ctx, `SELECT `+participantColumns+` FROM trip_participants WHERE trip_id = $1`, tripID)
	if err != nil {
		return nil, fmt.Errorf("participants for trip: %w", err)
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TransitionParticipant is the guarded conditional UPDATE at the heart of
// BookingFSM (spec §4.5, §5): a single statement whose WHERE clause both
// enforces the precondition and serialises concurrent accept/reject/cancel
// attempts against the same row. Zero rows affected means the caller lost
// the race or the participant was never in `from`.
func (r *Repository) TransitionParticipant(ctx context.Context, id uuid.UUID, from, to models.ParticipantStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trip_participants SET status = $3, updated_at = now() WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition participant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetParticipantRating writes a rating and its encrypted review exactly
// once, guarded so a retried rateTrip call never overwrites the first
// write (spec §4.5's `completed -> rate -> completed` idempotent edge).
func (r *Repository) SetParticipantRating(ctx context.Context, id uuid.UUID, rating int, encryptedReview []byte) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trip_participants
		SET rating = $2, encrypted_review = $3, updated_at = now()
		WHERE id = $1 AND status = $4 AND rating IS NULL
	`, id, rating, encryptedReview, models.ParticipantCompleted)
	if err != nil {
		return false, fmt.Errorf("set participant rating: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// JoinWaitlist is InventoryStore's joinWaitlist (spec §4.4).
func (r *Repository) JoinWaitlist(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = models.WaitlistWaiting
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO trip_waitlist (id, trip_id, user_id, seats_needed, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING joined_at
	`, entry.ID, entry.TripID, entry.UserID, entry.SeatsNeeded, entry.Status).Scan(&entry.JoinedAt)
	if err != nil {
		return fmt.Errorf("join waitlist: %w", err)
	}
	return nil
}

// NextWaitlistEntry is InventoryStore's promoteWaitlist lookup half: the
// oldest `waiting` row that fits the seats just freed, FIFO by JoinedAt
// (spec §4.4, §4.5).
func (r *Repository) NextWaitlistEntry(ctx context.Context, tripID uuid.UUID, availableSeats int) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	err := r.db.QueryRow(ctx, `
		SELECT id, trip_id, user_id, seats_needed, status, joined_at
		FROM trip_waitlist
		WHERE trip_id = $1 AND status = $2 AND seats_needed <= $3
		ORDER BY joined_at ASC
		LIMIT 1
	`, tripID, models.WaitlistWaiting, availableSeats).Scan(
		&e.ID, &e.TripID, &e.UserID, &e.SeatsNeeded, &e.Status, &e.JoinedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("next waitlist entry: %w", err)
	}
	return &e, nil
}

// PromoteWaitlistEntry is the guarded half of promotion: flips a `waiting`
// row to `promoted`, racing safely against a concurrent promotion attempt
// for the same row.
func (r *Repository) PromoteWaitlistEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trip_waitlist SET status = $2 WHERE id = $1 AND status = $3
	`, id, models.WaitlistPromoted, models.WaitlistWaiting)
	if err != nil {
		return false, fmt.Errorf("promote waitlist entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAvailableTrips backs GET /trips/available: every scheduled trip that
// still has at least one open seat and hasn't yet departed, soonest first.
func (r *Repository) ListAvailableTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM driver_trips
		WHERE status = $1 AND available_seats > 0 AND departure_time > $2
		ORDER BY departure_time ASC
		LIMIT $3 OFFSET $4
	`, models.TripScheduled, time.Now(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list available trips: %w", err)
	}
	defer rows.Close()

	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

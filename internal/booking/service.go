package booking

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/eventbus"
	"github.com/carpoolhq/backend/pkg/logger"
	"github.com/carpoolhq/backend/pkg/models"
	"github.com/carpoolhq/backend/pkg/sse"
)

// Service is BookingFSM (spec §4.5): the participant state machine layered
// on top of InventoryStore's atomic seat bookkeeping. Every transition is a
// single guarded UPDATE; the caller's return value (rows affected) is the
// sole arbiter of who won a race.
type Service struct {
	repo   RepositoryInterface
	bus    *eventbus.Bus
	sseBus *sse.Bus
}

// NewService builds a Service. bus and sseBus may be nil in tests; a nil
// bus just skips publication the same way a disconnected one would.
func NewService(repo RepositoryInterface, bus *eventbus.Bus, sseBus *sse.Bus) *Service {
	return &Service{repo: repo, bus: bus, sseBus: sseBus}
}

// BookTripInput is bookTrip's argument set (spec §4.5).
type BookTripInput struct {
	TripID  uuid.UUID
	UserID  uuid.UUID
	Pickup  models.Location
	Dropoff models.Location
	Seats   int
}

// BookTrip is bookTrip: a rider requests seats on a scheduled trip.
func (s *Service) BookTrip(ctx context.Context, in BookTripInput) (*models.Participant, error) {
	if in.Seats < 1 || in.Seats > 4 {
		return nil, common.NewValidationError("seats must be between 1 and 4")
	}

	trip, err := s.repo.GetTrip(ctx, in.TripID)
	if err != nil {
		return nil, common.NewNotFoundError("trip not found")
	}
	if trip.Status != models.TripScheduled {
		return nil, common.NewConflictError("trip is not accepting bookings")
	}
	if trip.AvailableSeats < in.Seats {
		return nil, common.NewConflictError("not enough seats available")
	}

	if existing, err := s.repo.GetParticipantForTripAndUser(ctx, in.TripID, in.UserID); err == nil && existing != nil {
		return nil, common.NewConflictError("already booked on this trip")
	}

	amountDue := math.Round(trip.PricePerSeat*float64(in.Seats)*100) / 100

	p := &models.Participant{
		TripID:    in.TripID,
		UserID:    in.UserID,
		Role:      models.ParticipantRider,
		Status:    models.ParticipantRequested,
		SeatsHeld: in.Seats,
		AmountDue: amountDue,
		Currency:  trip.Currency,
	}
	if err := s.repo.InsertParticipant(ctx, p); err != nil {
		return nil, common.NewConflictError("already booked on this trip")
	}

	s.publishBookingEvent(eventbus.SubjectBookingRequested, sse.TopicBookingRequested, eventbus.BookingRequestedData{
		ParticipantID: p.ID,
		TripID:        trip.ID,
		RiderID:       in.UserID,
		DriverID:      trip.DriverID,
		SeatsHeld:     in.Seats,
		RequestedAt:   time.Now().UTC(),
	}, trip.DriverID, in.UserID)

	return p, nil
}

// AcceptBooking is acceptBooking: the driver admits a pending rider,
// reserving the seat atomically. reserveSeat runs before the status flip,
// so a reserve failure never leaves anything to compensate.
func (s *Service) AcceptBooking(ctx context.Context, tripID, participantID, actorID uuid.UUID) (*models.Participant, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return nil, common.NewNotFoundError("trip not found")
	}
	if trip.DriverID != actorID {
		return nil, common.NewForbiddenError("only the driver may accept a booking")
	}

	p, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil || p.TripID != tripID {
		return nil, common.NewNotFoundError("participant not found")
	}
	if p.Status != models.ParticipantRequested {
		return nil, common.NewConflictError("booking is no longer pending")
	}

	reserved, err := s.repo.ReserveSeat(ctx, tripID, p.SeatsHeld)
	if err != nil {
		return nil, common.NewInternalError("failed to reserve seat")
	}
	if !reserved {
		return nil, common.NewConflictError("no seats remaining")
	}

	ok, err := s.repo.TransitionParticipant(ctx, participantID, models.ParticipantRequested, models.ParticipantAccepted)
	if err != nil {
		return nil, common.NewInternalError("failed to accept booking")
	}
	if !ok {
		// Lost the race after reserving the seat (e.g. the rider cancelled
		// concurrently). Give the seat back — there is no accepted
		// participant left to hold it.
		if relErr := s.repo.ReleaseSeat(ctx, tripID, p.SeatsHeld); relErr != nil {
			logger.Get().Sugar().Warnf("booking: failed to release compensating seat for trip %s: %v", tripID, relErr)
		}
		return nil, common.NewConflictError("booking is no longer pending")
	}

	p.Status = models.ParticipantAccepted

	s.publishBookingEvent(eventbus.SubjectBookingAccepted, sse.TopicBookingAccepted, eventbus.BookingAcceptedData{
		ParticipantID: p.ID,
		TripID:        tripID,
		RiderID:       p.UserID,
		DriverID:      actorID,
		SeatsHeld:     p.SeatsHeld,
		AcceptedAt:    time.Now().UTC(),
	}, actorID, p.UserID)

	return p, nil
}

// RejectBooking is rejectBooking: the driver declines a pending rider; no
// seat was ever reserved so none is released.
func (s *Service) RejectBooking(ctx context.Context, tripID, participantID, actorID uuid.UUID, reason string) (*models.Participant, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return nil, common.NewNotFoundError("trip not found")
	}
	if trip.DriverID != actorID {
		return nil, common.NewForbiddenError("only the driver may reject a booking")
	}

	p, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil || p.TripID != tripID {
		return nil, common.NewNotFoundError("participant not found")
	}

	ok, err := s.repo.TransitionParticipant(ctx, participantID, models.ParticipantRequested, models.ParticipantRejected)
	if err != nil {
		return nil, common.NewInternalError("failed to reject booking")
	}
	if !ok {
		return nil, common.NewConflictError("booking is no longer pending")
	}

	p.Status = models.ParticipantRejected

	s.publishBookingEvent(eventbus.SubjectBookingRejected, sse.TopicBookingRejected, eventbus.BookingRejectedData{
		ParticipantID: p.ID,
		TripID:        tripID,
		RiderID:       p.UserID,
		DriverID:      actorID,
		Reason:        reason,
		RejectedAt:    time.Now().UTC(),
	}, actorID, p.UserID)

	return p, nil
}

// CancelTrip is cancelTrip: the driver pulls a trip, cascading cancellation
// to every still-open participant.
func (s *Service) CancelTrip(ctx context.Context, tripID, actorID uuid.UUID, reason string) error {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return common.NewNotFoundError("trip not found")
	}
	if trip.DriverID != actorID {
		return common.NewForbiddenError("only the driver may cancel this trip")
	}
	if trip.Status != models.TripScheduled && trip.Status != models.TripActive {
		return common.NewConflictError("trip cannot be cancelled from its current state")
	}

	if err := s.repo.SetTripStatus(ctx, tripID, models.TripCancelled); err != nil {
		return common.NewInternalError("failed to cancel trip")
	}

	participants, err := s.repo.ParticipantsForTrip(ctx, tripID)
	if err != nil {
		logger.Get().Sugar().Warnf("booking: failed to load participants for cancelled trip %s: %v", tripID, err)
		participants = nil
	}

	affected := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		if p.Status != models.ParticipantAccepted && p.Status != models.ParticipantRequested {
			continue
		}
		if _, err := s.repo.TransitionParticipant(ctx, p.ID, p.Status, models.ParticipantCancelled); err != nil {
			logger.Get().Sugar().Warnf("booking: failed to cancel participant %s: %v", p.ID, err)
			continue
		}
		affected = append(affected, p.UserID)
	}

	s.publishBookingEvent(eventbus.SubjectTripCancelled, sse.TopicTripCancelled, eventbus.TripCancelledData{
		TripID:           tripID,
		DriverID:         actorID,
		AffectedRiderIDs: affected,
		Reason:           reason,
		CancelledAt:      time.Now().UTC(),
	}, append(affected, actorID)...)

	return nil
}

// CancelBooking lets a single rider withdraw their own participation.
// Releasing an accepted seat triggers waitlist promotion (spec §4.5); a
// still-pending booking never held a seat, so nothing is promoted.
func (s *Service) CancelBooking(ctx context.Context, tripID, participantID, actorID uuid.UUID) error {
	p, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil || p.TripID != tripID {
		return common.NewNotFoundError("participant not found")
	}
	if p.UserID != actorID {
		return common.NewForbiddenError("only the rider may cancel their own booking")
	}
	if p.Status != models.ParticipantRequested && p.Status != models.ParticipantAccepted {
		return common.NewConflictError("booking cannot be cancelled from its current state")
	}

	wasAccepted := p.Status == models.ParticipantAccepted

	ok, err := s.repo.TransitionParticipant(ctx, participantID, p.Status, models.ParticipantCancelled)
	if err != nil {
		return common.NewInternalError("failed to cancel booking")
	}
	if !ok {
		return common.NewConflictError("booking cannot be cancelled from its current state")
	}

	if wasAccepted {
		if err := s.repo.ReleaseSeat(ctx, tripID, p.SeatsHeld); err != nil {
			logger.Get().Sugar().Warnf("booking: failed to release seat for cancelled participant %s: %v", participantID, err)
			return nil
		}
		s.promoteWaitlist(ctx, tripID)
	}

	return nil
}

// promoteWaitlist is the post-release step required after any transition
// that frees a seat (spec §4.5): find the oldest `waiting` entry that fits,
// atomically flip it to `promoted`, then materialise a `requested`
// participant for the promoted user. Best-effort: a failure here is logged,
// not surfaced, since the triggering cancellation already succeeded.
func (s *Service) promoteWaitlist(ctx context.Context, tripID uuid.UUID) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return
	}

	entry, err := s.repo.NextWaitlistEntry(ctx, tripID, trip.AvailableSeats)
	if err != nil {
		logger.Get().Sugar().Warnf("booking: waitlist lookup failed for trip %s: %v", tripID, err)
		return
	}
	if entry == nil {
		return
	}

	ok, err := s.repo.PromoteWaitlistEntry(ctx, entry.ID)
	if err != nil {
		logger.Get().Sugar().Warnf("booking: waitlist promotion failed for entry %s: %v", entry.ID, err)
		return
	}
	if !ok {
		return
	}

	amountDue := math.Round(trip.PricePerSeat*float64(entry.SeatsNeeded)*100) / 100
	p := &models.Participant{
		TripID:    tripID,
		UserID:    entry.UserID,
		Role:      models.ParticipantRider,
		Status:    models.ParticipantRequested,
		SeatsHeld: entry.SeatsNeeded,
		AmountDue: amountDue,
		Currency:  trip.Currency,
	}
	if err := s.repo.InsertParticipant(ctx, p); err != nil {
		logger.Get().Sugar().Warnf("booking: failed to materialise promoted participant for entry %s: %v", entry.ID, err)
		return
	}

	s.publishBookingEvent(eventbus.SubjectBookingRequested, sse.TopicBookingRequested, eventbus.BookingRequestedData{
		ParticipantID: p.ID,
		TripID:        tripID,
		RiderID:       entry.UserID,
		DriverID:      trip.DriverID,
		SeatsHeld:     entry.SeatsNeeded,
		RequestedAt:   time.Now().UTC(),
	}, trip.DriverID, entry.UserID)
}

// CompleteTrip transitions every accepted participant of a trip to
// `completed`, the precondition rateTrip requires. Triggered by a cron
// sweep over trips whose departure window has closed, not by user action.
func (s *Service) CompleteTrip(ctx context.Context, tripID uuid.UUID) error {
	if _, err := s.repo.GetTrip(ctx, tripID); err != nil {
		return common.NewNotFoundError("trip not found")
	}

	participants, err := s.repo.ParticipantsForTrip(ctx, tripID)
	if err != nil {
		return common.NewInternalError("failed to load participants")
	}
	for _, p := range participants {
		if p.Status != models.ParticipantAccepted {
			continue
		}
		if _, err := s.repo.TransitionParticipant(ctx, p.ID, models.ParticipantAccepted, models.ParticipantCompleted); err != nil {
			logger.Get().Sugar().Warnf("booking: failed to complete participant %s: %v", p.ID, err)
		}
	}

	if err := s.repo.SetTripStatus(ctx, tripID, models.TripCompleted); err != nil {
		return common.NewInternalError("failed to complete trip")
	}
	return nil
}

// RateTrip is rateTrip: a rider rates a completed trip. Idempotent by
// construction — the guarded UPDATE only ever applies once (spec §4.5's
// `completed -> rate -> completed` edge); a repeat call is a silent no-op
// rather than an error, matching "rating recorded once".
func (s *Service) RateTrip(ctx context.Context, tripID, userID uuid.UUID, rating int, encryptedReview []byte) error {
	if rating < 1 || rating > 5 {
		return common.NewValidationError("rating must be between 1 and 5")
	}

	p, err := s.repo.GetParticipantForTripAndUser(ctx, tripID, userID)
	if err != nil {
		return common.NewNotFoundError("participant not found")
	}
	if p.Status != models.ParticipantCompleted {
		return common.NewValidationError("trip is not completed yet")
	}

	if _, err := s.repo.SetParticipantRating(ctx, p.ID, rating, encryptedReview); err != nil {
		return common.NewInternalError("failed to record rating")
	}
	return nil
}

// ListAvailableTrips backs GET /trips/available.
func (s *Service) ListAvailableTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error) {
	return s.repo.ListAvailableTrips(ctx, limit, offset)
}

// publishBookingEvent fans a domain event out to both collaborators: the
// durable NATS bus for out-of-process consumers (notifications, analytics)
// and the in-process SSE bus for live clients. Mirrors the teacher's
// fire-and-forget publishEvent — failures are logged, never surfaced to the
// caller, since the state transition they describe already committed.
func (s *Service) publishBookingEvent(subject, topic string, data interface{}, targetUserIDs ...uuid.UUID) {
	if s.sseBus != nil {
		s.sseBus.Emit(topic, data, targetUserIDs...)
	}

	if s.bus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "booking-service", data)
		if err != nil {
			logger.Get().Warn("failed to create event", zap.String("subject", subject), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.bus.Publish(ctx, subject, evt); err != nil {
			logger.Get().Warn("failed to publish event", zap.String("subject", subject), zap.Error(err))
		}
	}()
}

package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/models"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *mockRepository) ReserveSeat(ctx context.Context, tripID uuid.UUID, seats int) (bool, error) {
	args := m.Called(ctx, tripID, seats)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) ReleaseSeat(ctx context.Context, tripID uuid.UUID, seats int) error {
	args := m.Called(ctx, tripID, seats)
	return args.Error(0)
}

func (m *mockRepository) SetTripStatus(ctx context.Context, tripID uuid.UUID, status models.TripStatus) error {
	args := m.Called(ctx, tripID, status)
	return args.Error(0)
}

func (m *mockRepository) InsertParticipant(ctx context.Context, p *models.Participant) error {
	args := m.Called(ctx, p)
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockRepository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *mockRepository) GetParticipantForTripAndUser(ctx context.Context, tripID, userID uuid.UUID) (*models.Participant, error) {
	args := m.Called(ctx, tripID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *mockRepository) ParticipantsForTrip(ctx context.Context, tripID uuid.UUID) ([]*models.Participant, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Participant), args.Error(1)
}

func (m *mockRepository) TransitionParticipant(ctx context.Context, id uuid.UUID, from, to models.ParticipantStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) SetParticipantRating(ctx context.Context, id uuid.UUID, rating int, encryptedReview []byte) (bool, error) {
	args := m.Called(ctx, id, rating, encryptedReview)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) JoinWaitlist(ctx context.Context, entry *models.WaitlistEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockRepository) NextWaitlistEntry(ctx context.Context, tripID uuid.UUID, availableSeats int) (*models.WaitlistEntry, error) {
	args := m.Called(ctx, tripID, availableSeats)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WaitlistEntry), args.Error(1)
}

func (m *mockRepository) PromoteWaitlistEntry(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) ListAvailableTrips(ctx context.Context, limit, offset int) ([]*models.Trip, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Trip), args.Error(1)
}

func scheduledTrip() *models.Trip {
	return &models.Trip{
		ID:             uuid.New(),
		DriverID:       uuid.New(),
		Status:         models.TripScheduled,
		TotalSeats:     4,
		AvailableSeats: 2,
		PricePerSeat:   40,
		Currency:       "ZAR",
		DepartureTime:  time.Now().Add(time.Hour),
	}
}

// S1 (spec §8): booking a scheduled trip with open seats succeeds and
// charges seatsHeld * pricePerSeat.
func TestBookTrip_Success(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	riderID := uuid.New()

	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("GetParticipantForTripAndUser", mock.Anything, trip.ID, riderID).Return(nil, assert.AnError)
	repo.On("InsertParticipant", mock.Anything, mock.AnythingOfType("*models.Participant")).Return(nil)

	p, err := svc.BookTrip(context.Background(), BookTripInput{TripID: trip.ID, UserID: riderID, Seats: 2})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantRequested, p.Status)
	assert.Equal(t, 80.0, p.AmountDue)
	repo.AssertExpectations(t)
}

func TestBookTrip_NotEnoughSeats(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	trip.AvailableSeats = 1

	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)

	_, err := svc.BookTrip(context.Background(), BookTripInput{TripID: trip.ID, UserID: uuid.New(), Seats: 2})
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeConflict, appErr.ErrorCode)
}

func TestBookTrip_InvalidSeatCount(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	_, err := svc.BookTrip(context.Background(), BookTripInput{TripID: uuid.New(), UserID: uuid.New(), Seats: 5})
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeValidation, appErr.ErrorCode)
}

// S2 (spec §8): seat race — the losing accept call must receive CONFLICT and
// never double-reserve a seat.
func TestAcceptBooking_SeatRaceLoserGetsConflict(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	trip.AvailableSeats = 0
	participant := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantRequested, SeatsHeld: 1}

	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("ReserveSeat", mock.Anything, trip.ID, 1).Return(false, nil)

	_, err := svc.AcceptBooking(context.Background(), trip.ID, participant.ID, trip.DriverID)
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeConflict, appErr.ErrorCode)
	repo.AssertNotCalled(t, "TransitionParticipant", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptBooking_CompensatesWhenTransitionLoses(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	participant := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantRequested, SeatsHeld: 1}

	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("ReserveSeat", mock.Anything, trip.ID, 1).Return(true, nil)
	repo.On("TransitionParticipant", mock.Anything, participant.ID, models.ParticipantRequested, models.ParticipantAccepted).Return(false, nil)
	repo.On("ReleaseSeat", mock.Anything, trip.ID, 1).Return(nil)

	_, err := svc.AcceptBooking(context.Background(), trip.ID, participant.ID, trip.DriverID)
	require.Error(t, err)
	repo.AssertCalled(t, "ReleaseSeat", mock.Anything, trip.ID, 1)
}

func TestAcceptBooking_RequiresDriverActor(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)

	_, err := svc.AcceptBooking(context.Background(), trip.ID, uuid.New(), uuid.New())
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeAuthorization, appErr.ErrorCode)
}

func TestAcceptBooking_Success(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	participant := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantRequested, SeatsHeld: 1}

	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("ReserveSeat", mock.Anything, trip.ID, 1).Return(true, nil)
	repo.On("TransitionParticipant", mock.Anything, participant.ID, models.ParticipantRequested, models.ParticipantAccepted).Return(true, nil)

	p, err := svc.AcceptBooking(context.Background(), trip.ID, participant.ID, trip.DriverID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantAccepted, p.Status)
}

func TestRejectBooking_Success(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	participant := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantRequested}

	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("TransitionParticipant", mock.Anything, participant.ID, models.ParticipantRequested, models.ParticipantRejected).Return(true, nil)

	p, err := svc.RejectBooking(context.Background(), trip.ID, participant.ID, trip.DriverID, "schedule changed")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantRejected, p.Status)
}

// S6 (spec §8): cancelling an accepted booking releases its seat and
// promotes the oldest fitting waitlist entry.
func TestCancelBooking_PromotesWaitlist(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	trip.AvailableSeats = 0
	participant := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantAccepted, SeatsHeld: 1}
	waitlisted := &models.WaitlistEntry{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), SeatsNeeded: 1, Status: models.WaitlistWaiting}

	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("TransitionParticipant", mock.Anything, participant.ID, models.ParticipantAccepted, models.ParticipantCancelled).Return(true, nil)
	repo.On("ReleaseSeat", mock.Anything, trip.ID, 1).Return(nil)
	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("NextWaitlistEntry", mock.Anything, trip.ID, trip.AvailableSeats).Return(waitlisted, nil)
	repo.On("PromoteWaitlistEntry", mock.Anything, waitlisted.ID).Return(true, nil)
	repo.On("InsertParticipant", mock.Anything, mock.AnythingOfType("*models.Participant")).Return(nil)

	err := svc.CancelBooking(context.Background(), trip.ID, participant.ID, participant.UserID)
	require.NoError(t, err)
	repo.AssertCalled(t, "PromoteWaitlistEntry", mock.Anything, waitlisted.ID)
}

func TestCancelBooking_PendingBookingSkipsWaitlist(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	participant := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantRequested, SeatsHeld: 1}

	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("TransitionParticipant", mock.Anything, participant.ID, models.ParticipantRequested, models.ParticipantCancelled).Return(true, nil)

	err := svc.CancelBooking(context.Background(), trip.ID, participant.ID, participant.UserID)
	require.NoError(t, err)
	repo.AssertNotCalled(t, "ReleaseSeat", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelTrip_CascadesToParticipants(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	trip := scheduledTrip()
	accepted := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantAccepted}
	rejected := &models.Participant{ID: uuid.New(), TripID: trip.ID, UserID: uuid.New(), Status: models.ParticipantRejected}

	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("SetTripStatus", mock.Anything, trip.ID, models.TripCancelled).Return(nil)
	repo.On("ParticipantsForTrip", mock.Anything, trip.ID).Return([]*models.Participant{accepted, rejected}, nil)
	repo.On("TransitionParticipant", mock.Anything, accepted.ID, models.ParticipantAccepted, models.ParticipantCancelled).Return(true, nil)

	err := svc.CancelTrip(context.Background(), trip.ID, trip.DriverID, "vehicle issue")
	require.NoError(t, err)
	repo.AssertNotCalled(t, "TransitionParticipant", mock.Anything, rejected.ID, mock.Anything, mock.Anything)
}

func TestRateTrip_RequiresCompletedStatus(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	tripID, userID := uuid.New(), uuid.New()
	participant := &models.Participant{ID: uuid.New(), TripID: tripID, UserID: userID, Status: models.ParticipantAccepted}

	repo.On("GetParticipantForTripAndUser", mock.Anything, tripID, userID).Return(participant, nil)

	err := svc.RateTrip(context.Background(), tripID, userID, 5, nil)
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeValidation, appErr.ErrorCode)
}

func TestRateTrip_Success(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	tripID, userID := uuid.New(), uuid.New()
	participant := &models.Participant{ID: uuid.New(), TripID: tripID, UserID: userID, Status: models.ParticipantCompleted}

	repo.On("GetParticipantForTripAndUser", mock.Anything, tripID, userID).Return(participant, nil)
	repo.On("SetParticipantRating", mock.Anything, participant.ID, 5, []byte("great trip")).Return(true, nil)

	err := svc.RateTrip(context.Background(), tripID, userID, 5, []byte("great trip"))
	require.NoError(t, err)
}

func TestRateTrip_InvalidRating(t *testing.T) {
	repo := new(mockRepository)
	svc := NewService(repo, nil, nil)

	err := svc.RateTrip(context.Background(), uuid.New(), uuid.New(), 6, nil)
	require.Error(t, err)
}

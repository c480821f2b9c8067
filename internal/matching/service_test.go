package matching

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

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateDriverTrip(ctx context.Context, trip *models.Trip, cfg models.MatchConfig) error {
	args := m.Called(ctx, trip, cfg)
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockStore) GetDriverTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *mockStore) UpdateTripStatus(ctx context.Context, id uuid.UUID, status models.TripStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockStore) CreateRiderRequest(ctx context.Context, req *models.RiderRequest, cfg models.MatchConfig) error {
	args := m.Called(ctx, req, cfg)
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockStore) GetRiderRequest(ctx context.Context, id uuid.UUID) (*models.RiderRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RiderRequest), args.Error(1)
}

func (m *mockStore) UpdateRiderRequestStatus(ctx context.Context, id uuid.UUID, status models.RiderRequestStatus, matchedTripID *uuid.UUID) error {
	args := m.Called(ctx, id, status, matchedTripID)
	return args.Error(0)
}

func (m *mockStore) FindCandidateDrivers(ctx context.Context, req *models.RiderRequest, cfg models.MatchConfig) ([]*models.Trip, error) {
	args := m.Called(ctx, req, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Trip), args.Error(1)
}

func (m *mockStore) SaveMatchResult(ctx context.Context, match *models.MatchResult) error {
	args := m.Called(ctx, match)
	if match.ID == uuid.Nil {
		match.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockStore) GetMatchResult(ctx context.Context, id uuid.UUID) (*models.MatchResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MatchResult), args.Error(1)
}

func (m *mockStore) UpdateMatchStatus(ctx context.Context, id uuid.UUID, status models.MatchStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *mockStore) TransitionMatchStatus(ctx context.Context, id, driverTripID, riderRequestID uuid.UUID, from []models.MatchStatus, to models.MatchStatus) (bool, error) {
	args := m.Called(ctx, id, driverTripID, riderRequestID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MatchResultsForTrip(ctx context.Context, driverTripID uuid.UUID) ([]*models.MatchResult, error) {
	args := m.Called(ctx, driverTripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.MatchResult), args.Error(1)
}

func (m *mockStore) SavePoolAssignment(ctx context.Context, p *models.PoolAssignment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockStore) GetMatchConfig(ctx context.Context, organizationID *uuid.UUID) models.MatchConfig {
	args := m.Called(ctx, organizationID)
	return args.Get(0).(models.MatchConfig)
}

func (m *mockStore) SetMatchConfig(ctx context.Context, cfg models.MatchConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func sampleTrip(driverID uuid.UUID) *models.Trip {
	return &models.Trip{
		ID:             uuid.New(),
		DriverID:       driverID,
		Origin:         models.Location{Latitude: -33.92, Longitude: 18.42},
		Destination:    models.Location{Latitude: -33.95, Longitude: 18.50},
		DepartureTime:  time.Now().Add(30 * time.Minute),
		TotalSeats:     4,
		AvailableSeats: 3,
		PricePerSeat:   25,
		Currency:       "ZAR",
		DriverRating:   4.6,
		Status:         models.TripScheduled,
	}
}

func sampleRiderRequest(riderID uuid.UUID) *models.RiderRequest {
	now := time.Now()
	return &models.RiderRequest{
		ID:                uuid.New(),
		RiderID:           riderID,
		Pickup:            models.Location{Latitude: -33.921, Longitude: 18.421},
		Dropoff:           models.Location{Latitude: -33.949, Longitude: 18.499},
		EarliestDeparture: now,
		LatestDeparture:   now.Add(time.Hour),
		SeatsNeeded:       1,
		Status:            models.RequestPending,
	}
}

func TestFindMatches_ExistingRequest_PersistsAndMarksMatched(t *testing.T) {
	store := new(mockStore)
	engine := NewEngine()
	svc := NewService(store, engine, nil, nil)

	riderID := uuid.New()
	rr := sampleRiderRequest(riderID)
	trip := sampleTrip(uuid.New())
	cfg := models.DefaultMatchConfig()

	store.On("GetMatchConfig", mock.Anything, (*uuid.UUID)(nil)).Return(cfg)
	store.On("GetRiderRequest", mock.Anything, rr.ID).Return(rr, nil)
	store.On("FindCandidateDrivers", mock.Anything, rr, cfg).Return([]*models.Trip{trip}, nil)
	store.On("SaveMatchResult", mock.Anything, mock.AnythingOfType("*models.MatchResult")).Return(nil)
	store.On("UpdateRiderRequestStatus", mock.Anything, rr.ID, models.RequestMatched, mock.AnythingOfType("*uuid.UUID")).Return(nil)

	result, err := svc.FindMatches(context.Background(), riderID, FindMatchesRequest{RiderRequestID: &rr.ID})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, trip.ID, result.Matches[0].DriverTripID)
	assert.Equal(t, 1, result.Meta.CandidatesConsidered)
	store.AssertExpectations(t)
}

func TestFindMatches_WrongRider_Forbidden(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	rr := sampleRiderRequest(uuid.New())
	store.On("GetRiderRequest", mock.Anything, rr.ID).Return(rr, nil)

	_, err := svc.FindMatches(context.Background(), uuid.New(), FindMatchesRequest{RiderRequestID: &rr.ID})
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeAuthorization, appErr.ErrorCode)
}

func TestFindMatches_InlineRequest_PostsThenMatches(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	riderID := uuid.New()
	cfg := models.DefaultMatchConfig()
	inline := PostRiderRequestRequest{
		Pickup:            models.Location{Latitude: -33.921, Longitude: 18.421},
		Dropoff:           models.Location{Latitude: -33.949, Longitude: 18.499},
		EarliestDeparture: time.Now(),
		LatestDeparture:   time.Now().Add(time.Hour),
		SeatsNeeded:       1,
	}

	store.On("GetMatchConfig", mock.Anything, (*uuid.UUID)(nil)).Return(cfg)
	store.On("CreateRiderRequest", mock.Anything, mock.AnythingOfType("*models.RiderRequest"), cfg).Return(nil)
	store.On("FindCandidateDrivers", mock.Anything, mock.AnythingOfType("*models.RiderRequest"), cfg).Return([]*models.Trip{}, nil)

	result, err := svc.FindMatches(context.Background(), riderID, FindMatchesRequest{Inline: &inline})
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	store.AssertExpectations(t)
}

func TestFindMatches_MissingRiderRequestAndInline_ValidationError(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	_, err := svc.FindMatches(context.Background(), uuid.New(), FindMatchesRequest{})
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeValidation, appErr.ErrorCode)
}

func pendingMatch(driverID, riderID uuid.UUID) *models.MatchResult {
	return &models.MatchResult{
		ID:             uuid.New(),
		DriverTripID:   uuid.New(),
		RiderRequestID: uuid.New(),
		DriverID:       driverID,
		RiderID:        riderID,
		Status:         models.MatchPending,
	}
}

func TestConfirmMatch_Success(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	riderID := uuid.New()
	match := pendingMatch(uuid.New(), riderID)

	store.On("GetMatchResult", mock.Anything, match.ID).Return(match, nil)
	store.On("TransitionMatchStatus", mock.Anything, match.ID, match.DriverTripID, match.RiderRequestID,
		[]models.MatchStatus{models.MatchPending}, models.MatchConfirmed).Return(true, nil)
	store.On("UpdateRiderRequestStatus", mock.Anything, match.RiderRequestID, models.RequestConfirmed, mock.AnythingOfType("*uuid.UUID")).Return(nil)

	confirmed, err := svc.ConfirmMatch(context.Background(), riderID, ConfirmMatchRequest{
		MatchID: match.ID, DriverTripID: match.DriverTripID, RiderRequestID: match.RiderRequestID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MatchConfirmed, confirmed.Status)
	store.AssertExpectations(t)
}

func TestConfirmMatch_LostRace_Conflict(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	riderID := uuid.New()
	match := pendingMatch(uuid.New(), riderID)

	store.On("GetMatchResult", mock.Anything, match.ID).Return(match, nil)
	store.On("TransitionMatchStatus", mock.Anything, match.ID, match.DriverTripID, match.RiderRequestID,
		[]models.MatchStatus{models.MatchPending}, models.MatchConfirmed).Return(false, nil)

	_, err := svc.ConfirmMatch(context.Background(), riderID, ConfirmMatchRequest{
		MatchID: match.ID, DriverTripID: match.DriverTripID, RiderRequestID: match.RiderRequestID,
	})
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeConflict, appErr.ErrorCode)
}

func TestConfirmMatch_WrongActor_Forbidden(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	match := pendingMatch(uuid.New(), uuid.New())
	store.On("GetMatchResult", mock.Anything, match.ID).Return(match, nil)

	_, err := svc.ConfirmMatch(context.Background(), uuid.New(), ConfirmMatchRequest{
		MatchID: match.ID, DriverTripID: match.DriverTripID, RiderRequestID: match.RiderRequestID,
	})
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeAuthorization, appErr.ErrorCode)
}

func TestRejectMatch_Success_ReopensRequest(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	driverID := uuid.New()
	match := pendingMatch(driverID, uuid.New())

	store.On("GetMatchResult", mock.Anything, match.ID).Return(match, nil)
	store.On("TransitionMatchStatus", mock.Anything, match.ID, match.DriverTripID, match.RiderRequestID,
		[]models.MatchStatus{models.MatchPending}, models.MatchRejected).Return(true, nil)
	store.On("UpdateRiderRequestStatus", mock.Anything, match.RiderRequestID, models.RequestPending, (*uuid.UUID)(nil)).Return(nil)

	err := svc.RejectMatch(context.Background(), driverID, RejectMatchRequest{MatchID: match.ID})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestFindPool_PoolingDisabled_ValidationError(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	cfg := models.DefaultMatchConfig()
	cfg.EnableMultiRider = false
	store.On("GetMatchConfig", mock.Anything, (*uuid.UUID)(nil)).Return(cfg)

	_, err := svc.FindPool(context.Background(), uuid.New(), FindMatchesRequest{RiderRequestID: func() *uuid.UUID { id := uuid.New(); return &id }()})
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeValidation, appErr.ErrorCode)
}

func TestStats_AccumulatesAcrossCalls(t *testing.T) {
	store := new(mockStore)
	svc := NewService(store, NewEngine(), nil, nil)

	riderID := uuid.New()
	rr := sampleRiderRequest(riderID)
	cfg := models.DefaultMatchConfig()

	store.On("GetMatchConfig", mock.Anything, (*uuid.UUID)(nil)).Return(cfg)
	store.On("GetRiderRequest", mock.Anything, rr.ID).Return(rr, nil)
	store.On("FindCandidateDrivers", mock.Anything, rr, cfg).Return([]*models.Trip{}, nil)

	_, err := svc.FindMatches(context.Background(), riderID, FindMatchesRequest{RiderRequestID: &rr.ID})
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.TotalFindCalls)
	assert.Equal(t, int64(0), stats.TotalMatchesFound)
}

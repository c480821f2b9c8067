package payments

import (
	"context"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stripe/stripe-go/v83"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/models"
)

type mockRepository struct {
	mock.Mock
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

func (m *mockRepository) GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error) {
	args := m.Called(ctx, tripID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trip), args.Error(1)
}

func (m *mockRepository) SetPendingIntent(ctx context.Context, participantID uuid.UUID, intentID string) (bool, error) {
	args := m.Called(ctx, participantID, intentID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) TransitionPaymentStatus(ctx context.Context, participantID uuid.UUID, intentID string, from []models.PaymentStatus, to models.PaymentStatus) (bool, error) {
	args := m.Called(ctx, participantID, intentID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) SetPayoutStatus(ctx context.Context, participantID uuid.UUID, status models.PayoutStatus) error {
	args := m.Called(ctx, participantID, status)
	return args.Error(0)
}

func (m *mockRepository) WriteAuditLog(ctx context.Context, entry *models.AuditLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type mockStripeClient struct {
	mock.Mock
}

func (m *mockStripeClient) CreateCustomer(email, name string, metadata map[string]string) (*stripe.Customer, error) {
	args := m.Called(email, name, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Customer), args.Error(1)
}

func (m *mockStripeClient) CreatePaymentIntent(amount int64, currency, customerID, description string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	args := m.Called(amount, currency, customerID, description, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentIntent), args.Error(1)
}

func (m *mockStripeClient) ConfirmPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	args := m.Called(paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentIntent), args.Error(1)
}

func (m *mockStripeClient) CapturePaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	args := m.Called(paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentIntent), args.Error(1)
}

func (m *mockStripeClient) CreateRefund(chargeID string, amount *int64, reason string) (*stripe.Refund, error) {
	args := m.Called(chargeID, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Refund), args.Error(1)
}

func (m *mockStripeClient) CreateTransfer(amount int64, currency, destination, description string, metadata map[string]string) (*stripe.Transfer, error) {
	args := m.Called(amount, currency, destination, description, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Transfer), args.Error(1)
}

func (m *mockStripeClient) GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	args := m.Called(paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentIntent), args.Error(1)
}

func (m *mockStripeClient) CancelPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error) {
	args := m.Called(paymentIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.PaymentIntent), args.Error(1)
}

func acceptedRiderParticipant(tripID uuid.UUID) *models.Participant {
	return &models.Participant{
		ID:            uuid.New(),
		TripID:        tripID,
		UserID:        uuid.New(),
		Role:          models.ParticipantRider,
		Status:        models.ParticipantAccepted,
		SeatsHeld:     2,
		Currency:      "ZAR",
		PaymentStatus: models.PaymentUnpaid,
	}
}

func tripWithPrice(price float64) *models.Trip {
	return &models.Trip{ID: uuid.New(), PricePerSeat: price, Currency: "ZAR", Status: models.TripScheduled}
}

func newTestService(repo RepositoryInterface, stripeClient StripeClientInterface, webhookSecret, environment string) *Service {
	return NewService(repo, stripeClient, nil, nil, nil, webhookSecret, environment)
}

func TestCreateIntent_Success(t *testing.T) {
	trip := tripWithPrice(40)
	participant := acceptedRiderParticipant(trip.ID)

	repo := new(mockRepository)
	repo.On("GetParticipantForTripAndUser", mock.Anything, trip.ID, participant.UserID).Return(participant, nil)
	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("SetPendingIntent", mock.Anything, participant.ID, "pi_123").Return(true, nil)

	stripeClient := new(mockStripeClient)
	stripeClient.On("CreatePaymentIntent", int64(8000), "zar", "", mock.Anything, mock.Anything).
		Return(&stripe.PaymentIntent{ID: "pi_123", ClientSecret: "secret_123", Amount: 8000, Currency: "zar"}, nil)

	svc := newTestService(repo, stripeClient, "whsec_test", "development")

	resp, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		TripID:      trip.ID,
		UserID:      participant.UserID,
		AmountMinor: 8000,
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", resp.PaymentIntentID)
	assert.Equal(t, "secret_123", resp.ClientSecret)
	repo.AssertExpectations(t)
	stripeClient.AssertExpectations(t)
}

func TestCreateIntent_AmountMismatch(t *testing.T) {
	trip := tripWithPrice(40)
	participant := acceptedRiderParticipant(trip.ID)

	repo := new(mockRepository)
	repo.On("GetParticipantForTripAndUser", mock.Anything, trip.ID, participant.UserID).Return(participant, nil)
	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)

	svc := newTestService(repo, new(mockStripeClient), "whsec_test", "development")

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		TripID:      trip.ID,
		UserID:      participant.UserID,
		AmountMinor: 9999,
	})

	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeValidation, appErr.ErrorCode)
}

func TestCreateIntent_RejectsUnacceptedBooking(t *testing.T) {
	trip := tripWithPrice(40)
	participant := acceptedRiderParticipant(trip.ID)
	participant.Status = models.ParticipantRequested

	repo := new(mockRepository)
	repo.On("GetParticipantForTripAndUser", mock.Anything, trip.ID, participant.UserID).Return(participant, nil)

	svc := newTestService(repo, new(mockStripeClient), "whsec_test", "development")

	_, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		TripID:      trip.ID,
		UserID:      participant.UserID,
		AmountMinor: 8000,
	})

	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeConflict, appErr.ErrorCode)
}

// TestCreateIntent_ExistingPendingIntentIsReplaySafe covers spec §8 seed
// scenario S4: a retried createIntent call for a booking that already has a
// pending intent returns the same intent instead of creating a second one.
func TestCreateIntent_ExistingPendingIntentIsReplaySafe(t *testing.T) {
	trip := tripWithPrice(40)
	participant := acceptedRiderParticipant(trip.ID)
	participant.PaymentIntentID = "pi_existing"
	participant.PaymentStatus = models.PaymentPending

	repo := new(mockRepository)
	repo.On("GetParticipantForTripAndUser", mock.Anything, trip.ID, participant.UserID).Return(participant, nil)
	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)

	stripeClient := new(mockStripeClient)
	stripeClient.On("GetPaymentIntent", "pi_existing").
		Return(&stripe.PaymentIntent{ID: "pi_existing", ClientSecret: "secret_existing", Amount: 8000, Currency: "zar"}, nil)

	svc := newTestService(repo, stripeClient, "whsec_test", "development")

	resp, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		TripID:      trip.ID,
		UserID:      participant.UserID,
		AmountMinor: 8000,
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_existing", resp.PaymentIntentID)
	stripeClient.AssertNotCalled(t, "CreatePaymentIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestCreateIntent_ConcurrentSetPendingIntentLossReReads(t *testing.T) {
	trip := tripWithPrice(40)
	participant := acceptedRiderParticipant(trip.ID)

	winner := *participant
	winner.PaymentIntentID = "pi_winner"
	winner.PaymentStatus = models.PaymentPending

	repo := new(mockRepository)
	repo.On("GetParticipantForTripAndUser", mock.Anything, trip.ID, participant.UserID).Return(participant, nil)
	repo.On("GetTrip", mock.Anything, trip.ID).Return(trip, nil)
	repo.On("SetPendingIntent", mock.Anything, participant.ID, "pi_loser").Return(false, nil)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(&winner, nil)

	stripeClient := new(mockStripeClient)
	stripeClient.On("CreatePaymentIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&stripe.PaymentIntent{ID: "pi_loser", ClientSecret: "secret_loser", Amount: 8000, Currency: "zar"}, nil)
	stripeClient.On("GetPaymentIntent", "pi_winner").
		Return(&stripe.PaymentIntent{ID: "pi_winner", ClientSecret: "secret_winner", Amount: 8000, Currency: "zar"}, nil)

	svc := newTestService(repo, stripeClient, "whsec_test", "development")

	resp, err := svc.CreateIntent(context.Background(), CreateIntentInput{
		TripID:      trip.ID,
		UserID:      participant.UserID,
		AmountMinor: 8000,
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_winner", resp.PaymentIntentID)
}

func succeededWebhookBody(intentID, bookingID, tripID, userID string, amount int64) []byte {
	return []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "` + intentID + `",
				"amount": ` + strconv.FormatInt(amount, 10) + `,
				"metadata": {
					"bookingId": "` + bookingID + `",
					"tripId": "` + tripID + `",
					"userId": "` + userID + `"
				}
			}
		}
	}`)
}

// TestOnWebhook_AppliesSuccessAndIsIdempotentAtTheRepositoryLayer covers
// spec §8 seed scenario S3: a redelivered payment_intent.succeeded event
// only applies the transition once — the second delivery's guarded UPDATE
// affects zero rows and produces no second audit log or event.
func TestOnWebhook_AppliesSuccessAndIsIdempotentAtTheRepositoryLayer(t *testing.T) {
	participant := acceptedRiderParticipant(uuid.New())
	participant.PaymentIntentID = "pi_123"
	participant.PaymentStatus = models.PaymentPending

	body := succeededWebhookBody("pi_123", participant.ID.String(), participant.TripID.String(), participant.UserID.String(), 8000)

	repo := new(mockRepository)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("TransitionPaymentStatus", mock.Anything, participant.ID, "pi_123",
		[]models.PaymentStatus{models.PaymentPending, models.PaymentFailed, models.PaymentCanceled}, models.PaymentPaid,
	).Return(true, nil).Once()
	repo.On("WriteAuditLog", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(repo, new(mockStripeClient), "", "development")

	result, err := svc.OnWebhook(context.Background(), body, "")
	require.NoError(t, err)
	assert.True(t, result.Received)

	// Redelivery: the guarded UPDATE now affects zero rows.
	repo.On("TransitionPaymentStatus", mock.Anything, participant.ID, "pi_123",
		[]models.PaymentStatus{models.PaymentPending, models.PaymentFailed, models.PaymentCanceled}, models.PaymentPaid,
	).Return(false, nil).Once()

	result2, err := svc.OnWebhook(context.Background(), body, "")
	require.NoError(t, err)
	assert.True(t, result2.Received)

	repo.AssertNumberOfCalls(t, "WriteAuditLog", 1)
}

func TestOnWebhook_RequiresSecretInProduction(t *testing.T) {
	svc := newTestService(new(mockRepository), new(mockStripeClient), "", "production")

	_, err := svc.OnWebhook(context.Background(), []byte(`{}`), "")
	require.Error(t, err)
}

func TestOnWebhook_UnknownEventTypeIsTreatedAsSuccess(t *testing.T) {
	body := []byte(`{"id": "evt_unknown", "type": "customer.created", "data": {"object": {}}}`)

	svc := newTestService(new(mockRepository), new(mockStripeClient), "", "development")

	result, err := svc.OnWebhook(context.Background(), body, "")
	require.NoError(t, err)
	assert.True(t, result.Received)
}

func TestPayoutToDriver_RequiresPaidTrip(t *testing.T) {
	participant := &models.Participant{
		ID:            uuid.New(),
		Role:          models.ParticipantDriver,
		PaymentStatus: models.PaymentUnpaid,
		AmountDue:     100,
		Currency:      "ZAR",
	}

	repo := new(mockRepository)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)

	svc := newTestService(repo, new(mockStripeClient), "", "development")

	err := svc.PayoutToDriver(context.Background(), participant.ID, "acct_driver")
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeConflict, appErr.ErrorCode)
}

func TestPayoutToDriver_Success(t *testing.T) {
	participant := &models.Participant{
		ID:            uuid.New(),
		TripID:        uuid.New(),
		Role:          models.ParticipantDriver,
		PaymentStatus: models.PaymentPaid,
		AmountDue:     100,
		Currency:      "ZAR",
	}

	repo := new(mockRepository)
	repo.On("GetParticipant", mock.Anything, participant.ID).Return(participant, nil)
	repo.On("SetPayoutStatus", mock.Anything, participant.ID, models.PayoutPaid).Return(nil)

	stripeClient := new(mockStripeClient)
	stripeClient.On("CreateTransfer", int64(10000), "ZAR", "acct_driver", mock.Anything, mock.Anything).
		Return(&stripe.Transfer{ID: "tr_1"}, nil)

	svc := newTestService(repo, stripeClient, "", "development")

	err := svc.PayoutToDriver(context.Background(), participant.ID, "acct_driver")
	require.NoError(t, err)
	repo.AssertExpectations(t)
	stripeClient.AssertExpectations(t)
}

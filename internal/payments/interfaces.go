package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/carpoolhq/backend/pkg/models"
	"github.com/stripe/stripe-go/v83"
)

// RepositoryInterface is PaymentCoordinator's storage dependency (spec
// §4.6): reads and guarded-UPDATEs against the same trip_participants table
// InventoryStore owns, plus the audit log.
type RepositoryInterface interface {
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	GetParticipantForTripAndUser(ctx context.Context, tripID, userID uuid.UUID) (*models.Participant, error)
	GetTrip(ctx context.Context, tripID uuid.UUID) (*models.Trip, error)

	// SetPendingIntent is createIntent step 5's guarded UPDATE: only
	// succeeds when the participant has no pending intent yet.
	SetPendingIntent(ctx context.Context, participantID uuid.UUID, intentID string) (bool, error)

	// TransitionPaymentStatus is onWebhook's guarded UPDATE: succeeds only
	// when paymentIntentId matches and the current status is one of `from`.
	TransitionPaymentStatus(ctx context.Context, participantID uuid.UUID, intentID string, from []models.PaymentStatus, to models.PaymentStatus) (bool, error)

	SetPayoutStatus(ctx context.Context, participantID uuid.UUID, status models.PayoutStatus) error

	WriteAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// StripeClientInterface defines the interface for Stripe operations
type StripeClientInterface interface {
	CreateCustomer(email, name string, metadata map[string]string) (*stripe.Customer, error)
	CreatePaymentIntent(amount int64, currency, customerID, description string, metadata map[string]string) (*stripe.PaymentIntent, error)
	ConfirmPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error)
	CapturePaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error)
	CreateRefund(chargeID string, amount *int64, reason string) (*stripe.Refund, error)
	CreateTransfer(amount int64, currency, destination, description string, metadata map[string]string) (*stripe.Transfer, error)
	GetPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(paymentIntentID string) (*stripe.PaymentIntent, error)
}

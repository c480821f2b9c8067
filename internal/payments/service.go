package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/eventbus"
	"github.com/carpoolhq/backend/pkg/idempotency"
	"github.com/carpoolhq/backend/pkg/logger"
	"github.com/carpoolhq/backend/pkg/models"
	"github.com/carpoolhq/backend/pkg/sse"
)

// webhookProvider names this coordinator's provider in the idempotency
// ledger's webhook namespace (spec §4.8) — distinct from other providers
// that might one day share the same ledger.
const webhookProvider = "stripe"

// Service is PaymentCoordinator (spec §4.6): intent creation against the
// payment provider with idempotent replay, and webhook ingress with
// at-most-once side-effect application.
type Service struct {
	repo          RepositoryInterface
	stripeClient  StripeClientInterface
	ledger        *idempotency.Ledger
	bus           *eventbus.Bus
	sseBus        *sse.Bus
	webhookSecret string
	isProduction  bool
}

// NewService builds a Service. webhookSecret is required in production;
// in any other environment a missing secret only downgrades signature
// verification to a logged warning (spec §4.6 step 1).
func NewService(repo RepositoryInterface, stripeClient StripeClientInterface, ledger *idempotency.Ledger, bus *eventbus.Bus, sseBus *sse.Bus, webhookSecret, environment string) *Service {
	return &Service{
		repo:          repo,
		stripeClient:  stripeClient,
		ledger:        ledger,
		bus:           bus,
		sseBus:        sseBus,
		webhookSecret: webhookSecret,
		isProduction:  environment == "production",
	}
}

// CreateIntentInput is createIntent's argument set (spec §4.6).
type CreateIntentInput struct {
	TripID         uuid.UUID
	UserID         uuid.UUID
	AmountMinor    int64
	IdempotencyKey string
}

// IntentResponse is what both a fresh and a replayed createIntent call
// return (spec §6's `POST /payments/intent` response shape).
type IntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Replay          bool   `json:"replay,omitempty"`
}

const idempotencyScope = "payments:intent"

// CreateIntent is createIntent (spec §4.6): the full precondition,
// replay-safety and guarded-update chain, in the order the spec lists them.
func (s *Service) CreateIntent(ctx context.Context, in CreateIntentInput) (*IntentResponse, error) {
	// Step 3: idempotency-key replay, ahead of any provider call.
	if in.IdempotencyKey != "" && s.ledger != nil {
		if rec, ok := s.ledger.CheckRequest(ctx, idempotencyScope, in.UserID.String(), in.IdempotencyKey); ok {
			var resp IntentResponse
			if err := json.Unmarshal(rec.Response, &resp); err == nil {
				resp.Replay = true
				return &resp, nil
			}
		}
	}

	// Step 1: participant must be an accepted rider.
	participant, err := s.repo.GetParticipantForTripAndUser(ctx, in.TripID, in.UserID)
	if err != nil {
		return nil, common.NewNotFoundError("participant not found", err)
	}
	if participant.Status != models.ParticipantAccepted || participant.Role != models.ParticipantRider {
		return nil, common.NewConflictError("booking is not in a payable state")
	}

	// Step 2: exact-amount check.
	trip, err := s.repo.GetTrip(ctx, in.TripID)
	if err != nil {
		return nil, common.NewNotFoundError("trip not found", err)
	}
	expected := int64(math.Round(trip.PricePerSeat * 100 * float64(participant.SeatsHeld)))
	if in.AmountMinor != expected {
		return nil, common.NewValidationError("amount does not match trip price")
	}

	// Step 4: an existing pending intent is replay-safe — fetch and return it.
	if participant.PaymentIntentID != "" && participant.PaymentStatus == models.PaymentPending {
		pi, err := s.stripeClient.GetPaymentIntent(participant.PaymentIntentID)
		if err != nil {
			return nil, common.NewPaymentError("failed to retrieve existing payment intent", err)
		}
		resp := intentResponseFromStripe(pi)
		s.recordReplay(ctx, in, resp)
		return resp, nil
	}

	// Step 5: create a new intent at the provider, then guard the write.
	pi, err := s.stripeClient.CreatePaymentIntent(in.AmountMinor, "zar", "", "trip booking", map[string]string{
		"tripId":    in.TripID.String(),
		"userId":    in.UserID.String(),
		"bookingId": participant.ID.String(),
	})
	if err != nil {
		return nil, common.NewPaymentError("failed to create payment intent", err)
	}

	ok, err := s.repo.SetPendingIntent(ctx, participant.ID, pi.ID)
	if err != nil {
		return nil, common.NewInternalError("failed to persist payment intent", err)
	}
	if !ok {
		// Another writer won the race; re-read whatever they wrote.
		fresh, err := s.repo.GetParticipant(ctx, participant.ID)
		if err != nil || fresh.PaymentIntentID == "" {
			return nil, common.NewInternalError("failed to resolve concurrent payment intent", err)
		}
		remote, err := s.stripeClient.GetPaymentIntent(fresh.PaymentIntentID)
		if err != nil {
			return nil, common.NewPaymentError("failed to retrieve concurrent payment intent", err)
		}
		resp := intentResponseFromStripe(remote)
		s.recordReplay(ctx, in, resp)
		return resp, nil
	}

	resp := intentResponseFromStripe(pi)
	s.recordReplay(ctx, in, resp)
	return resp, nil
}

func intentResponseFromStripe(pi *stripe.PaymentIntent) *IntentResponse {
	return &IntentResponse{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
	}
}

// recordReplay persists the response under the client's idempotency key so
// a retried request within the TTL replays byte-for-byte (spec §4.6 step 6,
// §8 invariant 6).
func (s *Service) recordReplay(ctx context.Context, in CreateIntentInput, resp *IntentResponse) {
	if in.IdempotencyKey == "" || s.ledger == nil {
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		logger.Get().Sugar().Warnf("payments: failed to marshal intent response for idempotency record: %v", err)
		return
	}
	s.ledger.RecordRequest(ctx, idempotencyScope, in.UserID.String(), in.IdempotencyKey, 201, body)
}

// webhookObject is the subset of Stripe's payment_intent object this
// coordinator reads (spec §4.6 step 2).
type webhookObject struct {
	ID       string
	Amount   int64
	Metadata map[string]string
}

func parseWebhookObject(raw map[string]interface{}) webhookObject {
	var obj webhookObject
	if id, ok := raw["id"].(string); ok {
		obj.ID = id
	}
	if amount, ok := raw["amount"].(float64); ok {
		obj.Amount = int64(amount)
	}
	obj.Metadata = make(map[string]string)
	if metadata, ok := raw["metadata"].(map[string]interface{}); ok {
		for k, v := range metadata {
			if s, ok := v.(string); ok {
				obj.Metadata[k] = s
			}
		}
	}
	return obj
}

// WebhookResult is onWebhook's response shape.
type WebhookResult struct {
	Received bool `json:"received"`
	Replay   bool `json:"replay,omitempty"`
}

// OnWebhook is onWebhook (spec §4.6): HMAC-verify, decode, replay-gate,
// dispatch, then mark seen last of all so a crash mid-handler leaves the
// event eligible for redelivery rather than silently swallowed.
func (s *Service) OnWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	event, err := s.verifyAndParse(body, signature)
	if err != nil {
		return nil, common.NewBadRequestError("invalid webhook signature", err)
	}

	if s.ledger != nil && s.ledger.CheckWebhook(ctx, webhookProvider, event.ID) {
		return &WebhookResult{Received: true, Replay: true}, nil
	}

	var obj webhookObject
	if event.Data != nil && event.Data.Object != nil {
		obj = parseWebhookObject(event.Data.Object)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		if err := s.handleSucceeded(ctx, obj); err != nil {
			return nil, err
		}
	case "payment_intent.payment_failed":
		s.handleGuardedTransition(ctx, obj, []models.PaymentStatus{models.PaymentPending}, models.PaymentFailed)
	case "payment_intent.canceled":
		s.handleGuardedTransition(ctx, obj, []models.PaymentStatus{models.PaymentPending}, models.PaymentCanceled)
	default:
		logger.Get().Sugar().Debugf("payments: ignoring unhandled webhook type %s", event.Type)
	}

	if s.ledger != nil {
		s.ledger.MarkWebhookSeen(ctx, webhookProvider, event.ID)
	}

	return &WebhookResult{Received: true}, nil
}

func (s *Service) verifyAndParse(body []byte, signature string) (*stripe.Event, error) {
	if s.webhookSecret == "" {
		if s.isProduction {
			return nil, fmt.Errorf("webhook secret not configured")
		}
		logger.Get().Warn("payments: STRIPE_WEBHOOK_SECRET not configured, skipping signature verification in development")
		var event stripe.Event
		if err := json.Unmarshal(body, &event); err != nil {
			return nil, err
		}
		return &event, nil
	}

	event, err := webhook.ConstructEvent(body, signature, s.webhookSecret)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Service) handleSucceeded(ctx context.Context, obj webhookObject) error {
	bookingID, err := uuid.Parse(obj.Metadata["bookingId"])
	if err != nil {
		logger.Get().Sugar().Warnf("payments: succeeded webhook missing bookingId metadata for intent %s", obj.ID)
		return nil
	}

	participant, err := s.repo.GetParticipant(ctx, bookingID)
	if err != nil {
		logger.Get().Sugar().Warnf("payments: succeeded webhook references unknown participant %s", bookingID)
		return nil
	}
	if participant.PaymentIntentID != obj.ID {
		logger.Get().Sugar().Warnf("payments: succeeded webhook intent mismatch for participant %s", bookingID)
		return nil
	}
	if tripID, ok := obj.Metadata["tripId"]; ok && tripID != participant.TripID.String() {
		return nil
	}
	if userID, ok := obj.Metadata["userId"]; ok && userID != participant.UserID.String() {
		return nil
	}

	ok, err := s.repo.TransitionPaymentStatus(ctx, participant.ID, obj.ID,
		[]models.PaymentStatus{models.PaymentPending, models.PaymentFailed, models.PaymentCanceled},
		models.PaymentPaid,
	)
	if err != nil {
		return common.NewInternalError("failed to apply payment success", err)
	}
	if !ok {
		// Stale relative to a transition already applied; nothing to do.
		return nil
	}

	s.publishPaymentEvent(eventbus.SubjectPaymentSucceeded, sse.TopicPaymentSucceeded, eventbus.PaymentSucceededData{
		ParticipantID:   participant.ID,
		TripID:          participant.TripID,
		RiderID:         participant.UserID,
		PaymentIntentID: obj.ID,
		AmountMinor:     obj.Amount,
		Currency:        participant.Currency,
		CompletedAt:     time.Now().UTC(),
	}, participant.UserID)

	if err := s.repo.WriteAuditLog(ctx, &models.AuditLog{
		ActorID:    nil,
		Action:     "PAYMENT_SUCCEEDED",
		EntityType: "participant",
		EntityID:   participant.ID,
		Metadata:   map[string]interface{}{"paymentIntentId": obj.ID, "amountMinor": obj.Amount},
	}); err != nil {
		logger.Get().Sugar().Warnf("payments: failed to write audit log for participant %s: %v", participant.ID, err)
	}

	return nil
}

func (s *Service) handleGuardedTransition(ctx context.Context, obj webhookObject, from []models.PaymentStatus, to models.PaymentStatus) {
	bookingID, err := uuid.Parse(obj.Metadata["bookingId"])
	if err != nil {
		logger.Get().Sugar().Warnf("payments: webhook missing bookingId metadata for intent %s", obj.ID)
		return
	}

	participant, err := s.repo.GetParticipant(ctx, bookingID)
	if err != nil {
		logger.Get().Sugar().Warnf("payments: webhook references unknown participant %s", bookingID)
		return
	}

	ok, err := s.repo.TransitionPaymentStatus(ctx, participant.ID, obj.ID, from, to)
	if err != nil {
		logger.Get().Sugar().Warnf("payments: failed to transition participant %s to %s: %v", participant.ID, to, err)
		return
	}
	if !ok {
		return
	}

	if to == models.PaymentFailed {
		s.publishPaymentEvent(eventbus.SubjectPaymentFailed, sse.TopicPaymentFailed, eventbus.PaymentFailedData{
			ParticipantID:   participant.ID,
			TripID:          participant.TripID,
			RiderID:         participant.UserID,
			PaymentIntentID: obj.ID,
			FailedAt:        time.Now().UTC(),
		}, participant.UserID)
	}
}

// PayoutToDriver is the supplemental driver-payout flow (SPEC_FULL §14.4):
// transfers a completed trip's proceeds to the driver via the provider.
// Unconditional write, not a BookingFSM-guarded transition, since there is
// no concurrent writer racing a single operator-triggered payout.
func (s *Service) PayoutToDriver(ctx context.Context, participantID uuid.UUID, destinationAccountID string) error {
	participant, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return common.NewNotFoundError("participant not found", err)
	}
	if participant.Role != models.ParticipantDriver {
		return common.NewValidationError("payout target must be the trip's driver")
	}
	if participant.PaymentStatus != models.PaymentPaid {
		return common.NewConflictError("trip has not been paid for yet")
	}

	amountMinor := int64(math.Round(participant.AmountDue * 100))
	if _, err := s.stripeClient.CreateTransfer(amountMinor, participant.Currency, destinationAccountID, "driver payout", map[string]string{
		"participantId": participant.ID.String(),
		"tripId":        participant.TripID.String(),
	}); err != nil {
		if setErr := s.repo.SetPayoutStatus(ctx, participant.ID, models.PayoutFailed); setErr != nil {
			logger.Get().Sugar().Warnf("payments: failed to record failed payout for %s: %v", participant.ID, setErr)
		}
		return common.NewPaymentError("failed to transfer payout to driver", err)
	}

	if err := s.repo.SetPayoutStatus(ctx, participant.ID, models.PayoutPaid); err != nil {
		return common.NewInternalError("failed to record payout", err)
	}
	return nil
}

func (s *Service) publishPaymentEvent(subject, topic string, data interface{}, targetUserIDs ...uuid.UUID) {
	if s.sseBus != nil {
		s.sseBus.Emit(topic, data, targetUserIDs...)
	}

	if s.bus == nil {
		return
	}
	go func() {
		evt, err := eventbus.NewEvent(subject, "payments-service", data)
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

package payments

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/jwtkeys"
	"github.com/carpoolhq/backend/pkg/logger"
	"github.com/carpoolhq/backend/pkg/middleware"
)

// Handler is the gin binding for PaymentCoordinator's REST surface (spec §6).
type Handler struct {
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createIntentRequest struct {
	TripID      uuid.UUID `json:"tripId" binding:"required"`
	AmountMinor int64     `json:"amount" binding:"required"`
}

// CreateIntent handles POST /payments/intent.
func (h *Handler) CreateIntent(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	resp, err := h.service.CreateIntent(c.Request.Context(), CreateIntentInput{
		TripID:         req.TripID,
		UserID:         userID,
		AmountMinor:    req.AmountMinor,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.CreatedResponse(c, resp)
}

// HandleWebhook handles POST /payments/webhook. The body is read raw,
// before any JSON binding, because Stripe's signature is computed over the
// exact bytes sent — re-encoding the parsed JSON would invalidate it.
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, "failed to read request body")
		return
	}

	result, err := h.service.OnWebhook(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, result)
}

type payoutRequest struct {
	ParticipantID        uuid.UUID `json:"participantId" binding:"required"`
	DestinationAccountID string    `json:"destinationAccountId" binding:"required"`
}

// Payout handles POST /payments/payout (SPEC_FULL §14.4 supplemental).
func (h *Handler) Payout(c *gin.Context) {
	var req payoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	if err := h.service.PayoutToDriver(c.Request.Context(), req.ParticipantID, req.DestinationAccountID); err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"paidOut": true})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*common.AppError); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	logger.Get().Sugar().Errorf("payments: unexpected error: %v", err)
	common.ErrorResponse(c, http.StatusInternalServerError, common.ErrCodeInternal, "internal error")
}

// RegisterRoutes registers the payment routes. The webhook route carries no
// auth middleware — Stripe calls it directly and authenticity is instead
// established by HMAC signature verification inside the handler.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtProvider jwtkeys.KeyProvider) {
	api := r.Group("/api/v1")

	api.POST("/payments/webhook", h.HandleWebhook)

	payments := api.Group("/payments")
	payments.Use(middleware.AuthMiddlewareWithProvider(jwtProvider))
	{
		payments.POST("/intent", h.CreateIntent)
		payments.POST("/payout", h.Payout)
	}
}

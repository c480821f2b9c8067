package booking

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/jwtkeys"
	"github.com/carpoolhq/backend/pkg/middleware"
	"github.com/carpoolhq/backend/pkg/models"
)

// Handler is the gin binding for BookingFSM's REST surface (spec §6).
type Handler struct {
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type bookTripRequest struct {
	Pickup   models.Location `json:"pickup" binding:"required"`
	Dropoff  models.Location `json:"dropoff" binding:"required"`
	Seats    int             `json:"passengers" binding:"required,min=1,max=4"`
}

// BookTrip handles POST /trips/:id/book.
func (h *Handler) BookTrip(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, "invalid trip id")
		return
	}

	var req bookTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	participant, err := h.service.BookTrip(c.Request.Context(), BookTripInput{
		TripID:  tripID,
		UserID:  userID,
		Pickup:  req.Pickup,
		Dropoff: req.Dropoff,
		Seats:   req.Seats,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.CreatedResponse(c, participant)
}

// AcceptBooking handles POST /trips/:id/bookings/:bid/accept.
func (h *Handler) AcceptBooking(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	tripID, participantID, ok := h.parseTripAndBookingID(c)
	if !ok {
		return
	}

	participant, err := h.service.AcceptBooking(c.Request.Context(), tripID, participantID, actorID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, participant)
}

type rejectBookingRequest struct {
	Reason string `json:"reason"`
}

// RejectBooking handles POST /trips/:id/bookings/:bid/reject.
func (h *Handler) RejectBooking(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	tripID, participantID, ok := h.parseTripAndBookingID(c)
	if !ok {
		return
	}

	var req rejectBookingRequest
	_ = c.ShouldBindJSON(&req)

	participant, err := h.service.RejectBooking(c.Request.Context(), tripID, participantID, actorID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, participant)
}

// CancelBooking handles DELETE /trips/:id/bookings/:bid.
func (h *Handler) CancelBooking(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	tripID, participantID, ok := h.parseTripAndBookingID(c)
	if !ok {
		return
	}

	if err := h.service.CancelBooking(c.Request.Context(), tripID, participantID, actorID); err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"cancelled": true})
}

type cancelTripRequest struct {
	Reason string `json:"reason"`
}

// CancelTrip handles POST /trips/:id/cancel.
func (h *Handler) CancelTrip(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, "invalid trip id")
		return
	}

	var req cancelTripRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.service.CancelTrip(c.Request.Context(), tripID, actorID, req.Reason); err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"cancelled": true})
}

type rateTripRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

// RateTrip handles POST /trips/:id/rate.
func (h *Handler) RateTrip(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, "invalid trip id")
		return
	}

	var req rateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	if err := h.service.RateTrip(c.Request.Context(), tripID, userID, req.Rating, []byte(req.Comment)); err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"rated": true})
}

// ListAvailableTrips handles GET /trips/available.
func (h *Handler) ListAvailableTrips(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	trips, err := h.service.ListAvailableTrips(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, trips)
}

func (h *Handler) parseTripAndBookingID(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, "invalid trip id")
		return uuid.UUID{}, uuid.UUID{}, false
	}
	bookingID, err := uuid.Parse(c.Param("bid"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, "invalid booking id")
		return uuid.UUID{}, uuid.UUID{}, false
	}
	return tripID, bookingID, true
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*common.AppError); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, common.ErrCodeInternal, "internal error")
}

// RegisterRoutes registers the booking routes.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtProvider jwtkeys.KeyProvider) {
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddlewareWithProvider(jwtProvider))

	trips := api.Group("/trips")
	{
		trips.GET("/available", h.ListAvailableTrips)
		trips.POST("/:id/book", h.BookTrip)
		trips.POST("/:id/bookings/:bid/accept", h.AcceptBooking)
		trips.POST("/:id/bookings/:bid/reject", h.RejectBooking)
		trips.DELETE("/:id/bookings/:bid", h.CancelBooking)
		trips.POST("/:id/cancel", h.CancelTrip)
		trips.POST("/:id/rate", h.RateTrip)
	}
}

package matching

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carpoolhq/backend/pkg/common"
	"github.com/carpoolhq/backend/pkg/jwtkeys"
	"github.com/carpoolhq/backend/pkg/middleware"
	"github.com/carpoolhq/backend/pkg/models"
)

// Handler is the gin binding for MatchEngine/MatchStore's REST surface
// (spec §4.2/§4.3, §6).
type Handler struct {
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// PostDriverTrip handles POST /matching/driver-trips.
func (h *Handler) PostDriverTrip(c *gin.Context) {
	driverID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	var req PostDriverTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	trip, err := h.service.PostDriverTrip(c.Request.Context(), driverID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	common.CreatedResponse(c, trip)
}

// PostRiderRequest handles POST /matching/rider-requests.
func (h *Handler) PostRiderRequest(c *gin.Context) {
	riderID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	var req PostRiderRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	rr, err := h.service.PostRiderRequest(c.Request.Context(), riderID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	common.CreatedResponse(c, rr)
}

type findMatchesResponse struct {
	Matches []*models.MatchResult `json:"matches"`
	Meta    FindMatchesMeta       `json:"meta"`
}

// FindMatches handles POST /matching/find.
func (h *Handler) FindMatches(c *gin.Context) {
	riderID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	var req FindMatchesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	result, err := h.service.FindMatches(c.Request.Context(), riderID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	common.SuccessResponse(c, findMatchesResponse{Matches: result.Matches, Meta: result.Meta})
}

// FindPool handles POST /matching/find-pool.
func (h *Handler) FindPool(c *gin.Context) {
	riderID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	var req FindMatchesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	assignment, err := h.service.FindPool(c.Request.Context(), riderID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	common.SuccessResponse(c, assignment)
}

// ConfirmMatch handles POST /matching/confirm.
func (h *Handler) ConfirmMatch(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	var req ConfirmMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	match, err := h.service.ConfirmMatch(c.Request.Context(), actorID, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	common.SuccessResponse(c, match)
}

// RejectMatch handles POST /matching/reject.
func (h *Handler) RejectMatch(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, common.ErrCodeAuthentication, "unauthorized")
		return
	}

	var req RejectMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, common.ErrCodeValidation, err.Error())
		return
	}

	if err := h.service.RejectMatch(c.Request.Context(), actorID, req); err != nil {
		h.respondError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"rejected": true})
}

// Stats handles GET /matching/stats, an admin-only telemetry snapshot of the
// matcher's rejection funnel (spec §4.3).
func (h *Handler) Stats(c *gin.Context) {
	common.SuccessResponse(c, h.service.Stats())
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*common.AppError); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, common.ErrCodeInternal, "internal error")
}

// RegisterRoutes registers the matching routes.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtProvider jwtkeys.KeyProvider) {
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddlewareWithProvider(jwtProvider))

	m := api.Group("/matching")
	{
		m.POST("/driver-trips", h.PostDriverTrip)
		m.POST("/rider-requests", h.PostRiderRequest)
		m.POST("/find", h.FindMatches)
		m.POST("/find-pool", h.FindPool)
		m.POST("/confirm", h.ConfirmMatch)
		m.POST("/reject", h.RejectMatch)
		m.GET("/stats", middleware.RequireRole(models.RoleAdmin), h.Stats)
	}
}

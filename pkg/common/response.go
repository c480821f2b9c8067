package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/carpoolhq/backend/pkg/logger"
)

// Response is the standard API envelope. Error responses render exactly
// spec §6's {"error":{"code","message"}} shape on the wire; Success/Meta/
// CorrelationID are additive and ignored by clients that only check `error`.
type Response struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	Meta          *Meta       `json:"meta,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// ErrorInfo is the wire shape of an error: a stable machine code plus a
// human-readable message. Never includes provider/DB error text (§7).
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta carries pagination/listing metadata.
type Meta struct {
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
	Total      int64       `json:"total,omitempty"`
	TotalPages int         `json:"total_pages,omitempty"`
	Replay     bool        `json:"replay,omitempty"`
	Stats      interface{} `json:"stats,omitempty"`
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func SuccessResponseWithStatus(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// ErrorResponse sends a plain-message error with an explicit HTTP status and
// machine code (used at request-parsing boundaries before an AppError exists).
func ErrorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, Response{
		Success:       false,
		Error:         &ErrorInfo{Code: code, Message: message},
		CorrelationID: logger.CorrelationIDFromContext(c.Request.Context()),
	})
}

func NoRouteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, Response{
			Success:       false,
			Error:         &ErrorInfo{Code: ErrCodeNotFound, Message: "route not found"},
			CorrelationID: logger.CorrelationIDFromContext(c.Request.Context()),
		})
	}
}

func NoMethodHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, Response{
			Success:       false,
			Error:         &ErrorInfo{Code: ErrCodeValidation, Message: "method not allowed"},
			CorrelationID: logger.CorrelationIDFromContext(c.Request.Context()),
		})
	}
}

// AppErrorResponse renders an AppError using its HTTP status and machine code.
func AppErrorResponse(c *gin.Context, err *AppError) {
	c.JSON(err.Code, Response{
		Success:       false,
		Error:         &ErrorInfo{Code: err.ErrorCode, Message: err.Message},
		CorrelationID: logger.CorrelationIDFromContext(c.Request.Context()),
	})
}

// ReplayResponse renders a successful response that was served from the
// idempotency ledger instead of being freshly computed (§4.6/§4.8).
func ReplayResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Replay: true},
	})
}

package common

import (
	"errors"
	"net/http"
)

// Sentinel errors used internally for error-chain comparisons (errors.Is).
var (
	ErrNotFound           = errors.New("resource not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrBadRequest         = errors.New("bad request")
	ErrInternalServer     = errors.New("internal server error")
	ErrConflict           = errors.New("resource conflict")
	ErrValidation         = errors.New("validation error")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Machine error codes. These are the exact strings returned in the wire
// envelope's error.code field (spec §6/§7) — never change a value without
// updating every caller that compares against it.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeAuthentication     = "AUTHENTICATION_ERROR"
	ErrCodeAuthorization      = "AUTHORIZATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeIdempotencyReplay  = "IDEMPOTENCY_REPLAY"
	ErrCodePaymentUnavailable = "PAYMENT_UNAVAILABLE"
	ErrCodePaymentError       = "PAYMENT_ERROR"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeNotImplemented     = "NOT_IMPLEMENTED"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// AppError represents an application error carrying both the HTTP status to
// reply with and the stable machine code the client can branch on. Err holds
// the underlying cause for logging; it is never serialised to the client.
type AppError struct {
	Code      int    `json:"-"`
	ErrorCode string `json:"code"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code int, errorCode, message string, err error) *AppError {
	return &AppError{Code: code, ErrorCode: errorCode, Message: message, Err: err}
}

func NewNotFoundError(message string, err error) *AppError {
	return &AppError{Code: http.StatusNotFound, ErrorCode: ErrCodeNotFound, Message: message, Err: err}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, ErrorCode: ErrCodeAuthentication, Message: message, Err: ErrUnauthorized}
}

func NewBadRequestError(message string, err error) *AppError {
	return &AppError{Code: http.StatusBadRequest, ErrorCode: ErrCodeValidation, Message: message, Err: err}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, ErrorCode: ErrCodeValidation, Message: message, Err: ErrValidation}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{Code: http.StatusForbidden, ErrorCode: ErrCodeAuthorization, Message: message, Err: ErrForbidden}
}

func NewConflictError(message string) *AppError {
	return &AppError{Code: http.StatusConflict, ErrorCode: ErrCodeConflict, Message: message, Err: ErrConflict}
}

// NewIdempotencyReplayError signals that a request with this Idempotency-Key
// was already processed with a different fingerprint (§4.8).
func NewIdempotencyReplayError(message string) *AppError {
	return &AppError{Code: http.StatusConflict, ErrorCode: ErrCodeIdempotencyReplay, Message: message}
}

func NewPayloadTooLargeError(message string) *AppError {
	return &AppError{Code: http.StatusRequestEntityTooLarge, ErrorCode: ErrCodePayloadTooLarge, Message: message}
}

// NewPaymentUnavailableError signals a misconfigured or unreachable payment
// provider (§6: missing optional var degrades that feature to 503).
func NewPaymentUnavailableError(message string) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, ErrorCode: ErrCodePaymentUnavailable, Message: message}
}

// NewPaymentError wraps a failure from the payment provider itself (§4.6:
// intent creation failure is surfaced as PAYMENT_ERROR, 5xx, client retries
// with the same Idempotency-Key).
func NewPaymentError(message string, err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, ErrorCode: ErrCodePaymentError, Message: message, Err: err}
}

// NewConfigurationError signals a missing required environment variable or
// dependency (§6).
func NewConfigurationError(message string) *AppError {
	return &AppError{Code: http.StatusInternalServerError, ErrorCode: ErrCodeConfiguration, Message: message}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, ErrorCode: ErrCodeInternal, Message: message, Err: err}
}

func NewInternalServerError(message string) *AppError {
	return &AppError{Code: http.StatusInternalServerError, ErrorCode: ErrCodeInternal, Message: message, Err: ErrInternalServer}
}

func NewNotImplementedError(message string) *AppError {
	return &AppError{Code: http.StatusNotImplemented, ErrorCode: ErrCodeNotImplemented, Message: message}
}

func NewServiceUnavailableError(message string) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, ErrorCode: ErrCodePaymentUnavailable, Message: message, Err: errors.New("service unavailable")}
}

func NewTooManyRequestsError(message string) *AppError {
	return &AppError{Code: http.StatusTooManyRequests, ErrorCode: ErrCodeRateLimited, Message: message, Err: errors.New("rate limit exceeded")}
}

// NewErrorWithCode creates an AppError with an arbitrary (HTTP status, machine code) pair.
func NewErrorWithCode(httpCode int, errorCode, message string, err error) *AppError {
	return &AppError{Code: httpCode, ErrorCode: errorCode, Message: message, Err: err}
}

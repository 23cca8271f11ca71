package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// APIError is the JSON error body for the local HTTP API. It doubles as
// an error value and a render.Renderer, so handlers return it directly.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// ValidationError pins a validation failure to a single request field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates an APIError
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates an APIError carrying a details payload
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Responses shared across the API surface. Auth-specific failures go
// through MapAuthError instead.
var (
	ErrInvalidRequest    = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrValidationFailed  = New(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed")
	ErrNotFound          = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
	ErrInternalServer    = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// InvalidRequestWithError is ErrInvalidRequest with the parse or bind
// failure attached as details.
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(ErrInvalidRequest.StatusCode, ErrInvalidRequest.ErrorCode,
		ErrInvalidRequest.Message, err.Error())
}

// ErrValidation is ErrValidationFailed with the offending field attached
// as details.
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(ErrValidationFailed.StatusCode, ErrValidationFailed.ErrorCode,
		ErrValidationFailed.Message, ValidationError{
			Field:   field,
			Message: message,
		})
}

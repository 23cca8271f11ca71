package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the authorization subsystem
var (
	// ErrLoginInFlight is returned when a login call arrives while another
	// login is still outstanding.
	ErrLoginInFlight = errors.New("login already in progress")

	// ErrVerificationRejected marks a structured rejection from the
	// verification service.
	ErrVerificationRejected = errors.New("verification rejected")

	// ErrTransportFailure marks a network or parse failure before a
	// structured response was obtained.
	ErrTransportFailure = errors.New("network request failed")

	// ErrCacheCorrupt marks a persisted entitlement that failed to parse
	// or failed its signature check.
	ErrCacheCorrupt = errors.New("cached entitlement is corrupt")

	// ErrCacheExpired marks a persisted entitlement that parsed but
	// failed the expiry check.
	ErrCacheExpired = errors.New("cached entitlement has expired")

	// ErrNotActivated is returned when an operation requires an active
	// entitlement and none is present.
	ErrNotActivated = errors.New("no active entitlement")

	// ErrTooManyAttempts is returned when the local login rate limit
	// has been exhausted.
	ErrTooManyAttempts = errors.New("too many login attempts")
)

// RejectionError carries the server-supplied reason for a failed
// verification. It wraps ErrVerificationRejected so callers can match the
// class with errors.Is while still reading the message.
type RejectionError struct {
	Code    int
	Message string
}

// Error implements the error interface
func (e *RejectionError) Error() string {
	if e.Message == "" {
		return "verification failed"
	}
	return e.Message
}

// Unwrap allows errors.Is(err, ErrVerificationRejected)
func (e *RejectionError) Unwrap() error {
	return ErrVerificationRejected
}

// NewRejection creates a RejectionError from a verifier response
func NewRejection(code int, msg string) *RejectionError {
	return &RejectionError{Code: code, Message: msg}
}

// NewTransportFailure wraps a transport-level cause so the failure class is
// matchable while the cause stays inspectable.
func NewTransportFailure(cause error) error {
	if cause == nil {
		return ErrTransportFailure
	}
	return fmt.Errorf("%w: %v", ErrTransportFailure, cause)
}

// IsRejected reports whether err is a structured verifier rejection
func IsRejected(err error) bool {
	return errors.Is(err, ErrVerificationRejected)
}

// IsTransport reports whether err is a transport-level failure
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransportFailure)
}

// RejectionMessage extracts the server-supplied message from a rejection,
// falling back to the generic reason.
func RejectionMessage(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Error()
	}
	return "verification failed"
}

// MapAuthError converts an auth subsystem error into an APIError for the
// HTTP layer.
func MapAuthError(err error) *APIError {
	switch {
	case errors.Is(err, ErrLoginInFlight):
		return New(http.StatusConflict, "LOGIN_IN_FLIGHT", "A login attempt is already in progress")
	case errors.Is(err, ErrTooManyAttempts):
		return New(http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many login attempts. Please wait before trying again")
	case errors.Is(err, ErrVerificationRejected):
		return NewWithDetails(http.StatusUnauthorized, "VERIFICATION_REJECTED", RejectionMessage(err), nil)
	case errors.Is(err, ErrTransportFailure):
		return New(http.StatusServiceUnavailable, "NETWORK_ERROR", "Unable to reach the verification service. Please check your connection")
	case errors.Is(err, ErrNotActivated):
		return New(http.StatusUnauthorized, "NOT_ACTIVATED", "No entitlement has been activated on this device")
	default:
		return ErrInternalServer
	}
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrOrderNotFound    = errors.New("order_not_found")
	ErrStatusConflict   = errors.New("status_conflict")
)

// GatewayError is an upstream failure with a stable internal code. The
// gateway's own error text is kept for logs only and never surfaced to
// callers verbatim.
type GatewayError struct {
	Code       string
	StatusCode int
	Retryable  bool
	cause      error
}

func (e *GatewayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("gateway %s (status %d): %v", e.Code, e.StatusCode, e.cause)
	}
	return fmt.Sprintf("gateway %s (status %d)", e.Code, e.StatusCode)
}

func (e *GatewayError) Unwrap() error { return e.cause }

func NewGatewayError(code string, statusCode int, retryable bool, cause error) *GatewayError {
	return &GatewayError{
		Code:       code,
		StatusCode: statusCode,
		Retryable:  retryable,
		cause:      cause,
	}
}

// IsGatewayError reports whether err is (or wraps) a GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

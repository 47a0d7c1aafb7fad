package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopstack/payflow/internal/config"
	paymentdomain "github.com/shopstack/payflow/internal/payment/domain"
)

var ErrRateLimited = errors.New("rate_limited")

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// ErrorHandlingMiddleware converts errors attached to the gin context into
// the JSON error envelope. Handlers that already wrote a response are left
// alone.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// mapError translates domain errors into HTTP status codes and stable public
// messages. Upstream gateway error text never reaches the caller verbatim.
func mapError(err error) (int, errorResponse) {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidCurrency),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return http.StatusBadRequest, errorResponse{
			Error: "validation error",
			Code:  publicCode(err),
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorResponse{
			Error: "invalid webhook signature",
			Code:  "invalid_signature",
		}
	case errors.Is(err, paymentdomain.ErrOrderNotFound):
		return http.StatusNotFound, errorResponse{
			Error: "order not found",
			Code:  "order_not_found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{
			Error: "too many requests",
			Code:  "rate_limited",
		}
	case errors.Is(err, config.ErrMissingGatewayCredentials):
		return http.StatusInternalServerError, errorResponse{
			Error: "payment gateway is not configured",
			Code:  "configuration_error",
		}
	}

	if gwErr, ok := paymentdomain.IsGatewayError(err); ok {
		return http.StatusInternalServerError, errorResponse{
			Error: "payment gateway request failed",
			Code:  gwErr.Code,
		}
	}

	return http.StatusInternalServerError, errorResponse{
		Error: "internal server error",
		Code:  "internal_error",
	}
}

func publicCode(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, paymentdomain.ErrInvalidCurrency):
		return "invalid_currency"
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, paymentdomain.ErrInvalidEvent):
		return "invalid_event"
	default:
		return "invalid_request"
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code
// fields without exposing raw error text.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusBadRequest:
		return "validation_error", payload.Code
	case status == http.StatusUnauthorized:
		return "signature_error", payload.Code
	case status == http.StatusTooManyRequests:
		return "rate_limited", payload.Code
	case status >= http.StatusInternalServerError:
		return "internal_error", payload.Code
	default:
		return "request_error", payload.Code
	}
}

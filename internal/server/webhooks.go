package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/shopstack/payflow/internal/payment/domain"
	"go.uber.org/zap"
)

// HandlePaymentWebhook ingests gateway callbacks. The gateway redelivers on
// any non-2xx, so only signature and parse failures are rejected: duplicates,
// unknown orders and internal transition conflicts are acknowledged with 200
// after being logged, because a redelivery cannot resolve them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil || len(payload) == 0 {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	result, err := s.webhookSvc.Process(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, paymentdomain.ErrInvalidSignature),
			errors.Is(err, paymentdomain.ErrInvalidPayload),
			errors.Is(err, paymentdomain.ErrInvalidEvent):
			AbortWithError(c, err)
			return
		case errors.Is(err, paymentdomain.ErrOrderNotFound):
			s.log.Warn("webhook for unknown order acknowledged", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": "order not found, event ignored",
			})
			return
		case errors.Is(err, paymentdomain.ErrStatusConflict):
			s.log.Error("webhook reconciliation conflict acknowledged",
				zap.String("order_id", resultOrderID(result)),
				zap.Error(err),
			)
			c.JSON(http.StatusOK, gin.H{
				"success":  true,
				"message":  "event recorded, reconciliation pending",
				"order_id": resultOrderID(result),
			})
			return
		default:
			AbortWithError(c, err)
			return
		}
	}

	message := "webhook processed"
	if result.Duplicate {
		message = "duplicate event ignored"
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        message,
		"order_id":       result.OrderID,
		"payment_status": paymentStatusFor(result.Status),
	})
}

func resultOrderID(result *paymentdomain.ProcessingResult) string {
	if result == nil {
		return ""
	}
	return result.OrderID
}

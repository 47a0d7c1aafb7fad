package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/shopstack/payflow/internal/payment/domain"
	"go.uber.org/zap"
)

type createPaymentRequest struct {
	OrderData struct {
		Amount        json.Number `json:"amount"`
		Currency      string      `json:"currency"`
		CustomerID    string      `json:"customerId"`
		CustomerEmail string      `json:"customerEmail"`
		CustomerPhone string      `json:"customerPhone"`
		CustomerName  string      `json:"customerName"`
		ReturnURL     string      `json:"returnUrl"`
	} `json:"orderData"`
}

type verifyPaymentRequest struct {
	OrderID string `json:"orderId"`
}

func (s *Server) HandleCreatePayment(c *gin.Context) {
	if s.limiter.Enabled() && !s.limiter.Allow(c.Request.Context(), c.ClientIP()) {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "create-payment", "token_bucket")
		}
		AbortWithError(c, ErrRateLimited)
		return
	}

	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	amount, err := paymentdomain.MinorUnits(req.OrderData.Amount.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	session, err := s.sessionSvc.CreateSession(c.Request.Context(), paymentdomain.SessionRequest{
		Amount:        amount,
		Currency:      req.OrderData.Currency,
		CustomerID:    req.OrderData.CustomerID,
		CustomerEmail: req.OrderData.CustomerEmail,
		CustomerPhone: req.OrderData.CustomerPhone,
		CustomerName:  req.OrderData.CustomerName,
		ReturnURL:     req.OrderData.ReturnURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordSessionCreated(c.Request.Context(), session.Currency)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"payment_session_id": session.PaymentSessionID,
			"order_id":           session.OrderID,
			"order_amount":       json.Number(paymentdomain.FormatMinor(session.Amount)),
			"order_currency":     session.Currency,
		},
	})
}

func (s *Server) HandleVerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	result, err := s.verifySvc.Verify(c.Request.Context(), req.OrderID)
	if err != nil {
		s.log.Warn("payment verification failed",
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"order_id": result.OrderID,
			"status":   result.Status,
		},
		"payment_status": paymentStatusFor(result.Status),
		"order_status":   result.Status,
	})
}

// paymentStatusFor maps the local lifecycle state onto the gateway-facing
// status vocabulary the frontend expects.
func paymentStatusFor(status paymentdomain.OrderStatus) string {
	switch status {
	case paymentdomain.StatusConfirmed:
		return string(paymentdomain.EventSuccess)
	case paymentdomain.StatusFailed:
		return string(paymentdomain.EventFailed)
	case paymentdomain.StatusRefunded:
		return string(paymentdomain.EventRefunded)
	default:
		return string(paymentdomain.EventPending)
	}
}

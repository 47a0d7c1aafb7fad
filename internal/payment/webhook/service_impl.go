package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopstack/payflow/internal/config"
	"github.com/shopstack/payflow/internal/payment/domain"
	"github.com/shopstack/payflow/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	headerSignature = "x-webhook-signature"
	headerTimestamp = "x-webhook-timestamp"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Reconciler domain.Reconciler
}

type webhookService struct {
	log        *zap.Logger
	secret     string
	reconciler domain.Reconciler
}

func NewService(p Params) domain.WebhookService {
	return &webhookService{
		log:        p.Log.Named("payment.webhook"),
		secret:     p.Cfg.Gateway.WebhookSecret,
		reconciler: p.Reconciler,
	}
}

// webhookEnvelope mirrors the gateway's callback payload. Amounts arrive as
// decimal numbers; they are converted to minor units before reconciliation.
type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID       string      `json:"order_id"`
			OrderAmount   json.Number `json:"order_amount"`
			OrderCurrency string      `json:"order_currency"`
		} `json:"order"`
		Payment struct {
			CfPaymentID   json.Number `json:"cf_payment_id"`
			PaymentStatus string      `json:"payment_status"`
			PaymentAmount json.Number `json:"payment_amount"`
		} `json:"payment"`
	} `json:"data"`
}

// Process verifies, parses, and reconciles a gateway callback. Signature
// failures surface as ErrInvalidSignature so the transport can answer 401;
// every other outcome is reconciled and acknowledged.
func (s *webhookService) Process(ctx context.Context, payload []byte, headers http.Header) (*domain.ProcessingResult, error) {
	verified, err := s.verifySignature(payload, headers)
	if err != nil {
		return nil, err
	}

	event, err := parseEvent(payload)
	if err != nil {
		return nil, err
	}

	result, err := s.reconciler.Apply(ctx, event)
	if result != nil {
		result.Verified = verified
	}
	return result, err
}

// verifySignature checks the HMAC-SHA256 signature over timestamp+payload.
// With no secret configured verification is skipped; the event is still
// processed but flagged unverified.
func (s *webhookService) verifySignature(payload []byte, headers http.Header) (bool, error) {
	if s.secret == "" {
		s.log.Warn("webhook secret not configured, accepting unverified event")
		return false, nil
	}

	signature := strings.TrimSpace(headers.Get(headerSignature))
	timestamp := strings.TrimSpace(headers.Get(headerTimestamp))
	if signature == "" {
		return false, domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		s.log.Warn("webhook signature mismatch",
			zap.String("timestamp", timestamp),
		)
		return false, domain.ErrInvalidSignature
	}
	return true, nil
}

func parseEvent(payload []byte) (*domain.PaymentEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	orderID := strings.TrimSpace(envelope.Data.Order.OrderID)
	if orderID == "" {
		return nil, domain.ErrInvalidPayload
	}

	status, err := mapEventStatus(envelope.Type, envelope.Data.Payment.PaymentStatus)
	if err != nil {
		return nil, err
	}

	event := &domain.PaymentEvent{
		OrderID:          orderID,
		GatewayPaymentID: envelope.Data.Payment.CfPaymentID.String(),
		ReportedStatus:   status,
		Currency:         strings.ToUpper(strings.TrimSpace(envelope.Data.Order.OrderCurrency)),
		Source:           domain.SourceWebhook,
		ReceivedAt:       time.Now().UTC(),
		PayloadDigest:    service.Digest(payload),
		RawPayload:       payload,
	}

	amountStr := envelope.Data.Payment.PaymentAmount.String()
	if amountStr == "" {
		amountStr = envelope.Data.Order.OrderAmount.String()
	}
	if amount, convErr := domain.MinorUnits(amountStr); convErr == nil {
		event.Amount = amount
	}

	return event, nil
}

// mapEventStatus resolves the reported outcome from the envelope type first,
// falling back to the per-payment status field.
func mapEventStatus(eventType, paymentStatus string) (domain.EventStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case "PAYMENT_SUCCESS_WEBHOOK":
		return domain.EventSuccess, nil
	case "PAYMENT_FAILED_WEBHOOK", "PAYMENT_USER_DROPPED_WEBHOOK":
		return domain.EventFailed, nil
	case "PAYMENT_REFUND_SUCCESS", "REFUND_WEBHOOK":
		return domain.EventRefunded, nil
	}

	switch strings.ToUpper(strings.TrimSpace(paymentStatus)) {
	case "SUCCESS":
		return domain.EventSuccess, nil
	case "FAILED", "CANCELLED", "VOID", "USER_DROPPED":
		return domain.EventFailed, nil
	case "REFUNDED":
		return domain.EventRefunded, nil
	case "PENDING", "NOT_ATTEMPTED":
		return domain.EventPending, nil
	case "":
		return "", domain.ErrInvalidEvent
	default:
		return "", domain.ErrInvalidEvent
	}
}

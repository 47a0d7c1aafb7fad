package cashfree

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopstack/payflow/internal/config"
	"github.com/shopstack/payflow/internal/payment/domain"
	"go.uber.org/zap"
)

const (
	sandboxBaseURL    = "https://sandbox.cashfree.com/pg"
	productionBaseURL = "https://api.cashfree.com/pg"
)

type Client struct {
	cfg     config.GatewayConfig
	tuning  *config.TuningHolder
	log     *zap.Logger
	client  *http.Client
	baseURL string
}

func NewClient(cfg config.Config, tuning *config.TuningHolder, log *zap.Logger) domain.Gateway {
	baseURL := sandboxBaseURL
	if cfg.Gateway.IsProduction() {
		baseURL = productionBaseURL
	}
	return &Client{
		cfg:     cfg.Gateway,
		tuning:  tuning,
		log:     log.Named("gateway.cashfree"),
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

type createOrderPayload struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       *orderMeta      `json:"order_meta,omitempty"`
}

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	CustomerName  string `json:"customer_name,omitempty"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
}

type createOrderResult struct {
	CfOrderID        json.Number `json:"cf_order_id"`
	OrderID          string      `json:"order_id"`
	PaymentSessionID string      `json:"payment_session_id"`
	OrderStatus      string      `json:"order_status"`
}

type paymentEntry struct {
	CfPaymentID     json.Number `json:"cf_payment_id"`
	PaymentStatus   string      `json:"payment_status"`
	PaymentAmount   json.Number `json:"payment_amount"`
	PaymentCurrency string      `json:"payment_currency"`
	PaymentTime     string      `json:"payment_time"`
}

type gatewayErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// CreateOrder registers the order with the gateway and returns its
// correlation identifiers. The request is detached from caller cancellation:
// once the gateway may have committed the order, aborting locally would
// orphan the session, so the call runs to completion under its own timeout.
func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.CreateOrderResponse, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := createOrderPayload{
		OrderID:       req.OrderID,
		OrderAmount:   json.Number(domain.FormatMinor(req.Amount)),
		OrderCurrency: req.Currency,
		CustomerDetails: customerDetails{
			CustomerID:    req.CustomerID,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: req.CustomerPhone,
			CustomerName:  req.CustomerName,
		},
	}
	if req.ReturnURL != "" {
		payload.OrderMeta = &orderMeta{ReturnURL: req.ReturnURL}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	raw, err := c.doRequest(detached, http.MethodPost, "/orders", body)
	if err != nil {
		return nil, err
	}

	var result createOrderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, domain.NewGatewayError("gateway_invalid_response", http.StatusOK, false, err)
	}
	if strings.TrimSpace(result.PaymentSessionID) == "" {
		return nil, domain.NewGatewayError("gateway_missing_session", http.StatusOK, false, errors.New("payment_session_id absent"))
	}

	return &domain.CreateOrderResponse{
		GatewayOrderID:   result.CfOrderID.String(),
		PaymentSessionID: result.PaymentSessionID,
	}, nil
}

// GetOrderStatus polls the gateway's payments for an order and maps the
// latest attempt to a canonical event. Read-only, safe to retry.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.PaymentEvent, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	raw, err := c.doRequest(ctx, http.MethodGet, "/orders/"+orderID+"/payments", nil)
	if err != nil {
		return nil, err
	}

	var payments []paymentEntry
	if err := json.Unmarshal(raw, &payments); err != nil {
		return nil, domain.NewGatewayError("gateway_invalid_response", http.StatusOK, false, err)
	}

	event := &domain.PaymentEvent{
		OrderID:        orderID,
		ReportedStatus: domain.EventPending,
		Source:         domain.SourcePoll,
		ReceivedAt:     time.Now().UTC(),
	}
	if len(payments) == 0 {
		// No payment attempt yet: a valid pending state, not an error.
		event.PayloadDigest = pollDigest(orderID, "", string(domain.EventPending))
		return event, nil
	}

	// The gateway lists the newest attempt first, but a successful capture
	// wins regardless of where redelivery ordering put it.
	latest := payments[0]
	for _, p := range payments {
		if mapPaymentStatus(p.PaymentStatus) == domain.EventSuccess {
			latest = p
			break
		}
	}
	event.GatewayPaymentID = latest.CfPaymentID.String()
	event.ReportedStatus = mapPaymentStatus(latest.PaymentStatus)
	event.PayloadDigest = pollDigest(orderID, event.GatewayPaymentID, string(event.ReportedStatus))
	if amount, err := domain.MinorUnits(latest.PaymentAmount.String()); err == nil {
		event.Amount = amount
	}
	event.Currency = strings.ToUpper(strings.TrimSpace(latest.PaymentCurrency))
	if entry, err := json.Marshal(latest); err == nil {
		event.RawPayload = entry
	}
	return event, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	tuning := c.tuning.Get()

	var lastErr error
	for attempt := 0; attempt < tuning.GatewayRetryMax; attempt++ {
		if attempt > 0 {
			backoff := tuning.GatewayRetryBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		raw, retryable, err := c.do(ctx, method, path, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.log.Warn("gateway request retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	// Per-request deadline so a payments.yml reload takes effect on the
	// next call, not the next restart.
	ctx, cancel := context.WithTimeout(ctx, c.tuning.Get().GatewayTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-client-secret", c.cfg.ClientSecret)
	req.Header.Set("x-api-version", c.cfg.APIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Transport failure or timeout: retryable.
		return nil, true, domain.NewGatewayError("gateway_unreachable", 0, true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, domain.NewGatewayError("gateway_unreachable", resp.StatusCode, true, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, domain.NewGatewayError("gateway_unavailable", resp.StatusCode, true, decodeError(raw))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// A 4xx signals a request defect; retrying cannot fix it.
		code := "gateway_rejected"
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = "gateway_auth_failed"
		}
		return nil, false, domain.NewGatewayError(code, resp.StatusCode, false, decodeError(raw))
	}

	return raw, false, nil
}

func decodeError(raw []byte) error {
	var gwErr gatewayErrorResponse
	if err := json.Unmarshal(raw, &gwErr); err != nil || strings.TrimSpace(gwErr.Message) == "" {
		return errors.New("gateway_request_failed")
	}
	return errors.New(strings.TrimSpace(gwErr.Message))
}

func mapPaymentStatus(status string) domain.EventStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS":
		return domain.EventSuccess
	case "FAILED", "CANCELLED", "VOID", "USER_DROPPED":
		return domain.EventFailed
	case "REFUNDED":
		return domain.EventRefunded
	default:
		return domain.EventPending
	}
}

// pollDigest derives a stable digest for a polled state so repeated polls
// reporting the same payment outcome deduplicate against each other and
// against nothing else.
func pollDigest(orderID, paymentID, status string) string {
	sum := sha256.Sum256([]byte("poll|" + orderID + "|" + paymentID + "|" + status))
	return hex.EncodeToString(sum[:])
}

package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the order store. Status mutations go through UpdateStatus,
// a compare-and-swap keyed on the version the caller read.
type Repository interface {
	InsertOrder(ctx context.Context, db *gorm.DB, order *Order) error
	FindOrder(ctx context.Context, db *gorm.DB, id string) (*Order, error)
	FindOrderByGatewayID(ctx context.Context, db *gorm.DB, gatewayOrderID string) (*Order, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id string, fromVersion int64, to OrderStatus, gatewayPaymentID string, updatedAt time.Time) (bool, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, orderID, payloadDigest string) (*EventRecord, error)
	MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, appliedAt time.Time) error
	MarkAnomaly(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CountEvents(ctx context.Context, db *gorm.DB, orderID string) (int64, error)
}

// CreateOrderRequest is the outbound gateway order-creation call.
type CreateOrderRequest struct {
	OrderID       string
	Amount        int64
	Currency      string
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
	CustomerName  string
	ReturnURL     string
}

// CreateOrderResponse carries the gateway correlation identifiers.
type CreateOrderResponse struct {
	GatewayOrderID   string
	PaymentSessionID string
}

// Gateway is the typed client for the external payment gateway.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrderStatus(ctx context.Context, orderID string) (*PaymentEvent, error)
}

// SessionRequest is a validated-at-the-service create-session request.
// Amount is minor units; customer fields are defaulted when absent.
type SessionRequest struct {
	Amount        int64
	Currency      string
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
	CustomerName  string
	ReturnURL     string
}

// Session is the result of a successful createSession call.
type Session struct {
	OrderID          string
	GatewayOrderID   string
	PaymentSessionID string
	Amount           int64
	Currency         string
}

// SessionService creates payment sessions.
type SessionService interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// WebhookService ingests gateway callbacks.
type WebhookService interface {
	Process(ctx context.Context, payload []byte, headers http.Header) (*ProcessingResult, error)
}

// VerificationService reconciles an order on demand by polling the gateway
// when no webhook has arrived yet.
type VerificationService interface {
	Verify(ctx context.Context, orderID string) (*ProcessingResult, error)
}

// Reconciler applies a canonical payment event to the order store exactly
// once. Both the webhook and verification paths feed it.
type Reconciler interface {
	Apply(ctx context.Context, event *PaymentEvent) (*ProcessingResult, error)
}
